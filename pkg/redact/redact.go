package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret masks a credential for logging, keeping at most the last four characters.
func Secret(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	if len(in) <= 8 {
		return "****"
	}
	return "****" + in[len(in)-4:]
}

// Params copies a parameter map with the named keys masked by Secret.
// Key matching ignores case.
func Params(in map[string]string, secretKeys ...string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
		for _, sk := range secretKeys {
			if strings.EqualFold(k, sk) {
				out[k] = Secret(v)
				break
			}
		}
	}
	return out
}
