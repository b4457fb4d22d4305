package stt

import "testing"

func TestParseResultFinalWithSpeaker(t *testing.T) {
	msg := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" Hallo ","words":[{"word":"hallo","speaker":1}]}]}}`)
	r, err := ParseResult(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.IsFinal || r.Type != "Results" {
		t.Fatalf("unexpected flags %+v", r)
	}
	if r.Text() != "Hallo" {
		t.Fatalf("unexpected text %q", r.Text())
	}
	if r.Speaker == nil || *r.Speaker != 1 {
		t.Fatalf("expected speaker 1, got %v", r.Speaker)
	}
}

func TestParseResultWithoutWordsHasNoSpeaker(t *testing.T) {
	r, err := ParseResult([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"ja"}]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Speaker != nil {
		t.Fatalf("expected nil speaker")
	}
	if r.SpeakerOr(0) != 0 {
		t.Fatalf("expected fallback speaker")
	}
}

func TestParseResultNoAlternatives(t *testing.T) {
	r, err := ParseResult([]byte(`{"type":"Metadata"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Text() != "" {
		t.Fatalf("expected empty transcript")
	}
}

func TestParseResultRejectsGarbage(t *testing.T) {
	if _, err := ParseResult([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}
