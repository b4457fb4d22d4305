package frames

import "testing"

func TestEncodedAudioFrameTrack(t *testing.T) {
	f := NewEncodedAudioFrame("MZ1", 1, "AAEC", 8000, 1, map[string]string{MetaTrack: "inbound"})
	if f.Encoded() != "AAEC" {
		t.Fatalf("unexpected payload %q", f.Encoded())
	}
	if f.Track() != "inbound" {
		t.Fatalf("unexpected track %q", f.Track())
	}
	if f.Meta()[MetaStreamID] != "MZ1" {
		t.Fatalf("expected stream id in meta")
	}
	if len(f.RawPayload()) != 0 {
		t.Fatalf("expected no decoded data yet")
	}
}

func TestMetaIsCopied(t *testing.T) {
	f := NewTextFrame("MZ1", 1, "hallo", map[string]string{MetaSpeaker: "agent"})
	m := f.Meta()
	m[MetaSpeaker] = "customer"
	if f.Meta()[MetaSpeaker] != "agent" {
		t.Fatalf("frame meta mutated through copy")
	}
}

func TestSystemFrameParams(t *testing.T) {
	meta := map[string]string{MetaCallSID: "CA1"}
	meta[MetaParamPrefix+"clientId"] = "c-7"
	meta[MetaParamPrefix+"base44_app_id"] = "app"
	f := NewSystemFrame("MZ1", 1, SystemCallStart, meta)
	params := f.Params()
	if len(params) != 2 || params["clientId"] != "c-7" || params["base44_app_id"] != "app" {
		t.Fatalf("unexpected params %#v", params)
	}
}

func TestPTSGenMonotonicPerStream(t *testing.T) {
	g := NewPTSGen()
	a1 := g.Next("a")
	a2 := g.Next("a")
	b1 := g.Next("b")
	if a2 <= a1 {
		t.Fatalf("expected increasing pts, got %d then %d", a1, a2)
	}
	if b1 != a1 {
		t.Fatalf("expected independent streams, got %d vs %d", b1, a1)
	}
	g.Forget("a")
	if g.Next("a") != a1 {
		t.Fatalf("expected reset after Forget")
	}
}
