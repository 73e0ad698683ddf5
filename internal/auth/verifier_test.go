package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	v := NewHMAC("s3cret")
	tok, err := v.Issue("ops", "Admin", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Subject != "ops" || !p.IsAdmin() {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewHMAC("s3cret")
	good, _ := v.Issue("ops", "viewer", 0)
	other, _ := NewHMAC("other").Issue("ops", "admin", 0)
	segs := strings.Split(good, ".")

	cases := map[string]string{
		"garbage":        "not-a-jwt",
		"wrong secret":   other,
		"tampered claim": segs[0] + "." + segs[1] + "x." + segs[2],
		"empty":          "",
	}
	for name, tok := range cases {
		if _, err := v.Verify(tok); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestVerifyExpiry(t *testing.T) {
	v := NewHMAC("k")
	base := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return base }
	tok, _ := v.Issue("bot", "", time.Minute)

	p, err := v.Verify(tok)
	if err != nil || p.Role != "viewer" {
		t.Fatalf("fresh token: %+v %v", p, err)
	}
	v.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := v.Verify(tok); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestModeOff(t *testing.T) {
	t.Setenv("AUTH_MODE", "")
	v := NewVerifierFromEnv()
	if v.Enabled() {
		t.Fatal("default mode should be off")
	}
	p, err := v.Verify("")
	if err != nil || !p.IsAdmin() {
		t.Fatalf("off mode: %+v %v", p, err)
	}
	var nilV *Verifier
	if nilV.Enabled() {
		t.Fatal("nil verifier is disabled")
	}
}
