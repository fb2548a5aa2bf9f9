package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("u1", "student", "iattend", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty tokens")
	}

	claims, err := Parse(pair.AccessToken, "secret", "iattend")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" {
		t.Errorf("subject %q, want u1", claims.Subject)
	}
	if claims.Role != "student" {
		t.Errorf("role %q, want student", claims.Role)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("u1", "student", "iattend", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "other-key", "iattend"); err == nil {
		t.Error("token signed with a different key should not parse")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("u1", "student", "iattend", "secret", -time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "iattend"); err == nil {
		t.Error("expired token should not parse")
	}
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("u1", "student", "other-service", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "iattend"); err == nil {
		t.Error("issuer mismatch should not parse")
	}
}
