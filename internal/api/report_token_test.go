package api

import (
	"strings"
	"testing"
	"time"
)

func TestReportTokenRoundTrip(t *testing.T) {
	handler := &Handler{reportTokenSecret: "test-secret"}

	now := time.Now().UTC()
	token, err := handler.signReportToken("session_1", "run_1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("expected token to be generated: %v", err)
	}

	claims, err := handler.verifyReportToken(token, now)
	if err != nil {
		t.Fatalf("expected token to verify: %v", err)
	}
	if claims.SessionID != "session_1" || claims.RunID != "run_1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestReportTokenRejectsExpired(t *testing.T) {
	handler := &Handler{reportTokenSecret: "test-secret"}

	now := time.Now().UTC()
	token, err := handler.signReportToken("session_1", "run_1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("expected token to be generated: %v", err)
	}
	if _, err := handler.verifyReportToken(token, now); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestReportTokenRejectsTamperingAndOtherSecrets(t *testing.T) {
	signer := &Handler{reportTokenSecret: "test-secret"}
	now := time.Now().UTC()
	token, err := signer.signReportToken("session_1", "run_1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("expected token to be generated: %v", err)
	}

	payload, signature, _ := strings.Cut(token, ".")
	forged := payload + "x." + signature
	if _, err := signer.verifyReportToken(forged, now); err == nil {
		t.Fatal("expected tampered payload to fail verification")
	}

	other := &Handler{reportTokenSecret: "other-secret"}
	if _, err := other.verifyReportToken(token, now); err == nil {
		t.Fatal("expected token signed with another secret to fail verification")
	}

	unsigned := &Handler{}
	if _, err := unsigned.signReportToken("session_1", "run_1", now.Add(time.Minute)); err == nil {
		t.Fatal("expected signing without a secret to fail")
	}
}
