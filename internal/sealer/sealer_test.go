package sealer_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"scribe/internal/sealer"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestSealRoundTripBindsAAD(t *testing.T) {
	s, err := sealer.New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sealed, err := s.Seal("hello world", []byte("job:1:segment:0"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "hello") {
		t.Fatalf("expected ciphertext, got %q", sealed)
	}
	opened, err := s.Open(sealed, []byte("job:1:segment:0"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "hello world" {
		t.Fatalf("unexpected plaintext %q", opened)
	}
	if _, err := s.Open(sealed, []byte("job:2:segment:0")); err == nil {
		t.Fatal("expected open with foreign aad to fail")
	}
}

func TestNilSealerPassesThrough(t *testing.T) {
	s, err := sealer.New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Enabled() {
		t.Fatal("expected sealing disabled without key")
	}
	sealed, err := s.Seal("plain", nil)
	if err != nil || sealed != "plain" {
		t.Fatalf("expected passthrough, got %q (%v)", sealed, err)
	}
}

func TestPlaintextRowsStayReadableWithKey(t *testing.T) {
	s, err := sealer.New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opened, err := s.Open("legacy text", nil)
	if err != nil || opened != "legacy text" {
		t.Fatalf("expected legacy plaintext, got %q (%v)", opened, err)
	}
}

func TestSealedRowWithoutKeyFails(t *testing.T) {
	s, _ := sealer.New(testKey())
	sealed, err := s.Seal("secret", nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	var none *sealer.Sealer
	if _, err := none.Open(sealed, nil); !errors.Is(err, sealer.ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := sealer.New(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected error for short key")
	}
}
