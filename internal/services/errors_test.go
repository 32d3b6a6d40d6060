package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"scribe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrUnavailable, "transcribe", "engine call", "engine refused", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "engine call", "engine refused"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "restore", "", "", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "transcribe", "", "", nil), true},
		{"unavailable", services.Wrap(services.ErrUnavailable, "diarize", "", "", nil), true},
		{"fatal", services.Wrap(services.ErrFatal, "translate", "", "", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "ingest", "", "", nil), false},
		{"fatal wraps transient", fmt.Errorf("%w: %w", services.ErrFatal, services.ErrTransient), false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestKind(t *testing.T) {
	if kind := services.Kind(services.Wrap(services.ErrQuotaExceeded, "", "", "", nil)); kind != "quota_exceeded" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := services.Kind(services.Wrap(services.ErrNotReady, "", "", "", nil)); kind != "not_ready" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := services.Kind(errors.New("plain")); kind != "internal_error" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := services.Kind(nil); kind != "" {
		t.Fatalf("expected empty kind for nil, got %q", kind)
	}
}
