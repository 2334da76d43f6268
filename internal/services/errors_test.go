package services

import (
	"errors"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 1")
	err := Wrap(ErrStageFailure, "transcribe", "run whisper", "model load failed", base)
	if !errors.Is(err, ErrStageFailure) {
		t.Fatalf("expected ErrStageFailure, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
}

func TestWrapNilMarkerDefaultsTransient(t *testing.T) {
	err := Wrap(nil, "segment", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient fallback, got %v", err)
	}
}

func TestDetailsStripsSentinel(t *testing.T) {
	err := Wrap(ErrCacheCorruption, "cache", "verify", "checksum mismatch", nil)
	got := Details(err)
	want := "cache: verify: checksum mismatch"
	if got != want {
		t.Fatalf("Details = %q, want %q", got, want)
	}
}

func TestFatalClassification(t *testing.T) {
	if !Fatal(Wrap(ErrMediaUnreadable, "identity", "decode", "", nil)) {
		t.Fatal("media unreadable should be fatal")
	}
	if Fatal(Wrap(ErrCacheWrite, "cache", "store", "", nil)) {
		t.Fatal("cache write failure must not be fatal")
	}
}

func TestDegradedClassification(t *testing.T) {
	for _, marker := range []error{ErrCacheCorruption, ErrCacheWrite, ErrManifestCorruption} {
		if !Degraded(Wrap(marker, "x", "", "", nil)) {
			t.Fatalf("%v should classify as degraded", marker)
		}
	}
	if Degraded(Wrap(ErrStageFailure, "x", "", "", nil)) {
		t.Fatal("stage failure is not a degraded class")
	}
}
