package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMediaUnreadable indicates the source media's audio stream could not
	// be decoded. Identity computation requires decodable audio, so this is
	// fatal before any stage runs.
	ErrMediaUnreadable = errors.New("media unreadable")
	// ErrStageTimeout indicates a stage exceeded its descriptor timeout.
	ErrStageTimeout = errors.New("stage timeout")
	// ErrStageFailure indicates a stage collaborator reported failure.
	ErrStageFailure = errors.New("stage failure")
	// ErrCacheCorruption indicates a baseline cache entry failed checksum
	// verification. Never fatal; the entry is dropped and work is redone.
	ErrCacheCorruption = errors.New("cache corruption")
	// ErrCacheWrite indicates a best-effort cache publish failed.
	ErrCacheWrite = errors.New("cache write failure")
	// ErrManifestCorruption indicates a job manifest could not be parsed.
	ErrManifestCorruption = errors.New("manifest corruption")
	// ErrValidation indicates bad input or collaborator output.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration indicates invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient is the fallback marker for unclassified failures.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether an error should abort the whole job regardless of
// stage criticality.
func Fatal(err error) bool {
	return errors.Is(err, ErrMediaUnreadable) || errors.Is(err, ErrConfiguration)
}

// Degraded reports whether an error is one of the degrade-and-continue
// classes: the orchestrator logs it and does the work the slow way.
func Degraded(err error) bool {
	return errors.Is(err, ErrCacheCorruption) ||
		errors.Is(err, ErrCacheWrite) ||
		errors.Is(err, ErrManifestCorruption)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// Details exposes the human-readable portion of a wrapped error, stripping
// the leading sentinel text when present.
func Details(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{
		ErrMediaUnreadable, ErrStageTimeout, ErrStageFailure,
		ErrCacheCorruption, ErrCacheWrite, ErrManifestCorruption,
		ErrValidation, ErrConfiguration, ErrTransient,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
