package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	root := stdErrors.New("disk full")
	err := Wrap(CodeJournalFailure, root, "append event", WithMetadata("driver", "mysql"))

	if CodeOf(err) != CodeJournalFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, root) {
		t.Fatalf("expected errors.Is to find root cause")
	}
	if got := err.Metadata()["driver"]; got != "mysql" {
		t.Fatalf("unexpected metadata: %q", got)
	}
	if err.Error() != "[JOURNAL_FAILURE] append event: disk full" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestIsComparesCodes(t *testing.T) {
	a := New(CodeNotFound, "plugin a")
	b := New(CodeNotFound, "plugin b")
	if !stdErrors.Is(a, b) {
		t.Fatalf("errors with the same code should match")
	}
	if stdErrors.Is(a, New(CodeConflict, "")) {
		t.Fatalf("errors with different codes should not match")
	}
}

func TestDefaultsFromRegistry(t *testing.T) {
	err := New(CodePluginPanic, "")
	if err.Message() != "plugin panicked" {
		t.Fatalf("expected registry message, got %q", err.Message())
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", err.Severity())
	}
	if SeverityOf(New(CodePluginPanic, "", WithSeverity(SeverityInfo))) != SeverityInfo {
		t.Fatalf("severity override ignored")
	}
	if AttributesOf(Code("NOPE")).Message != "unknown error" {
		t.Fatalf("unknown codes should fall back to UNKNOWN")
	}
}

func TestCauseOf(t *testing.T) {
	root := stdErrors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Wrap(CodePluginFailure, root, "init"))
	if CauseOf(wrapped) != root {
		t.Fatalf("expected innermost cause")
	}
	if CauseOf(nil) != nil {
		t.Fatalf("nil error has no cause")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}
