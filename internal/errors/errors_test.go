package errors

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

func TestWrapPreservesCodeAcrossChain(t *testing.T) {
	Register("TEST_INNER", Attributes{Message: "inner", Severity: SeverityWarning, Retryable: true})

	inner := New("TEST_INNER", "")
	outer := fmt.Errorf("context: %w", Wrap(CodeStorageFailure, inner, "persist"))

	if CodeOf(outer) != CodeStorageFailure {
		t.Fatalf("unexpected outer code %s", CodeOf(outer))
	}
	if !IsCode(outer, "TEST_INNER") {
		t.Fatalf("expected inner code to be discoverable in %v", outer)
	}
	if !stdErrors.Is(outer, New(CodeStorageFailure, "other message")) {
		t.Fatal("errors.Is should compare by code")
	}
	if inner.Message() != "inner" {
		t.Fatalf("expected registered default message, got %q", inner.Message())
	}
	if !RetryableError(inner) {
		t.Fatal("registered retryable code should be retryable")
	}
}

func TestErrorTextIncludesSortedMetadata(t *testing.T) {
	err := Wrap(CodeInvalidArgument, stdErrors.New("boom"), "bad input",
		WithMetadata("network", "mainnet"), WithMetadata("address", "SP1"))

	want := "[INVALID_ARGUMENT] bad input (address=SP1, network=mainnet): boom"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
	if err.Metadata()["network"] != "mainnet" {
		t.Fatalf("unexpected metadata %+v", err.Metadata())
	}
	if err.Severity() != SeverityInfo || err.Retryable() {
		t.Fatalf("unexpected attributes for %s", err.Code())
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors map to UNKNOWN")
	}
	if RetryableError(stdErrors.New("plain")) {
		t.Fatal("plain errors are not retryable")
	}
	if _, ok := Lookup("NOT_REGISTERED"); ok {
		t.Fatal("lookup of an unregistered code should report false")
	}
	if New("NOT_REGISTERED", "").Message() != "unknown error" {
		t.Fatal("unregistered code should use the UNKNOWN message")
	}
}

func TestRegisterConflictPanics(t *testing.T) {
	Register("TEST_CONFLICT", Attributes{Message: "a", Severity: SeverityInfo})
	Register("TEST_CONFLICT", Attributes{Message: "a", Severity: SeverityInfo})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on conflicting registration")
		}
	}()
	Register("TEST_CONFLICT", Attributes{Message: "b", Severity: SeverityInfo})
}

func TestCodesListsBuiltins(t *testing.T) {
	codes := Codes()
	for _, c := range []Code{CodeUnknown, CodeInvalidArgument, CodeStorageFailure} {
		if !slices.Contains(codes, c) {
			t.Fatalf("missing %s in %v", c, codes)
		}
	}
	if !slices.IsSorted(codes) {
		t.Fatalf("codes not sorted: %v", codes)
	}
}

func TestLogValueIsStructured(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	l.Info("failed", "error", New(CodeStorageFailure, "", WithMetadata("tx_id", "0xabc")))

	out := buf.String()
	for _, want := range []string{`"code":"STORAGE_FAILURE"`, `"tx_id":"0xabc"`, `"message":"ledger storage failure"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
