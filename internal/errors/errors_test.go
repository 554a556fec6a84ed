package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestCodeOfUnwrapsNestedCalls(t *testing.T) {
	inner := Precondition("stock exhausted")
	nested := Wrap(CodeExternalCall, Wrap(CodeExternalCall, inner, "ledger"), "marketplace")

	if got := CodeOf(nested); got != CodePrecondition {
		t.Fatalf("CodeOf = %s, want %s", got, CodePrecondition)
	}
	if !HasCode(nested, CodeExternalCall) || !HasCode(nested, CodePrecondition) {
		t.Fatalf("expected both codes in chain")
	}
	if got := CodeOf(fmt.Errorf("plain: %w", stdErrors.New("x"))); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s", got)
	}
}

func TestRegisterAndDefaults(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Alert: true})

	e := New(code, "")
	if e.Error() != "[TEST_REGISTERED] registered" {
		t.Fatalf("unexpected message %q", e.Error())
	}
	if SeverityOf(e) != SeverityWarning {
		t.Fatalf("unexpected severity %s", SeverityOf(e))
	}
	if attr := AttributesOf("NEVER_REGISTERED"); attr.Message != "unknown error" {
		t.Fatalf("unregistered code should fall back to UNKNOWN, got %+v", attr)
	}
}
