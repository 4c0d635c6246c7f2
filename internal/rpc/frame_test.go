package rpc

import "testing"

func TestNewErrorUsesDefaultMessageForKnownCode(t *testing.T) {
	err := NewError(CodePathNotAllowed, "")
	if err.Message != "path not allowed" {
		t.Fatalf("expected default message, got %q", err.Message)
	}
}

func TestNewErrorAppendsDetail(t *testing.T) {
	err := NewError(CodePathNotAllowed, "/etc/passwd")
	if err.Message != "path not allowed: /etc/passwd" {
		t.Fatalf("expected detail appended, got %q", err.Message)
	}
}

func TestNewErrorFallsBackForUnknownCode(t *testing.T) {
	err := NewError(Code(9999), "")
	if err.Message != "internal error" {
		t.Fatalf("expected fallback message, got %q", err.Message)
	}
}
