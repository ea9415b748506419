package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrCodeProtocol,
		ErrCodeTimeout,
		ErrCodeIllegalState,
		ErrCodeQuota,
		ErrCodeInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

type codedErr string

func (e codedErr) Error() string { return string(e) }
func (e codedErr) Code() string  { return ErrCodeQuota }

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil)=%q want empty", got)
	}
	if got := CodeOf(fmt.Errorf("read: %w", ErrViolation)); got != ErrCodeProtocol {
		t.Fatalf("CodeOf(violation)=%q want %q", got, ErrCodeProtocol)
	}
	if got := CodeOf(fmt.Errorf("turn 3: %w", codedErr("too big"))); got != ErrCodeQuota {
		t.Fatalf("CodeOf(coded)=%q want %q", got, ErrCodeQuota)
	}
	if got := CodeOf(errors.New("boom")); got != ErrCodeInternal {
		t.Fatalf("CodeOf(plain)=%q want %q", got, ErrCodeInternal)
	}
}
