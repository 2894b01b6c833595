package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseInterpret,
				Kind:   KindUnknownOpcode,
				Path:   []string{"describe", "add"},
				Symbol: "__wbindgen_describe_add",
				Detail: "opcode 0x03",
			},
			contains: []string{"[interpret]", "unknown_opcode", "describe.add", "__wbindgen_describe_add", "opcode 0x03"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindMalformedStream,
			},
			contains: []string{"[decode]", "malformed_stream"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindInvalidData,
				Detail: "truncated section",
				Cause:  errors.New("unexpected EOF"),
			},
			contains: []string{"[load]", "invalid_data", "truncated section", "caused by", "unexpected EOF"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseInterpret,
		Kind:  KindStepBudget,
		Path:  []string{"foo"},
	}

	if !errors.Is(err, &Error{Phase: PhaseInterpret, Kind: KindStepBudget}) {
		t.Error("Is should match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseInterpret, Kind: KindStackUnderflow}) {
		t.Error("Is should not match a different kind")
	}
	if errors.Is(err, errors.New("plain")) {
		t.Error("Is should not match a non-structured error")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("inner")
	err := New(PhaseTransform, KindPatternMismatch).
		Symbol("add").
		Path("multivalue", "adapter").
		Detail("body has %d calls, want 1", 2).
		Value(2).
		Cause(cause).
		Build()

	if err.Phase != PhaseTransform || err.Kind != KindPatternMismatch {
		t.Errorf("phase/kind = %s/%s", err.Phase, err.Kind)
	}
	if err.Detail != "body has 2 calls, want 1" {
		t.Errorf("detail = %q", err.Detail)
	}
	if !errors.Is(err, err) || err.Unwrap() != cause {
		t.Error("cause not wired through builder")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	if e := UnknownOpcode("f", 0x10); e.Kind != KindUnknownOpcode || !strings.Contains(e.Error(), "0x10") {
		t.Errorf("UnknownOpcode: %v", e)
	}
	if e := UnknownIntrinsic("__wbindgen_placeholder__", "bogus"); !strings.Contains(e.Error(), "__wbindgen_placeholder__.bogus") {
		t.Errorf("UnknownIntrinsic: %v", e)
	}
	if e := SlotOverflow([]string{"ret"}, 6, 4); !strings.Contains(e.Error(), "6 slots") {
		t.Errorf("SlotOverflow: %v", e)
	}
	if e := MissingStackPointer("add"); e.Phase != PhaseTransform {
		t.Errorf("MissingStackPointer phase = %s", e.Phase)
	}
	if e := StepBudget("f", 1000); !strings.Contains(e.Error(), "1000") {
		t.Errorf("StepBudget: %v", e)
	}
	if e := Collision("closure0", "closure1"); e.Kind != KindCollision {
		t.Errorf("Collision: %v", e)
	}
}
