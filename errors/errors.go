package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // binary parsing
	PhaseInterpret Phase = "interpret" // descriptor recovery
	PhaseDecode    Phase = "decode"    // descriptor stream decoding
	PhaseTransform Phase = "transform" // body rewriting passes
	PhaseNormalize Phase = "normalize" // export renaming
	PhaseEncode    Phase = "encode"    // binary emission
	PhaseRuntime   Phase = "runtime"   // host-side execution
)

// Kind categorizes the error
type Kind string

const (
	KindUnknownOpcode       Kind = "unknown_opcode"
	KindUnknownIntrinsic    Kind = "unknown_intrinsic"
	KindMalformedStream     Kind = "malformed_stream"
	KindPatternMismatch     Kind = "pattern_mismatch"
	KindSlotOverflow        Kind = "slot_overflow"
	KindMissingStackPointer Kind = "missing_stack_pointer"
	KindStackUnderflow      Kind = "stack_underflow"
	KindStepBudget          Kind = "step_budget"
	KindInvalidData         Kind = "invalid_data"
	KindUnsupported         Kind = "unsupported"
	KindNotFound            Kind = "not_found"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindCollision           Kind = "collision"
	KindInternal            Kind = "internal"
)

// Error is the structured error type used throughout the toolchain
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Symbol string // export or import name involved, when known
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Symbol != "" {
		b.WriteString(": symbol ")
		b.WriteString(e.Symbol)
	}

	if e.Detail != "" {
		if e.Symbol != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the context path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Symbol sets the export or import name involved
func (b *Builder) Symbol(s string) *Builder {
	b.err.Symbol = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// UnknownOpcode creates an error for an opcode the bounded interpreter
// refuses to execute.
func UnknownOpcode(symbol string, opcode byte) *Error {
	return &Error{
		Phase:  PhaseInterpret,
		Kind:   KindUnknownOpcode,
		Symbol: symbol,
		Detail: fmt.Sprintf("opcode 0x%02x outside the descriptor subset", opcode),
		Value:  opcode,
	}
}

// UnknownIntrinsic creates an error for an unrecognized describe import
func UnknownIntrinsic(module, name string) *Error {
	return &Error{
		Phase:  PhaseInterpret,
		Kind:   KindUnknownIntrinsic,
		Symbol: module + "." + name,
		Detail: "import is not a recognized describe intrinsic",
	}
}

// MalformedStream creates an error for a descriptor stream that cannot
// be decoded into a complete tree.
func MalformedStream(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindMalformedStream,
		Path:   path,
		Detail: detail,
	}
}

// SlotOverflow creates an error for a value that flattens to more
// primitive slots than a boundary crossing allows.
func SlotOverflow(path []string, slots, max int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindSlotOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value occupies %d slots (max %d)", slots, max),
		Value:  slots,
	}
}

// MissingStackPointer creates an error for a module that needs shadow
// stack frames but exposes no mutable i32 global.
func MissingStackPointer(symbol string) *Error {
	return &Error{
		Phase:  PhaseTransform,
		Kind:   KindMissingStackPointer,
		Symbol: symbol,
		Detail: "no mutable i32 global available for shadow stack frames",
	}
}

// PatternMismatch creates an error for a function body that does not
// match the shape a transform requires.
func PatternMismatch(symbol, detail string) *Error {
	return &Error{
		Phase:  PhaseTransform,
		Kind:   KindPatternMismatch,
		Symbol: symbol,
		Detail: detail,
	}
}

// StackUnderflow creates an error for an operand stack underflow during
// descriptor interpretation.
func StackUnderflow(symbol string, need, have int) *Error {
	return &Error{
		Phase:  PhaseInterpret,
		Kind:   KindStackUnderflow,
		Symbol: symbol,
		Detail: fmt.Sprintf("need %d operands, have %d", need, have),
	}
}

// StepBudget creates an error for an interpretation that exceeds the
// step budget; descriptor functions are straight-line and short.
func StepBudget(symbol string, budget int) *Error {
	return &Error{
		Phase:  PhaseInterpret,
		Kind:   KindStepBudget,
		Symbol: symbol,
		Detail: fmt.Sprintf("exceeded %d interpreter steps", budget),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Collision creates an error for a renaming that would collide with an
// existing export.
func Collision(symbol, existing string) *Error {
	return &Error{
		Phase:  PhaseNormalize,
		Kind:   KindCollision,
		Symbol: symbol,
		Detail: fmt.Sprintf("renamed export collides with %q", existing),
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Internal creates an internal invariant violation error
func Internal(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
