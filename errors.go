// errors.go: error taxonomy and caret-snippet rendering
//
// What this file does
// -------------------
// Defines the error kinds the emulator distinguishes and turns the located
// ones (syntax, runtime) into readable snippets with a caret pointing at the
// offending column:
//
//	SYNTAX ERROR at 3:12: expected 'Then'
//
//	   2 | If x = 1 Then y = 2
//	   3 | If y Goto 5
//	       |      ^
//	   4 | End If
//
// Taxonomy
// --------
//   - *SyntaxError      — recoverable by default: the parser skips the bad
//     statement and records it as a diagnostic. Fatal only when a module
//     yields no usable structure at all.
//   - *RuntimeError     — evaluation failure (type mismatch, bad call, ...).
//     Suppressed and logged when error-resume is active for the current
//     procedure invocation, otherwise it terminates that procedure only.
//   - *UnsupportedError — a builtin or host object the evaluator cannot
//     model; the evaluator substitutes an opaque value and keeps going.
//   - *LoopLimitError / *RecursionLimitError — fail-soft bound hits; the
//     offending loop or call is aborted and a diagnostic recorded.
//   - *ConfigError      — caller misconfiguration (e.g. an explicit entry
//     point that does not exist). Fatal for the run.
//
// The emulator leans toward partial results: everything except ConfigError
// and a module-fatal SyntaxError is downgraded to a Diagnostic on the
// Context so the analyst can judge completeness.
package vmacro

import (
	"fmt"
	"strings"
)

// SyntaxError is produced by the lexer/parser. Line and Col are 1-based.
// Recoverable errors mark statements that were skipped; the surrounding
// module is still usable.
type SyntaxError struct {
	Line, Col   int
	Msg         string
	Recoverable bool
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// RuntimeError is an evaluation-time failure with a source location.
type RuntimeError struct {
	Line, Col int
	Msg       string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// UnsupportedError marks a construct, builtin, or host object the evaluator
// does not model. It never aborts evaluation on its own.
type UnsupportedError struct {
	What string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported construct: %s", e.What)
}

// LoopLimitError reports a loop that hit the configured iteration bound.
type LoopLimitError struct {
	Line  int
	Limit int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("loop at line %d exceeded %d iterations; aborted", e.Line, e.Limit)
}

// RecursionLimitError reports a call chain that hit the configured depth bound.
type RecursionLimitError struct {
	Proc  string
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("call to %s exceeded recursion depth %d; aborted", e.Proc, e.Limit)
}

// ConfigError is a caller misconfiguration. It is fatal for the run.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Msg }

/* ===========================
   Snippet rendering
   =========================== */

// WrapErrorWithSource augments located errors (syntax, runtime) with a
// caret-annotated snippet of src. Other error kinds pass through unchanged.
func WrapErrorWithSource(err error, src string) error {
	switch e := err.(type) {
	case *SyntaxError:
		return fmt.Errorf("%s", snippet(src, "SYNTAX ERROR", e.Line, e.Col, e.Msg))
	case *RuntimeError:
		return fmt.Errorf("%s", snippet(src, "RUNTIME ERROR", e.Line, e.Col, e.Msg))
	default:
		return err
	}
}

// snippet builds a caret snippet with one line of context on either side.
// Coordinates are 1-based and clamped to the source bounds.
func snippet(src, header string, line, col int, msg string) string {
	lines := strings.Split(src, "\n")
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	if line > len(lines) {
		line = len(lines)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", header, line, col, msg)
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lines[line-1])
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", col-1))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
