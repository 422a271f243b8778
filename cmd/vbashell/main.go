// Command vbashell is an interactive scratchpad for probing macro
// fragments: paste a statement and see the actions it records, or prefix a
// line with ? to evaluate an expression.
//
//	> ? Chr(72) & Chr(105)
//	"Hi"
//	> Shell "cmd /c whoami", 0
//	> :actions
//	  0 [shell] cmd /c whoami, 0
//
// Sub/Function definitions accumulate across lines (the shell buffers until
// the matching End line) and stay callable for the rest of the session.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/ocelabs/vmacro"
)

type shell struct {
	ctx  *vmacro.Context
	defs []string // completed Sub/Function definitions
	pend []string // lines of a definition still being entered
}

func main() {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	sh := &shell{ctx: vmacro.NewContext()}
	fmt.Println("vbashell — :help for commands, :quit to exit")

	for {
		prompt := "> "
		if len(sh.pend) > 0 {
			prompt = "... "
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			fmt.Println()
			return
		}
		input = strings.TrimRight(input, " \t")
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if len(sh.pend) == 0 && strings.HasPrefix(input, ":") {
			if !sh.command(input) {
				return
			}
			continue
		}
		sh.feed(input)
	}
}

// command handles :-prefixed shell commands; false means quit.
func (sh *shell) command(input string) bool {
	switch strings.Fields(input)[0] {
	case ":quit", ":q":
		return false
	case ":help":
		fmt.Println("  ? <expr>    evaluate an expression")
		fmt.Println("  <stmt>      execute a statement")
		fmt.Println("  :actions    show recorded actions")
		fmt.Println("  :files      show the simulated file table")
		fmt.Println("  :reset      discard all state")
		fmt.Println("  :quit       exit")
	case ":actions":
		for _, a := range sh.ctx.Recorder.Actions() {
			fmt.Printf("  %3d [%s] %s\n", a.Seq, a.Category, strings.Join(a.Params, ", "))
		}
	case ":files":
		for _, f := range sh.ctx.DroppedFiles() {
			fmt.Printf("  closed %s (%d bytes)\n", f.Path, len(f.Data))
		}
	case ":reset":
		sh.ctx = vmacro.NewContext()
		sh.defs = nil
		sh.pend = nil
		fmt.Println("  state cleared")
	default:
		fmt.Println("  unknown command; :help")
	}
	return true
}

func (sh *shell) feed(input string) {
	lower := strings.ToLower(strings.TrimSpace(input))

	// multi-line definition buffering
	if len(sh.pend) > 0 {
		sh.pend = append(sh.pend, input)
		if lower == "end sub" || lower == "end function" {
			sh.defs = append(sh.defs, strings.Join(sh.pend, "\n"))
			sh.pend = nil
		}
		return
	}
	if startsDefinition(lower) {
		sh.pend = []string{input}
		return
	}

	if strings.HasPrefix(input, "?") {
		sh.eval(strings.TrimSpace(input[1:]))
		return
	}
	sh.exec(input)
}

func startsDefinition(lower string) bool {
	for _, prefix := range []string{"sub ", "function ", "private sub ", "public sub ", "private function ", "public function "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func (sh *shell) eval(src string) {
	e, err := vmacro.ParseExpression(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, vmacro.WrapErrorWithSource(err, src))
		return
	}
	ev := vmacro.NewEvaluator(sh.ctx, sh.module(""))
	v, err := ev.Eval(e)
	if err != nil {
		fmt.Fprintln(os.Stderr, vmacro.WrapErrorWithSource(err, src))
		return
	}
	fmt.Println(" " + v.String())
}

func (sh *shell) exec(stmt string) {
	src := strings.Join(append(append([]string{}, sh.defs...), stmt), "\n")
	mod, err := vmacro.ParseModule("repl", src)
	if err != nil {
		fmt.Fprintln(os.Stderr, vmacro.WrapErrorWithSource(err, src))
		return
	}
	ev := vmacro.NewEvaluator(sh.ctx, mod)
	if err := ev.RunLoose(); err != nil {
		fmt.Fprintln(os.Stderr, vmacro.WrapErrorWithSource(err, src))
	}
}

// module builds the accumulated-definitions module so expression eval can
// call user procedures defined earlier in the session.
func (sh *shell) module(extra string) *vmacro.Module {
	src := strings.Join(sh.defs, "\n")
	if extra != "" {
		src = src + "\n" + extra
	}
	mod, err := vmacro.ParseModule("repl", src)
	if err != nil || mod == nil {
		mod, _ = vmacro.ParseModule("repl", "Sub __empty__\nEnd Sub")
	}
	return mod
}
