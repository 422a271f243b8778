// builtin_file.go — file-statement support builtins.
//
// The Open/Print/Write/Close statements themselves are evaluated in
// interp.go against the Context file table; this file covers the function
// forms macros use around them.
package vmacro

import (
	"fmt"
	"strings"
)

func init() {
	// FreeFile returns the lowest unused channel number.
	registerBuiltin("FreeFile", func(ctx *Context, args []Value) (Value, error) {
		for n := int64(1); ; n++ {
			if _, used := ctx.channels[n]; !used {
				return Int(n), nil
			}
		}
	})

	// Dir probes for files; the sandbox has none, so every probe misses.
	// Macros commonly use this as an anti-analysis check.
	registerBuiltin("Dir", func(ctx *Context, args []Value) (Value, error) {
		if len(args) > 0 {
			ctx.Recorder.Record("file-probe", []string{argStr(args, 0)}, "Dir existence check")
		}
		return Str(""), nil
	})

	registerBuiltin("FileLen", func(ctx *Context, args []Value) (Value, error) {
		path := argStr(args, 0)
		if f, ok := ctx.byPath[strings.ToLower(path)]; ok {
			return Int(int64(len(f.Data))), nil
		}
		return Int(0), nil
	})

	registerBuiltin("LOF", func(ctx *Context, args []Value) (Value, error) {
		n, err := argInt(args, 0)
		if err != nil {
			return Empty, err
		}
		if f, ok := ctx.Channel(n); ok {
			return Int(int64(len(f.Data))), nil
		}
		return Empty, fmt.Errorf("LOF on unopened channel #%d", n)
	})

	registerBuiltin("EOF", func(ctx *Context, args []Value) (Value, error) {
		// nothing to read back in the sandbox
		return Bool(true), nil
	})

	registerBuiltin("CurDir", func(ctx *Context, args []Value) (Value, error) {
		return Str(`C:\Users\admin\Documents`), nil
	})
}
