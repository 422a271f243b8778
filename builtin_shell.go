// builtin_shell.go — the IOC-producing builtins.
//
// None of these perform the real operation. Each records an Action with its
// fully resolved arguments (the whole point of emulation is seeing those
// arguments after the macro has decoded them) and returns whatever minimal
// value keeps the macro running.
package vmacro

import "strings"

func init() {
	registerBuiltin("Shell", func(ctx *Context, args []Value) (Value, error) {
		cmd := argStr(args, 0)
		style := ""
		if len(args) > 1 {
			style = argStr(args, 1)
		}
		params := []string{cmd}
		if style != "" {
			params = append(params, style)
		}
		ctx.Recorder.Record("shell", params, "Shell command execution")
		ctx.RecordPayload(cmd)
		return Int(4242), nil // fake PID
	})

	registerBuiltin("Environ", func(ctx *Context, args []Value) (Value, error) {
		name := argStr(args, 0)
		v := ctx.Environ(name)
		ctx.Recorder.Record("environ", []string{name}, "Environment variable read")
		return Str(v), nil
	})

	registerBuiltin("CreateObject", func(ctx *Context, args []Value) (Value, error) {
		class := argStr(args, 0)
		ctx.Recorder.Record("create-object", []string{class}, "COM object creation")
		return newHostObject(class), nil
	})

	registerBuiltin("GetObject", func(ctx *Context, args []Value) (Value, error) {
		class := argStr(args, len(args)-1)
		ctx.Recorder.Record("create-object", []string{class}, "COM object retrieval")
		return newHostObject(class), nil
	})

	// MsgBox: record the text (it is often the decoded payload in PoC
	// macros) and answer vbOK.
	registerBuiltin("MsgBox", func(ctx *Context, args []Value) (Value, error) {
		text := argStr(args, 0)
		ctx.Recorder.Record("msgbox", []string{text}, "Message box")
		ctx.RecordPayload(text)
		return Int(1), nil
	})

	registerBuiltin("InputBox", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("inputbox", []string{argStr(args, 0)}, "Input box prompt")
		return Str(""), nil
	})

	registerBuiltin("Kill", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("file-delete", []string{argStr(args, 0)}, "Kill (delete file)")
		return Empty, nil
	})

	registerBuiltin("FileCopy", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("file-copy", []string{argStr(args, 0), argStr(args, 1)}, "FileCopy")
		return Empty, nil
	})

	registerBuiltin("MkDir", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("mkdir", []string{argStr(args, 0)}, "MkDir")
		return Empty, nil
	})

	registerBuiltin("SetAttr", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("set-attr", []string{argStr(args, 0), argStr(args, 1)}, "SetAttr")
		return Empty, nil
	})

	registerBuiltin("SendKeys", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("sendkeys", []string{argStr(args, 0)}, "SendKeys")
		return Empty, nil
	})

	// CallByName dispatches dynamically; resolve against the object model.
	// Args beyond the CallType (position 3) are the method arguments.
	registerBuiltin("CallByName", func(ctx *Context, args []Value) (Value, error) {
		if len(args) < 2 {
			return Unknown, &UnsupportedError{What: "CallByName without object and member name"}
		}
		obj := arg(args, 0)
		name := argStr(args, 1)
		if obj.Tag != VTObject {
			return Unknown, &UnsupportedError{What: "CallByName on non-object"}
		}
		var rest []Value
		if len(args) > 3 {
			rest = args[3:]
		}
		return callObjectMethod(ctx, obj.Data.(*Object), name, rest)
	})

	registerBuiltin("DoEvents", func(ctx *Context, args []Value) (Value, error) {
		return Empty, nil
	})

	// Sleep/Wait style stalling calls complete instantly under emulation.
	registerBuiltin("Sleep", func(ctx *Context, args []Value) (Value, error) {
		ctx.Recorder.Record("sleep", []string{argStr(args, 0)}, "Sleep (skipped)")
		return Empty, nil
	})

	registerBuiltin("Now", func(ctx *Context, args []Value) (Value, error) {
		return Str("2020-01-01 12:00:00"), nil
	})
	registerBuiltin("Date", func(ctx *Context, args []Value) (Value, error) {
		return Str("2020-01-01"), nil
	})
	registerBuiltin("Time", func(ctx *Context, args []Value) (Value, error) {
		return Str("12:00:00"), nil
	})
}

// newHostObject instantiates the shallow model for a ProgID. Unrecognized
// classes still get an object so property sets and method calls have a
// target; their methods answer Unknown.
func newHostObject(class string) Value {
	canonical := strings.ToLower(class)
	o := &Object{Class: class, Props: map[string]Value{}}
	switch {
	case strings.Contains(canonical, "wscript.shell"):
		o.Class = "WScript.Shell"
	case strings.Contains(canonical, "filesystemobject"):
		o.Class = "Scripting.FileSystemObject"
	case strings.Contains(canonical, "adodb.stream"):
		o.Class = "ADODB.Stream"
	case strings.Contains(canonical, "xmlhttp") || strings.Contains(canonical, "winhttp"):
		o.Class = "MSXML2.XMLHTTP"
	case strings.Contains(canonical, "shell.application"):
		o.Class = "Shell.Application"
	}
	return ObjVal(o)
}
