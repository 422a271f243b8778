// builtin_strings.go — string builtins, the workhorses of macro deobfuscation.
//
// Registration pattern: each builtin_*.go file registers its functions into
// one case-insensitive table at init time. Overrides installed on a Context
// shadow this table; user procedures shadow it too.
package vmacro

import (
	"fmt"
	"strings"
)

var builtinTable = map[string]BuiltinFunc{}

func registerBuiltin(name string, fn BuiltinFunc) {
	builtinTable[strings.ToLower(name)] = fn
}

func lookupBuiltin(name string) (BuiltinFunc, bool) {
	// the $-suffixed spellings (Chr$, Mid$, ...) alias the plain ones
	fn, ok := builtinTable[strings.ToLower(strings.TrimSuffix(name, "$"))]
	return fn, ok
}

/* ---------- argument helpers ---------- */

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Empty
}

func argStr(args []Value, i int) string { return asString(arg(args, i)) }

func argInt(args []Value, i int) (int64, error) {
	n, ok := asInt(arg(args, i))
	if !ok {
		return 0, fmt.Errorf("argument %d is not numeric", i+1)
	}
	return n, nil
}

func optInt(args []Value, i int, def int64) int64 {
	if i >= len(args) {
		return def
	}
	if n, ok := asInt(args[i]); ok {
		return n
	}
	return def
}

/* ---------- string builtins ---------- */

func init() {
	registerBuiltin("Len", func(ctx *Context, args []Value) (Value, error) {
		v := arg(args, 0)
		if v.Tag == VTBytes {
			return Int(int64(len(v.Data.([]byte)))), nil
		}
		return Int(int64(len([]rune(asString(v))))), nil
	})

	// Mid is 1-based; out-of-range positions clamp instead of erroring, the
	// way the decoder loops in the wild expect.
	registerBuiltin("Mid", func(ctx *Context, args []Value) (Value, error) {
		s := []rune(argStr(args, 0))
		start, err := argInt(args, 1)
		if err != nil {
			return Empty, err
		}
		if start < 1 {
			start = 1
		}
		if start > int64(len(s)) {
			return Str(""), nil
		}
		n := optInt(args, 2, int64(len(s))-start+1)
		if n < 0 {
			n = 0
		}
		end := start - 1 + n
		if end > int64(len(s)) {
			end = int64(len(s))
		}
		return Str(string(s[start-1 : end])), nil
	})

	registerBuiltin("Left", func(ctx *Context, args []Value) (Value, error) {
		s := []rune(argStr(args, 0))
		n, err := argInt(args, 1)
		if err != nil {
			return Empty, err
		}
		if n < 0 {
			n = 0
		}
		if n > int64(len(s)) {
			n = int64(len(s))
		}
		return Str(string(s[:n])), nil
	})

	registerBuiltin("Right", func(ctx *Context, args []Value) (Value, error) {
		s := []rune(argStr(args, 0))
		n, err := argInt(args, 1)
		if err != nil {
			return Empty, err
		}
		if n < 0 {
			n = 0
		}
		if n > int64(len(s)) {
			n = int64(len(s))
		}
		return Str(string(s[int64(len(s))-n:])), nil
	})

	registerBuiltin("UCase", func(ctx *Context, args []Value) (Value, error) {
		return Str(strings.ToUpper(argStr(args, 0))), nil
	})
	registerBuiltin("LCase", func(ctx *Context, args []Value) (Value, error) {
		return Str(strings.ToLower(argStr(args, 0))), nil
	})
	registerBuiltin("Trim", func(ctx *Context, args []Value) (Value, error) {
		return Str(strings.Trim(argStr(args, 0), " ")), nil
	})
	registerBuiltin("LTrim", func(ctx *Context, args []Value) (Value, error) {
		return Str(strings.TrimLeft(argStr(args, 0), " ")), nil
	})
	registerBuiltin("RTrim", func(ctx *Context, args []Value) (Value, error) {
		return Str(strings.TrimRight(argStr(args, 0), " ")), nil
	})

	registerBuiltin("Space", func(ctx *Context, args []Value) (Value, error) {
		n, err := argInt(args, 0)
		if err != nil || n < 0 {
			return Str(""), err
		}
		return Str(strings.Repeat(" ", int(n))), nil
	})

	// String(n, char) — char may be a code or a string
	registerBuiltin("String", func(ctx *Context, args []Value) (Value, error) {
		n, err := argInt(args, 0)
		if err != nil || n < 0 {
			return Str(""), err
		}
		ch := arg(args, 1)
		var unit string
		if code, ok := asInt(ch); ok && ch.Tag != VTStr {
			unit = chrCP(code)
		} else {
			s := asString(ch)
			if s == "" {
				return Str(""), nil
			}
			unit = string([]rune(s)[0])
		}
		return Str(strings.Repeat(unit, int(n))), nil
	})

	registerBuiltin("StrReverse", func(ctx *Context, args []Value) (Value, error) {
		r := []rune(argStr(args, 0))
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return Str(string(r)), nil
	})

	registerBuiltin("Replace", func(ctx *Context, args []Value) (Value, error) {
		s, find, repl := argStr(args, 0), argStr(args, 1), argStr(args, 2)
		start := optInt(args, 3, 1)
		count := optInt(args, 4, -1)
		if start > 1 {
			r := []rune(s)
			if start > int64(len(r)) {
				return Str(""), nil
			}
			s = string(r[start-1:])
		}
		if find == "" {
			return Str(s), nil
		}
		return Str(strings.Replace(s, find, repl, int(count))), nil
	})

	// InStr([start,] haystack, needle) — 1-based, 0 when absent
	registerBuiltin("InStr", func(ctx *Context, args []Value) (Value, error) {
		start := int64(1)
		i := 0
		if len(args) >= 3 {
			if n, ok := asInt(args[0]); ok && args[0].Tag != VTStr {
				start, i = n, 1
			}
		}
		hay, needle := argStr(args, i), argStr(args, i+1)
		if start < 1 {
			start = 1
		}
		r := []rune(hay)
		if start > int64(len(r)) {
			return Int(0), nil
		}
		idx := strings.Index(string(r[start-1:]), needle)
		if idx < 0 {
			return Int(0), nil
		}
		return Int(start + int64(len([]rune(string(r[start-1:])[:idx])))), nil
	})

	registerBuiltin("InStrRev", func(ctx *Context, args []Value) (Value, error) {
		hay, needle := argStr(args, 0), argStr(args, 1)
		idx := strings.LastIndex(hay, needle)
		if idx < 0 {
			return Int(0), nil
		}
		return Int(int64(len([]rune(hay[:idx]))) + 1), nil
	})

	registerBuiltin("StrComp", func(ctx *Context, args []Value) (Value, error) {
		a, b := argStr(args, 0), argStr(args, 1)
		if optInt(args, 2, 0) == 1 { // vbTextCompare
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		return Int(int64(strings.Compare(a, b))), nil
	})

	registerBuiltin("Split", func(ctx *Context, args []Value) (Value, error) {
		s := argStr(args, 0)
		sep := " "
		if len(args) > 1 {
			sep = argStr(args, 1)
		}
		var parts []string
		if sep == "" {
			parts = []string{s}
		} else {
			parts = strings.Split(s, sep)
		}
		items := make([]Value, len(parts))
		for i, p := range parts {
			items[i] = Str(p)
		}
		return NewArray(items), nil
	})

	registerBuiltin("Join", func(ctx *Context, args []Value) (Value, error) {
		arr, ok := arrayOf(arg(args, 0))
		if !ok {
			return Str(argStr(args, 0)), nil
		}
		sep := " "
		if len(args) > 1 {
			sep = argStr(args, 1)
		}
		parts := make([]string, len(arr.Items))
		for i, v := range arr.Items {
			parts[i] = asString(v)
		}
		return Str(strings.Join(parts, sep)), nil
	})

	// Format with no format spec is a plain string coercion; the numeric
	// format language is out of emulation scope.
	registerBuiltin("Format", func(ctx *Context, args []Value) (Value, error) {
		return Str(argStr(args, 0)), nil
	})

	// StrConv: vbUpperCase=1, vbLowerCase=2, vbUnicode=64, vbFromUnicode=128
	registerBuiltin("StrConv", func(ctx *Context, args []Value) (Value, error) {
		s := argStr(args, 0)
		mode := optInt(args, 1, 0)
		switch mode {
		case 1:
			return Str(strings.ToUpper(s)), nil
		case 2:
			return Str(strings.ToLower(s)), nil
		case 64: // ANSI → UTF-16LE bytes
			b := make([]byte, 0, len(s)*2)
			for _, r := range s {
				b = append(b, byte(r), byte(r>>8))
			}
			return Bytes(b), nil
		case 128: // UTF-16LE bytes → string
			src := []byte(s)
			if v := arg(args, 0); v.Tag == VTBytes {
				src = v.Data.([]byte)
			}
			var sb strings.Builder
			for i := 0; i+1 < len(src); i += 2 {
				sb.WriteRune(rune(uint16(src[i]) | uint16(src[i+1])<<8))
			}
			return Str(sb.String()), nil
		}
		return Str(s), nil
	})
}
