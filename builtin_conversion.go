// builtin_conversion.go — Chr/Asc and the C* coercion family.
//
// Chr and Asc are the single most common obfuscation primitive in macro
// droppers; they go through the Windows-1252 mapping in value.go so byte
// values 128..255 round-trip the way they do on a real host.
package vmacro

import (
	"fmt"
	"strconv"
	"strings"
)

func init() {
	registerBuiltin("Chr", func(ctx *Context, args []Value) (Value, error) {
		code, err := argInt(args, 0)
		if err != nil {
			return Empty, err
		}
		if code < 0 || code > 0x10FFFF {
			return Empty, fmt.Errorf("Chr code %d out of range", code)
		}
		return Str(chrCP(code)), nil
	})

	registerBuiltin("ChrW", func(ctx *Context, args []Value) (Value, error) {
		code, err := argInt(args, 0)
		if err != nil {
			return Empty, err
		}
		if code < 0 {
			code += 0x10000 // negative ChrW wraps, a known obfuscation trick
		}
		return Str(string(rune(code))), nil
	})

	registerBuiltin("Asc", func(ctx *Context, args []Value) (Value, error) {
		s := argStr(args, 0)
		if s == "" {
			return Empty, fmt.Errorf("Asc of empty string")
		}
		return Int(ascCP([]rune(s)[0])), nil
	})

	registerBuiltin("AscW", func(ctx *Context, args []Value) (Value, error) {
		s := argStr(args, 0)
		if s == "" {
			return Empty, fmt.Errorf("AscW of empty string")
		}
		return Int(int64([]rune(s)[0])), nil
	})

	registerBuiltin("CStr", func(ctx *Context, args []Value) (Value, error) {
		return Str(argStr(args, 0)), nil
	})

	cInt := func(ctx *Context, args []Value) (Value, error) {
		n, ok := asInt(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("cannot coerce %q to a number", argStr(args, 0))
		}
		return Int(n), nil
	}
	registerBuiltin("CInt", cInt)
	registerBuiltin("CLng", cInt)
	registerBuiltin("CByte", func(ctx *Context, args []Value) (Value, error) {
		n, ok := asInt(arg(args, 0))
		if !ok || n < 0 || n > 255 {
			return Empty, fmt.Errorf("value out of Byte range")
		}
		return Int(n), nil
	})

	cDbl := func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("cannot coerce %q to a number", argStr(args, 0))
		}
		return Num(f), nil
	}
	registerBuiltin("CDbl", cDbl)
	registerBuiltin("CSng", cDbl)

	registerBuiltin("CBool", func(ctx *Context, args []Value) (Value, error) {
		b, ok := truthy(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("cannot coerce %q to Boolean", argStr(args, 0))
		}
		return Bool(b), nil
	})

	registerBuiltin("CVar", func(ctx *Context, args []Value) (Value, error) {
		return arg(args, 0), nil
	})

	// Val reads the longest numeric prefix and never errors.
	registerBuiltin("Val", func(ctx *Context, args []Value) (Value, error) {
		s := strings.TrimSpace(argStr(args, 0))
		end := 0
		seenDot := false
		for end < len(s) {
			c := s[end]
			if c >= '0' && c <= '9' {
				end++
				continue
			}
			if c == '.' && !seenDot {
				seenDot = true
				end++
				continue
			}
			if (c == '-' || c == '+') && end == 0 {
				end++
				continue
			}
			if c == ' ' { // Val skips embedded spaces
				s = s[:end] + s[end+1:]
				continue
			}
			break
		}
		if end == 0 {
			return Int(0), nil
		}
		if seenDot {
			f, _ := strconv.ParseFloat(s[:end], 64)
			return Num(f), nil
		}
		n, _ := strconv.ParseInt(s[:end], 10, 64)
		return Int(n), nil
	})

	// Str prefixes non-negative numbers with a space, a detail decoder
	// arithmetic sometimes depends on.
	registerBuiltin("Str", func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok {
			return Str(argStr(args, 0)), nil
		}
		s := asString(arg(args, 0))
		if f >= 0 {
			s = " " + s
		}
		return Str(s), nil
	})

	registerBuiltin("Hex", func(ctx *Context, args []Value) (Value, error) {
		n, err := argInt(args, 0)
		if err != nil {
			return Empty, err
		}
		return Str(strings.ToUpper(strconv.FormatInt(n, 16))), nil
	})

	registerBuiltin("Oct", func(ctx *Context, args []Value) (Value, error) {
		n, err := argInt(args, 0)
		if err != nil {
			return Empty, err
		}
		return Str(strconv.FormatInt(n, 8)), nil
	})

	registerBuiltin("IsNumeric", func(ctx *Context, args []Value) (Value, error) {
		_, ok := asNumber(arg(args, 0))
		return Bool(ok), nil
	})
	registerBuiltin("IsEmpty", func(ctx *Context, args []Value) (Value, error) {
		return Bool(arg(args, 0).Tag == VTEmpty), nil
	})
	registerBuiltin("IsNull", func(ctx *Context, args []Value) (Value, error) {
		return Bool(arg(args, 0).Tag == VTNull), nil
	})
	registerBuiltin("IsObject", func(ctx *Context, args []Value) (Value, error) {
		return Bool(arg(args, 0).Tag == VTObject), nil
	})

	registerBuiltin("TypeName", func(ctx *Context, args []Value) (Value, error) {
		switch v := arg(args, 0); v.Tag {
		case VTEmpty:
			return Str("Empty"), nil
		case VTNull:
			return Str("Null"), nil
		case VTBool:
			return Str("Boolean"), nil
		case VTInt:
			return Str("Long"), nil
		case VTNum:
			return Str("Double"), nil
		case VTStr:
			return Str("String"), nil
		case VTBytes:
			return Str("Byte()"), nil
		case VTObject:
			return Str(v.Data.(*Object).Class), nil
		default:
			return Str("Variant"), nil
		}
	})

	registerBuiltin("Array", func(ctx *Context, args []Value) (Value, error) {
		items := make([]Value, len(args))
		copy(items, args)
		return NewArray(items), nil
	})

	registerBuiltin("UBound", func(ctx *Context, args []Value) (Value, error) {
		arr, ok := arrayOf(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("UBound of non-array")
		}
		return Int(int64(len(arr.Items)) - 1), nil
	})
	registerBuiltin("LBound", func(ctx *Context, args []Value) (Value, error) {
		if _, ok := arrayOf(arg(args, 0)); !ok {
			return Empty, fmt.Errorf("LBound of non-array")
		}
		return Int(0), nil
	})
}
