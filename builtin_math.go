// builtin_math.go — numeric builtins.
//
// Rnd is deterministic: triage runs must be reproducible, so it steps a
// fixed linear congruential sequence per Context instead of consulting a
// real entropy source.
package vmacro

import (
	"fmt"
	"math"
)

func init() {
	registerBuiltin("Abs", func(ctx *Context, args []Value) (Value, error) {
		v := arg(args, 0)
		if v.Tag == VTInt {
			n := v.Data.(int64)
			if n < 0 {
				n = -n
			}
			return Int(n), nil
		}
		f, ok := asNumber(v)
		if !ok {
			return Empty, fmt.Errorf("Abs of non-number")
		}
		return Num(math.Abs(f)), nil
	})

	registerBuiltin("Sgn", func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("Sgn of non-number")
		}
		switch {
		case f > 0:
			return Int(1), nil
		case f < 0:
			return Int(-1), nil
		}
		return Int(0), nil
	})

	registerBuiltin("Sqr", func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok || f < 0 {
			return Empty, fmt.Errorf("Sqr of invalid value")
		}
		return Num(math.Sqrt(f)), nil
	})

	// Int truncates toward negative infinity, Fix toward zero.
	registerBuiltin("Int", func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("Int of non-number")
		}
		return Int(int64(math.Floor(f))), nil
	})
	registerBuiltin("Fix", func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("Fix of non-number")
		}
		return Int(int64(math.Trunc(f))), nil
	})

	registerBuiltin("Round", func(ctx *Context, args []Value) (Value, error) {
		f, ok := asNumber(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("Round of non-number")
		}
		places := optInt(args, 1, 0)
		scale := math.Pow(10, float64(places))
		return Num(math.Round(f*scale) / scale), nil
	})

	registerBuiltin("Exp", mathUnary(math.Exp))
	registerBuiltin("Log", mathUnary(math.Log))
	registerBuiltin("Sin", mathUnary(math.Sin))
	registerBuiltin("Cos", mathUnary(math.Cos))
	registerBuiltin("Tan", mathUnary(math.Tan))
	registerBuiltin("Atn", mathUnary(math.Atan))

	registerBuiltin("Rnd", func(ctx *Context, args []Value) (Value, error) {
		const key = "\x00rnd"
		state := uint32(0x2545F491)
		if v, ok := ctx.statics[key]; ok {
			if n, ok2 := asInt(v); ok2 {
				state = uint32(n)
			}
		}
		state = state*1103515245 + 12345
		ctx.statics[key] = Int(int64(state))
		return Num(float64(state%100000) / 100000.0), nil
	})

	registerBuiltin("Randomize", func(ctx *Context, args []Value) (Value, error) {
		return Empty, nil
	})

	registerBuiltin("Timer", func(ctx *Context, args []Value) (Value, error) {
		// fixed clock keeps timing-gated macros deterministic
		return Num(43200.0), nil
	})
}

func mathUnary(f func(float64) float64) BuiltinFunc {
	return func(ctx *Context, args []Value) (Value, error) {
		x, ok := asNumber(arg(args, 0))
		if !ok {
			return Empty, fmt.Errorf("non-numeric argument")
		}
		return Num(f(x)), nil
	}
}
