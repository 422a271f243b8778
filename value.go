// value.go — runtime value model and loose VBA coercions.
//
// Value is a small tagged sum covering the kinds a macro can produce: Empty
// (uninitialized), Null, booleans, integers, doubles, strings, byte buffers,
// host objects, and Unknown (the opaque stand-in for anything the emulator
// cannot model). The coercion helpers reproduce VBA's loose typing, which
// obfuscated macros lean on heavily:
//
//   - `&` always concatenates as strings.
//   - `+` tries numeric addition first; if either side is a non-numeric
//     string it falls back to integer-string addition, then to string
//     concatenation. This is deliberate: maldocs add strings that "happen"
//     to be numbers, and triage results must match the real host.
//   - Comparisons are numeric when both sides coerce, otherwise string.
//
// Characters 128–255 round-trip through the Windows-1252 code page (the
// code page macros almost always run under), so Chr(233) is "é" and
// Asc("é") is 233 again.
package vmacro

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ValueTag enumerates all runtime kinds a Value may hold.
type ValueTag int

const (
	VTEmpty   ValueTag = iota // uninitialized variable (VBA Empty)
	VTNull                    // VBA Null
	VTBool                    // bool
	VTInt                     // int64 (Integer/Long collapse to one width)
	VTNum                     // float64 (Single/Double)
	VTStr                     // string
	VTBytes                   // []byte (binary payloads)
	VTObject                  // *Object (shallow host-object model)
	VTUnknown                 // opaque stand-in for unmodeled results
)

// Value is the universal runtime carrier. Tag determines which Go type Data
// holds (see ValueTag). Empty and Null carry no payload.
type Value struct {
	Tag  ValueTag
	Data interface{}
}

// Empty is the singleton uninitialized value.
var Empty = Value{Tag: VTEmpty}

// NullVal is the singleton VBA Null.
var NullVal = Value{Tag: VTNull}

// Unknown is the opaque value substituted for unmodeled constructs.
var Unknown = Value{Tag: VTUnknown}

func Bool(b bool) Value      { return Value{Tag: VTBool, Data: b} }
func Int(n int64) Value      { return Value{Tag: VTInt, Data: n} }
func Num(f float64) Value    { return Value{Tag: VTNum, Data: f} }
func Str(s string) Value     { return Value{Tag: VTStr, Data: s} }
func Bytes(b []byte) Value   { return Value{Tag: VTBytes, Data: b} }
func ObjVal(o *Object) Value { return Value{Tag: VTObject, Data: o} }

// Object is a shallow model of a host COM object: a class name plus a
// property bag. Method dispatch lives in builtin_objects.go. Arrays reuse
// the same carrier with Class "Array" and the elements in Items.
type Object struct {
	Class string
	Props map[string]Value

	// array-like collections
	Items []Value

	// file-backed objects (TextStream, ADODB.Stream) carry their path
	Path string
}

// NewArray wraps elements as an array value.
func NewArray(items []Value) Value {
	return ObjVal(&Object{Class: "Array", Items: items})
}

// arrayOf unwraps an array value, nil/false when v is not one.
func arrayOf(v Value) (*Object, bool) {
	if v.Tag != VTObject {
		return nil, false
	}
	o := v.Data.(*Object)
	if o.Class != "Array" {
		return nil, false
	}
	return o, true
}

func (v Value) String() string {
	switch v.Tag {
	case VTEmpty:
		return "Empty"
	case VTNull:
		return "Null"
	case VTBool:
		if v.Data.(bool) {
			return "True"
		}
		return "False"
	case VTInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case VTNum:
		return strconv.FormatFloat(v.Data.(float64), 'g', -1, 64)
	case VTStr:
		return v.Data.(string)
	case VTBytes:
		return fmt.Sprintf("<bytes len=%d>", len(v.Data.([]byte)))
	case VTObject:
		return "<" + v.Data.(*Object).Class + ">"
	default:
		return "<unknown>"
	}
}

func isNumber(v Value) bool { return v.Tag == VTInt || v.Tag == VTNum }

/* ===========================
   Coercions
   =========================== */

// asNumber coerces v to a float64 where VBA would. Strings must parse fully
// (after trimming); Empty is 0; True is -1 as in VBA.
func asNumber(v Value) (float64, bool) {
	switch v.Tag {
	case VTInt:
		return float64(v.Data.(int64)), true
	case VTNum:
		return v.Data.(float64), true
	case VTBool:
		if v.Data.(bool) {
			return -1, true
		}
		return 0, true
	case VTEmpty:
		return 0, true
	case VTStr:
		s := strings.TrimSpace(v.Data.(string))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asInt coerces to int64 with VBA banker's-free rounding (round half away
// from zero is close enough for the subset macros use).
func asInt(v Value) (int64, bool) {
	if v.Tag == VTInt {
		return v.Data.(int64), true
	}
	f, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	if f < 0 {
		return int64(math.Ceil(f - 0.5)), true
	}
	return int64(math.Floor(f + 0.5)), true
}

// asString renders v the way VBA's implicit string coercion does.
// Empty renders as "", numbers in their shortest decimal form.
func asString(v Value) string {
	switch v.Tag {
	case VTEmpty, VTNull:
		return ""
	case VTBytes:
		return decodeBytes(v.Data.([]byte))
	default:
		return v.String()
	}
}

// truthy applies VBA CBool semantics: booleans as-is, numbers non-zero,
// strings "True"/"False" (case-insensitive) or numeric.
func truthy(v Value) (bool, bool) {
	switch v.Tag {
	case VTBool:
		return v.Data.(bool), true
	case VTInt:
		return v.Data.(int64) != 0, true
	case VTNum:
		return v.Data.(float64) != 0, true
	case VTStr:
		s := strings.TrimSpace(v.Data.(string))
		if strings.EqualFold(s, "true") {
			return true, true
		}
		if strings.EqualFold(s, "false") {
			return false, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0, true
		}
		return false, false
	case VTEmpty:
		return false, true
	default:
		return false, false
	}
}

/* ===========================
   Operators
   =========================== */

// vbAdd implements `+`. Numeric addition first; if either operand is a
// non-numeric string, try integer-string addition; punt to concatenation.
// Mirrors the forgiving order real maldocs depend on.
func vbAdd(a, b Value) Value {
	if isNumber(a) && isNumber(b) {
		if a.Tag == VTInt && b.Tag == VTInt {
			return Int(a.Data.(int64) + b.Data.(int64))
		}
		fa, _ := asNumber(a)
		fb, _ := asNumber(b)
		return Num(fa + fb)
	}
	fa, oka := asNumber(a)
	fb, okb := asNumber(b)
	if oka && okb {
		if fa == math.Trunc(fa) && fb == math.Trunc(fb) {
			return Int(int64(fa) + int64(fb))
		}
		return Num(fa + fb)
	}
	return Str(asString(a) + asString(b))
}

// vbConcat implements `&`: always a string.
func vbConcat(a, b Value) Value { return Str(asString(a) + asString(b)) }

// numericPair coerces both sides for an arithmetic operator; int result
// only when both sides were integral.
func numericPair(a, b Value) (fa, fb float64, bothInt, ok bool) {
	fa, oka := asNumber(a)
	fb, okb := asNumber(b)
	if !oka || !okb {
		return 0, 0, false, false
	}
	bothInt = a.Tag == VTInt && b.Tag == VTInt
	return fa, fb, bothInt, true
}

// vbCompare returns -1/0/1 with numeric comparison when both sides coerce,
// string comparison otherwise. The ok flag is false for incomparable pairs.
func vbCompare(a, b Value) (int, bool) {
	if fa, oka := asNumber(a); oka {
		if fb, okb := asNumber(b); okb {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	if a.Tag == VTObject || b.Tag == VTObject || a.Tag == VTUnknown || b.Tag == VTUnknown {
		return 0, false
	}
	sa, sb := asString(a), asString(b)
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	}
	return 0, true
}

/* ===========================
   Code page (Windows-1252)
   =========================== */

// chrCP maps a character code to a string the way Chr does under the
// Windows-1252 code page. Codes above 255 take the Unicode meaning (ChrW).
func chrCP(code int64) string {
	if code >= 0 && code < 128 {
		return string(rune(code))
	}
	if code >= 128 && code < 256 {
		return string(charmap.Windows1252.DecodeByte(byte(code)))
	}
	return string(rune(code))
}

// ascCP is the inverse mapping for Asc: runes that exist in Windows-1252
// report their code-page byte, everything else its code point.
func ascCP(r rune) int64 {
	if r < 128 {
		return int64(r)
	}
	if b, ok := charmap.Windows1252.EncodeRune(r); ok {
		return int64(b)
	}
	return int64(r)
}

// decodeBytes renders a binary payload as text via the document code page.
func decodeBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 128 {
			sb.WriteByte(c)
			continue
		}
		sb.WriteRune(charmap.Windows1252.DecodeByte(c))
	}
	return sb.String()
}
