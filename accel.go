// accel.go — bytecode acceleration for hot decoder loops.
//
// Obfuscated macros burn most of their runtime in one shape of loop: a
// counted For over simple locals whose body is nothing but assignments of
// string/arithmetic expressions and pure builtins (Mid/Chr/Asc/Xor chains).
// Those loops compile to a tiny stack bytecode and run without touching the
// tree walker or the scope chain per iteration.
//
// The opcode set is closed and the compiler rejects anything outside it:
// member access, arrays, user procedure calls, control flow, impure
// builtins. A rejected loop (or a bytecode runtime error) falls back to
// tree-walking, so acceleration is never observable in results, only in
// time. Every value op delegates to the same coercion helpers the tree
// walker uses.
package vmacro

import (
	"math"
	"strings"
)

type opcode uint8

const (
	opConst opcode = iota // push Consts[imm]
	opLoad                // push slot[imm]
	opStore               // pop into slot[imm]
	opAdd                 // loose `+`
	opConcat
	opSub
	opMul
	opDiv
	opIntDiv
	opMod
	opPow
	opEq
	opNe
	opLt
	opGt
	opLe
	opGe
	opAnd
	opOr
	opXor
	opNeg
	opNot
	opCallB // imm = builtinIdx<<8 | argc
)

// pack encodes an instruction: high byte opcode, low 24 bits immediate.
func pack(op opcode, imm int) uint32 { return uint32(op)<<24 | uint32(imm)&0xFFFFFF }

func unpack(ins uint32) (opcode, int) { return opcode(ins >> 24), int(ins & 0xFFFFFF) }

// accelChunk is one compiled loop body.
type accelChunk struct {
	code     []uint32
	consts   []Value
	slots    []string // local variable names, slot index = position
	stored   []bool   // slots the body assigns; read-only slots stay unbound
	builtins []BuiltinFunc
	maxStack int
}

// accelSafeBuiltins are the pure builtins the compiler may emit calls to.
// Anything that records actions, touches the file table, or reads context
// state beyond its arguments is excluded.
var accelSafeBuiltins = map[string]bool{
	"chr": true, "chrw": true, "asc": true, "ascw": true,
	"len": true, "mid": true, "left": true, "right": true,
	"ucase": true, "lcase": true, "trim": true, "ltrim": true, "rtrim": true,
	"str": true, "val": true, "cstr": true, "cint": true, "clng": true,
	"cdbl": true, "cbool": true, "hex": true, "oct": true,
	"abs": true, "int": true, "fix": true, "sgn": true, "sqr": true,
	"strreverse": true, "replace": true, "instr": true, "instrrev": true,
	"string": true, "space": true,
}

var accelBinOps = map[string]opcode{
	"+": opAdd, "&": opConcat, "-": opSub, "*": opMul, "/": opDiv,
	"\\": opIntDiv, "mod": opMod, "^": opPow,
	"=": opEq, "<>": opNe, "<": opLt, ">": opGt, "<=": opLe, ">=": opGe,
	"and": opAnd, "or": opOr, "xor": opXor,
}

/* ===========================
   Compiler
   =========================== */

type accelCompiler struct {
	chunk   accelChunk
	slotIdx map[string]int
	depth   int // current stack depth while emitting
}

func (c *accelCompiler) emit(op opcode, imm int) {
	c.chunk.code = append(c.chunk.code, pack(op, imm))
}

func (c *accelCompiler) bump(delta int) {
	c.depth += delta
	if c.depth > c.chunk.maxStack {
		c.chunk.maxStack = c.depth
	}
}

func (c *accelCompiler) slot(name string) int {
	key := strings.ToLower(name)
	if i, ok := c.slotIdx[key]; ok {
		return i
	}
	i := len(c.chunk.slots)
	c.chunk.slots = append(c.chunk.slots, key)
	c.slotIdx[key] = i
	return i
}

func (c *accelCompiler) constant(v Value) int {
	c.chunk.consts = append(c.chunk.consts, v)
	return len(c.chunk.consts) - 1
}

// compileForLoop compiles s's body. ok=false means the loop is outside the
// accelerable subset.
func compileForLoop(s *ForStmt) (*accelChunk, bool) {
	c := &accelCompiler{slotIdx: map[string]int{}}
	c.slot(s.Var) // counter always occupies slot 0
	for _, st := range s.Body.Stmts() {
		as, isAssign := st.(*AssignStmt)
		if !isAssign || as.Set {
			return nil, false
		}
		target, isIdent := as.Target.(*IdentExpr)
		if !isIdent {
			return nil, false
		}
		if !c.compileExpr(as.Value) {
			return nil, false
		}
		c.emit(opStore, c.slot(target.Name))
		c.bump(-1)
	}
	if len(c.chunk.code) == 0 {
		return nil, false
	}
	c.chunk.stored = make([]bool, len(c.chunk.slots))
	for _, ins := range c.chunk.code {
		if op, imm := unpack(ins); op == opStore {
			c.chunk.stored[imm] = true
		}
	}
	return &c.chunk, true
}

func (c *accelCompiler) compileExpr(e Expr) bool {
	switch x := e.(type) {
	case *LitExpr:
		c.emit(opConst, c.constant(x.Val))
		c.bump(1)
		return true

	case *IdentExpr:
		// named constants fold; anything else is a local slot
		if v, ok := namedConstants[strings.ToLower(x.Name)]; ok {
			c.emit(opConst, c.constant(v))
			c.bump(1)
			return true
		}
		c.emit(opLoad, c.slot(x.Name))
		c.bump(1)
		return true

	case *ParenExpr:
		return c.compileExpr(x.X)

	case *BinExpr:
		op, ok := accelBinOps[x.Op]
		if !ok {
			return false
		}
		if !c.compileExpr(x.L) || !c.compileExpr(x.R) {
			return false
		}
		c.emit(op, 0)
		c.bump(-1)
		return true

	case *UnaryExpr:
		if !c.compileExpr(x.X) {
			return false
		}
		if x.Op == "not" {
			c.emit(opNot, 0)
		} else {
			c.emit(opNeg, 0)
		}
		return true

	case *CallExpr:
		ident, isIdent := x.Callee.(*IdentExpr)
		if !isIdent {
			return false
		}
		name := strings.ToLower(strings.TrimSuffix(ident.Name, "$"))
		if !accelSafeBuiltins[name] {
			return false
		}
		fn, ok := lookupBuiltin(name)
		if !ok || len(x.Args) > 0xFF {
			return false
		}
		for _, a := range x.Args {
			if !c.compileExpr(a) {
				return false
			}
		}
		bIdx := len(c.chunk.builtins)
		c.chunk.builtins = append(c.chunk.builtins, fn)
		c.emit(opCallB, bIdx<<8|len(x.Args))
		c.bump(1 - len(x.Args))
		return true
	}
	return false
}

/* ===========================
   VM
   =========================== */

// runChunk executes one iteration of the compiled body over slots.
// Errors (type mismatch, builtin failure) abort so the caller can fall
// back to the tree walker.
func runChunk(ctx *Context, ch *accelChunk, slots []Value) error {
	stack := make([]Value, 0, ch.maxStack)
	for _, ins := range ch.code {
		op, imm := unpack(ins)
		switch op {
		case opConst:
			stack = append(stack, ch.consts[imm])
		case opLoad:
			stack = append(stack, slots[imm])
		case opStore:
			slots[imm] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case opCallB:
			argc := imm & 0xFF
			fn := ch.builtins[imm>>8]
			args := stack[len(stack)-argc:]
			v, err := fn(ctx, args)
			if err != nil {
				return err
			}
			stack = stack[:len(stack)-argc]
			stack = append(stack, v)
		case opNeg:
			v := stack[len(stack)-1]
			if v.Tag == VTInt {
				stack[len(stack)-1] = Int(-v.Data.(int64))
				continue
			}
			f, ok := asNumber(v)
			if !ok {
				return &RuntimeError{Msg: "negation of non-number"}
			}
			stack[len(stack)-1] = Num(-f)
		case opNot:
			v := stack[len(stack)-1]
			if v.Tag == VTBool {
				stack[len(stack)-1] = Bool(!v.Data.(bool))
				continue
			}
			n, ok := asInt(v)
			if !ok {
				return &RuntimeError{Msg: "Not of non-number"}
			}
			stack[len(stack)-1] = Int(^n)
		default:
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-1]
			v, err := applyBinOp(op, a, b)
			if err != nil {
				return err
			}
			stack[len(stack)-1] = v
		}
	}
	return nil
}

// applyBinOp mirrors the tree walker's operator semantics exactly; both
// paths share the coercion helpers in value.go.
func applyBinOp(op opcode, a, b Value) (Value, error) {
	switch op {
	case opAdd:
		return vbAdd(a, b), nil
	case opConcat:
		return vbConcat(a, b), nil
	case opSub, opMul, opDiv, opIntDiv, opMod, opPow:
		fa, fb, bothInt, ok := numericPair(a, b)
		if !ok {
			return Empty, &RuntimeError{Msg: "type mismatch"}
		}
		switch op {
		case opSub:
			if bothInt {
				return Int(int64(fa) - int64(fb)), nil
			}
			return Num(fa - fb), nil
		case opMul:
			if bothInt {
				return Int(int64(fa) * int64(fb)), nil
			}
			return Num(fa * fb), nil
		case opDiv:
			if fb == 0 {
				return Empty, &RuntimeError{Msg: "division by zero"}
			}
			return Num(fa / fb), nil
		case opIntDiv:
			if int64(fb) == 0 {
				return Empty, &RuntimeError{Msg: "division by zero"}
			}
			return Int(int64(fa) / int64(fb)), nil
		case opMod:
			if int64(fb) == 0 {
				return Empty, &RuntimeError{Msg: "division by zero"}
			}
			return Int(int64(fa) % int64(fb)), nil
		default:
			return Num(powFloat(fa, fb)), nil
		}
	case opEq, opNe, opLt, opGt, opLe, opGe:
		cmp, ok := vbCompare(a, b)
		if !ok {
			return Empty, &RuntimeError{Msg: "incomparable values"}
		}
		switch op {
		case opEq:
			return Bool(cmp == 0), nil
		case opNe:
			return Bool(cmp != 0), nil
		case opLt:
			return Bool(cmp < 0), nil
		case opGt:
			return Bool(cmp > 0), nil
		case opLe:
			return Bool(cmp <= 0), nil
		default:
			return Bool(cmp >= 0), nil
		}
	case opAnd, opOr, opXor:
		if a.Tag == VTBool && b.Tag == VTBool {
			ba, bb := a.Data.(bool), b.Data.(bool)
			switch op {
			case opAnd:
				return Bool(ba && bb), nil
			case opOr:
				return Bool(ba || bb), nil
			default:
				return Bool(ba != bb), nil
			}
		}
		ia, oka := asInt(a)
		ib, okb := asInt(b)
		if !oka || !okb {
			return Empty, &RuntimeError{Msg: "type mismatch"}
		}
		switch op {
		case opAnd:
			return Int(ia & ib), nil
		case opOr:
			return Int(ia | ib), nil
		default:
			return Int(ia ^ ib), nil
		}
	}
	return Empty, &RuntimeError{Msg: "bad opcode"}
}

/* ===========================
   Evaluator hook
   =========================== */

// tryAccelFor attempts the bytecode path for a For loop whose bounds the
// caller has already evaluated. Reports whether the loop was fully handled;
// false falls back to tree-walking with the same bounds, so bound
// expressions never run twice.
func (ev *Evaluator) tryAccelFor(s *ForStmt, lo, hi, step float64) bool {
	if ev.accelCache == nil {
		ev.accelCache = map[*ForStmt]*accelChunk{}
	}
	ch, seen := ev.accelCache[s]
	if !seen {
		ch, _ = compileForLoop(s)
		ev.accelCache[s] = ch // nil marks "not accelerable"
	}
	if ch == nil {
		return false
	}

	// snapshot every slot from the scope chain
	slots := make([]Value, len(ch.slots))
	for i, name := range ch.slots {
		if v, ok := ev.ctx.Get(name); ok {
			slots[i] = v
		} else {
			slots[i] = Empty
		}
	}

	intLoop := lo == float64(int64(lo)) && hi == float64(int64(hi)) && step == float64(int64(step))
	iters := 0
	for v := lo; (step >= 0 && v <= hi) || (step < 0 && v >= hi); v += step {
		if iters >= ev.ctx.Bounds.MaxLoopIterations {
			ev.ctx.DiagErr("eval", &LoopLimitError{Line: lineOf(s), Limit: ev.ctx.Bounds.MaxLoopIterations})
			break
		}
		iters++
		if intLoop {
			slots[0] = Int(int64(v))
		} else {
			slots[0] = Num(v)
		}
		if rerr := runChunk(ev.ctx, ch, slots); rerr != nil {
			return false // fall back; no writes have escaped yet
		}
		// honor counter mutation by the body
		if f, ok := asNumber(slots[0]); ok {
			v = f
		}
	}
	if iters == 0 {
		return true // zero-trip loop touches nothing, same as the tree walker
	}

	// write back the counter and every slot the body assigned; slots the
	// body only read keep whatever binding state they had
	for i, name := range ch.slots {
		if i > 0 && !ch.stored[i] {
			continue
		}
		ev.ctx.Set(name, slots[i])
	}
	return true
}

func powFloat(a, b float64) float64 {
	// small integer powers stay exact
	if b == float64(int64(b)) && b >= 0 && b <= 64 {
		out := 1.0
		for i := int64(0); i < int64(b); i++ {
			out *= a
		}
		return out
	}
	return math.Pow(a, b)
}
