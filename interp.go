// interp.go — the tree-walking evaluator.
//
// Evaluation philosophy: never stop for something we cannot model. Unknown
// builtins and host objects produce the opaque Unknown value plus a
// diagnostic; runtime errors terminate only the procedure they occur in
// (unless On Error Resume Next is active for that invocation, in which case
// the statement is skipped); loop and recursion bounds abort the offending
// construct and keep going. The partial action trail is the product.
//
// Call resolution order for `Name(args)`:
//
//	1. Context overrides (analyst-installed instrumentation)
//	2. user procedures in the module
//	3. the builtin table
//	4. otherwise: Unknown, with a diagnostic
//
// Dispatch is an exhaustive type switch over the closed Stmt/Expr families
// in ast.go.
package vmacro

import (
	"fmt"
	"math"
	"strings"
)

// Evaluator executes one module against one Context.
type Evaluator struct {
	ctx *Context
	mod *Module

	// Accel gates the bytecode fast path for eligible For loops. The driver
	// sets it from Options; both paths produce identical results.
	Accel bool

	// per-loop compilation results; nil entries mark loops the bytecode
	// compiler rejected
	accelCache map[*ForStmt]*accelChunk
}

// NewEvaluator pairs a module with a run context.
func NewEvaluator(ctx *Context, mod *Module) *Evaluator {
	return &Evaluator{ctx: ctx, mod: mod, Accel: true}
}

// Context returns the evaluator's run context.
func (ev *Evaluator) Context() *Context { return ev.ctx }

// Module returns the evaluator's module.
func (ev *Evaluator) Module() *Module { return ev.mod }

// frame is per-invocation state. resumeNext resets on every call, matching
// the scoping of On Error Resume Next.
type frame struct {
	proc       *Procedure
	resumeNext bool
	statics    []string // Static names to persist at exit
}

/* ===========================
   Control signals
   =========================== */

// ctrlSignal threads Exit Sub/Function/For/Do through the error channel.
type ctrlSignal int

const (
	sigExitSub ctrlSignal = iota
	sigExitFunction
	sigExitFor
	sigExitDo
)

func (c ctrlSignal) Error() string {
	switch c {
	case sigExitSub:
		return "Exit Sub"
	case sigExitFunction:
		return "Exit Function"
	case sigExitFor:
		return "Exit For"
	}
	return "Exit Do"
}

/* ===========================
   Entry points
   =========================== */

// RunLoose executes the module's loose top-level statements, if any.
func (ev *Evaluator) RunLoose() error {
	if ev.mod.Loose == nil {
		return nil
	}
	fr := &frame{}
	err := ev.evalStmts(ev.mod.Loose.Stmts(), fr)
	if _, isCtrl := err.(ctrlSignal); isCtrl {
		return nil
	}
	return err
}

// CallProcedure invokes a user procedure by name with already-evaluated
// arguments. Used by the driver for entry points and by tests.
func (ev *Evaluator) CallProcedure(name string, args []Value) (Value, error) {
	p, ok := ev.mod.Procedure(name)
	if !ok {
		return Empty, &ConfigError{Msg: "no such procedure: " + name}
	}
	return ev.callUser(p, args, nil)
}

// Eval evaluates a standalone expression at module scope.
func (ev *Evaluator) Eval(e Expr) (Value, error) {
	return ev.evalExpr(e, &frame{})
}

/* ===========================
   Statements
   =========================== */

func (ev *Evaluator) evalStmts(stmts []Stmt, fr *frame) error {
	for _, st := range stmts {
		if err := ev.evalStmt(st, fr); err != nil {
			if _, isCtrl := err.(ctrlSignal); isCtrl {
				return err
			}
			if ue, ok := err.(*UnsupportedError); ok {
				ev.ctx.Diag("eval", lineOf(st), ue.Error())
				continue
			}
			if fr.resumeNext {
				ev.ctx.DiagErr("eval", err)
				continue
			}
			return err
		}
	}
	return nil
}

func lineOf(n Node) int {
	line, _ := n.Pos()
	return line
}

func (ev *Evaluator) evalStmt(st Stmt, fr *frame) error {
	switch s := st.(type) {
	case *Block:
		return ev.evalStmts(s.Stmts(), fr)

	case *DimStmt:
		for _, name := range s.Names {
			if s.Static && fr.proc != nil {
				if v, ok := ev.ctx.GetStatic(fr.proc.Name, name); ok {
					ev.ctx.SetLocal(name, v)
				} else {
					ev.ctx.SetLocal(name, Empty)
				}
				fr.statics = append(fr.statics, name)
				continue
			}
			ev.ctx.Declare(name)
		}
		return nil

	case *AssignStmt:
		v, err := ev.evalExpr(s.Value, fr)
		if err != nil {
			return err
		}
		return ev.assignTo(s.Target, v, fr)

	case *IfStmt:
		for _, arm := range s.Arms {
			cv, err := ev.evalExpr(arm.Cond, fr)
			if err != nil {
				return err
			}
			b, ok := truthy(cv)
			if !ok {
				if cv.Tag == VTUnknown {
					// a condition we cannot model takes the false branch
					ev.ctx.Diag("eval", lineOf(arm.Cond), "condition on unmodeled value")
					continue
				}
				return ev.rtErr(arm.Cond, "condition is not a Boolean")
			}
			if b {
				return ev.evalStmts(arm.Body.Stmts(), fr)
			}
		}
		if s.Else != nil {
			return ev.evalStmts(s.Else.Stmts(), fr)
		}
		return nil

	case *SelectStmt:
		subj, err := ev.evalExpr(s.Subject, fr)
		if err != nil {
			return err
		}
		for _, cc := range s.Cases {
			if len(cc.Matches) == 0 { // Case Else
				return ev.evalStmts(cc.Body.Stmts(), fr)
			}
			for _, me := range cc.Matches {
				mv, merr := ev.evalExpr(me, fr)
				if merr != nil {
					return merr
				}
				if cmp, ok := vbCompare(subj, mv); ok && cmp == 0 {
					return ev.evalStmts(cc.Body.Stmts(), fr)
				}
			}
		}
		return nil

	case *ForStmt:
		return ev.evalFor(s, fr)

	case *ForEachStmt:
		return ev.evalForEach(s, fr)

	case *DoLoopStmt:
		return ev.evalDoLoop(s, fr)

	case *CallStmt:
		_, err := ev.evalCall(s.Call, fr)
		return err

	case *OnErrorStmt:
		fr.resumeNext = s.Resume
		return nil

	case *ExitStmt:
		switch s.Kind {
		case ExitSub:
			return sigExitSub
		case ExitFunction:
			return sigExitFunction
		case ExitFor:
			return sigExitFor
		default:
			return sigExitDo
		}

	case *OpenStmt:
		pv, err := ev.evalExpr(s.Path, fr)
		if err != nil {
			return err
		}
		nv, err := ev.evalExpr(s.FileNum, fr)
		if err != nil {
			return err
		}
		num, ok := asInt(nv)
		if !ok {
			return ev.rtErr(s.FileNum, "file number is not numeric")
		}
		ev.ctx.OpenFile(num, asString(pv), s.Mode)
		return nil

	case *FilePutStmt:
		return ev.evalFilePut(s, fr)

	case *CloseStmt:
		if len(s.FileNums) == 0 {
			ev.ctx.CloseAllChannels()
			return nil
		}
		for _, ne := range s.FileNums {
			nv, err := ev.evalExpr(ne, fr)
			if err != nil {
				return err
			}
			if num, ok := asInt(nv); ok {
				ev.ctx.CloseChannel(num)
			}
		}
		return nil
	}
	return &UnsupportedError{What: fmt.Sprintf("statement %T", st)}
}

func (ev *Evaluator) rtErr(n Node, format string, a ...interface{}) *RuntimeError {
	line, col := n.Pos()
	return &RuntimeError{Line: line, Col: col, Msg: fmt.Sprintf(format, a...)}
}

/* ---------- assignment ---------- */

func (ev *Evaluator) assignTo(target Expr, v Value, fr *frame) error {
	switch t := target.(type) {
	case *IdentExpr:
		ev.ctx.Set(t.Name, v)
		return nil

	case *MemberExpr:
		tv, err := ev.evalExpr(t.Target, fr)
		if err != nil {
			return err
		}
		if tv.Tag != VTObject {
			return ev.rtErr(target, "cannot set property %s on non-object", t.Name)
		}
		setObjectProperty(tv.Data.(*Object), t.Name, v)
		return nil

	case *CallExpr:
		// a(i) = v — array element write; the array is created on first
		// write when the variable is still Empty
		ident, ok := t.Callee.(*IdentExpr)
		if !ok || len(t.Args) != 1 {
			return ev.rtErr(target, "unassignable target")
		}
		iv, err := ev.evalExpr(t.Args[0], fr)
		if err != nil {
			return err
		}
		idx, ok := asInt(iv)
		if !ok {
			return ev.rtErr(t.Args[0], "array index is not numeric")
		}
		cur, _ := ev.ctx.Get(ident.Name)
		arr, isArr := arrayOf(cur)
		if !isArr {
			if cur.Tag != VTEmpty {
				return ev.rtErr(target, "%s is not an array", ident.Name)
			}
			av := NewArray(nil)
			arr, _ = arrayOf(av)
			ev.ctx.Set(ident.Name, av)
		}
		if err := setArrayIndex(arr, idx, v); err != nil {
			return ev.rtErr(target, "%s", err.Error())
		}
		return nil
	}
	return ev.rtErr(target, "unassignable target")
}

/* ---------- loops ---------- */

func (ev *Evaluator) evalFor(s *ForStmt, fr *frame) error {
	// bound expressions may have side effects; evaluate them exactly once
	// and hand the results to whichever execution path runs
	from, err := ev.evalExpr(s.From, fr)
	if err != nil {
		return err
	}
	to, err := ev.evalExpr(s.To, fr)
	if err != nil {
		return err
	}
	step := 1.0
	if s.Step != nil {
		sv, serr := ev.evalExpr(s.Step, fr)
		if serr != nil {
			return serr
		}
		f, ok := asNumber(sv)
		if !ok {
			return ev.rtErr(s.Step, "Step is not numeric")
		}
		step = f
	}
	lo, ok := asNumber(from)
	if !ok {
		return ev.rtErr(s.From, "loop start is not numeric")
	}
	hi, ok := asNumber(to)
	if !ok {
		return ev.rtErr(s.To, "loop end is not numeric")
	}

	if ev.Accel && ev.tryAccelFor(s, lo, hi, step) {
		return nil
	}

	intLoop := lo == math.Trunc(lo) && hi == math.Trunc(hi) && step == math.Trunc(step)
	setVar := func(f float64) {
		if intLoop {
			ev.ctx.Set(s.Var, Int(int64(f)))
		} else {
			ev.ctx.Set(s.Var, Num(f))
		}
	}

	iters := 0
	for v := lo; (step >= 0 && v <= hi) || (step < 0 && v >= hi); v += step {
		if iters >= ev.ctx.Bounds.MaxLoopIterations {
			ev.ctx.DiagErr("eval", &LoopLimitError{Line: lineOf(s), Limit: ev.ctx.Bounds.MaxLoopIterations})
			break
		}
		iters++
		setVar(v)
		err := ev.evalStmts(s.Body.Stmts(), fr)
		if err == ctrlSignal(sigExitFor) {
			break
		}
		if err != nil {
			return err
		}
		// the body may reassign the counter; honor it like the host does
		if cur, okv := ev.ctx.Get(s.Var); okv {
			if f, okn := asNumber(cur); okn {
				v = f
			}
		}
	}
	return nil
}

func (ev *Evaluator) evalForEach(s *ForEachStmt, fr *frame) error {
	cv, err := ev.evalExpr(s.Collection, fr)
	if err != nil {
		return err
	}
	arr, ok := arrayOf(cv)
	if !ok {
		return &UnsupportedError{What: "For Each over non-array collection"}
	}
	for i, item := range arr.Items {
		if i >= ev.ctx.Bounds.MaxLoopIterations {
			ev.ctx.DiagErr("eval", &LoopLimitError{Line: lineOf(s), Limit: ev.ctx.Bounds.MaxLoopIterations})
			break
		}
		ev.ctx.Set(s.Var, item)
		err := ev.evalStmts(s.Body.Stmts(), fr)
		if err == ctrlSignal(sigExitFor) {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (ev *Evaluator) evalDoLoop(s *DoLoopStmt, fr *frame) error {
	test := func() (bool, error) {
		if s.Cond == nil {
			return true, nil
		}
		cv, err := ev.evalExpr(s.Cond, fr)
		if err != nil {
			return false, err
		}
		b, ok := truthy(cv)
		if !ok {
			if cv.Tag == VTUnknown {
				ev.ctx.Diag("eval", lineOf(s.Cond), "loop condition on unmodeled value")
				return false, nil
			}
			return false, ev.rtErr(s.Cond, "loop condition is not a Boolean")
		}
		if s.Until {
			b = !b
		}
		return b, nil
	}

	iters := 0
	for {
		if s.PreTest {
			cont, err := test()
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		if iters >= ev.ctx.Bounds.MaxLoopIterations {
			ev.ctx.DiagErr("eval", &LoopLimitError{Line: lineOf(s), Limit: ev.ctx.Bounds.MaxLoopIterations})
			return nil
		}
		iters++
		err := ev.evalStmts(s.Body.Stmts(), fr)
		if err == ctrlSignal(sigExitDo) {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.PreTest {
			cont, cerr := test()
			if cerr != nil {
				return cerr
			}
			if !cont {
				return nil
			}
		}
	}
}

/* ---------- file statements ---------- */

func (ev *Evaluator) evalFilePut(s *FilePutStmt, fr *frame) error {
	nv, err := ev.evalExpr(s.FileNum, fr)
	if err != nil {
		return err
	}
	num, ok := asInt(nv)
	if !ok {
		return ev.rtErr(s.FileNum, "file number is not numeric")
	}
	f, ok := ev.ctx.Channel(num)
	if !ok {
		return ev.rtErr(s, "file #%d is not open", num)
	}
	parts := make([]string, 0, len(s.Args))
	for _, ae := range s.Args {
		av, aerr := ev.evalExpr(ae, fr)
		if aerr != nil {
			return aerr
		}
		if av.Tag == VTBytes {
			f.Data = append(f.Data, av.Data.([]byte)...)
			continue
		}
		text := asString(av)
		if s.Quoted && av.Tag == VTStr {
			text = `"` + text + `"`
		}
		parts = append(parts, text)
	}
	sep := ""
	if s.Quoted {
		sep = ","
	}
	f.Data = append(f.Data, []byte(strings.Join(parts, sep)+"\r\n")...)
	return nil
}

/* ===========================
   Expressions
   =========================== */

// namedConstants are the vb* literals macros use constantly.
var namedConstants = map[string]Value{
	"vbcrlf":           Str("\r\n"),
	"vbcr":             Str("\r"),
	"vblf":             Str("\n"),
	"vbnewline":        Str("\r\n"),
	"vbtab":            Str("\t"),
	"vbnullstring":     Str(""),
	"vbnullchar":       Str("\x00"),
	"vbback":           Str("\x08"),
	"vbformfeed":       Str("\x0c"),
	"vbverticaltab":    Str("\x0b"),
	"vbtrue":           Int(-1),
	"vbfalse":          Int(0),
	"vbok":             Int(1),
	"vbcancel":         Int(2),
	"vbyes":            Int(6),
	"vbno":             Int(7),
	"vbcritical":       Int(16),
	"vbquestion":       Int(32),
	"vbexclamation":    Int(48),
	"vbinformation":    Int(64),
	"vbhide":           Int(0),
	"vbnormalfocus":    Int(1),
	"vbminimizedfocus": Int(2),
	"vbbinarycompare":  Int(0),
	"vbtextcompare":    Int(1),
	"vbunicode":        Int(64),
	"vbfromunicode":    Int(128),
}

func (ev *Evaluator) evalExpr(e Expr, fr *frame) (Value, error) {
	switch x := e.(type) {
	case *LitExpr:
		return x.Val, nil

	case *IdentExpr:
		if v, ok := ev.ctx.Get(x.Name); ok {
			return v, nil
		}
		if v, ok := namedConstants[strings.ToLower(x.Name)]; ok {
			return v, nil
		}
		// a bare name can be a zero-argument call
		if fn, ok := ev.ctx.override(x.Name); ok {
			return fn(ev.ctx, nil)
		}
		if p, ok := ev.mod.Procedure(x.Name); ok {
			return ev.callUser(p, nil, nil)
		}
		if fn, ok := lookupBuiltin(x.Name); ok {
			return ev.builtinCall(x, fn, nil)
		}
		// undeclared variables read Empty (no Option Explicit in maldocs)
		return Empty, nil

	case *CallExpr:
		return ev.evalCall(x, fr)

	case *MemberExpr:
		return ev.evalMember(x, fr)

	case *BinExpr:
		return ev.evalBinary(x, fr)

	case *UnaryExpr:
		xv, err := ev.evalExpr(x.X, fr)
		if err != nil {
			return Empty, err
		}
		if x.Op == "not" {
			if xv.Tag == VTBool {
				return Bool(!xv.Data.(bool)), nil
			}
			if n, ok := asInt(xv); ok {
				return Int(^n), nil
			}
			if b, ok := truthy(xv); ok {
				return Bool(!b), nil
			}
			return Empty, ev.rtErr(x, "Not of non-Boolean")
		}
		// unary minus
		if xv.Tag == VTInt {
			return Int(-xv.Data.(int64)), nil
		}
		f, ok := asNumber(xv)
		if !ok {
			return Empty, ev.rtErr(x, "negation of non-number")
		}
		return Num(-f), nil

	case *ParenExpr:
		return ev.evalExpr(x.X, fr)

	case *NewExpr:
		ev.ctx.Recorder.Record("create-object", []string{x.Class}, "New object")
		return newHostObject(x.Class), nil
	}
	return Unknown, &UnsupportedError{What: fmt.Sprintf("expression %T", e)}
}

/* ---------- calls ---------- */

func (ev *Evaluator) evalCall(x *CallExpr, fr *frame) (Value, error) {
	switch callee := x.Callee.(type) {
	case *IdentExpr:
		// array indexing shadows calls when the name is bound to an array
		if cur, ok := ev.ctx.Get(callee.Name); ok {
			if arr, isArr := arrayOf(cur); isArr && len(x.Args) == 1 {
				iv, err := ev.evalExpr(x.Args[0], fr)
				if err != nil {
					return Empty, err
				}
				idx, okI := asInt(iv)
				if !okI {
					return Empty, ev.rtErr(x.Args[0], "array index is not numeric")
				}
				v, ierr := indexArray(arr, idx)
				if ierr != nil {
					return Empty, ev.rtErr(x, "%s", ierr.Error())
				}
				return v, nil
			}
		}
		args, err := ev.evalArgs(x.Args, fr)
		if err != nil {
			return Empty, err
		}
		if fn, ok := ev.ctx.override(callee.Name); ok {
			return fn(ev.ctx, args)
		}
		if p, ok := ev.mod.Procedure(callee.Name); ok {
			return ev.callUser(p, args, x.Args)
		}
		if fn, ok := lookupBuiltin(callee.Name); ok {
			return ev.builtinCall(x, fn, args)
		}
		ev.ctx.Diag("eval", lineOf(x), "unsupported construct: call to "+callee.Name)
		return Unknown, nil

	case *MemberExpr:
		return ev.evalMemberCall(x, callee, fr)

	default:
		// computed callee: evaluate and index if it is an array
		cv, err := ev.evalExpr(callee, fr)
		if err != nil {
			return Empty, err
		}
		if arr, ok := arrayOf(cv); ok && len(x.Args) == 1 {
			iv, ierr := ev.evalExpr(x.Args[0], fr)
			if ierr != nil {
				return Empty, ierr
			}
			if idx, okI := asInt(iv); okI {
				v, aerr := indexArray(arr, idx)
				if aerr != nil {
					return Empty, ev.rtErr(x, "%s", aerr.Error())
				}
				return v, nil
			}
		}
		return Unknown, &UnsupportedError{What: "call through " + callee.Text()}
	}
}

// builtinCall wraps a builtin so its failures become located runtime errors.
func (ev *Evaluator) builtinCall(at Node, fn BuiltinFunc, args []Value) (Value, error) {
	v, err := fn(ev.ctx, args)
	if err != nil {
		if _, isUnsupported := err.(*UnsupportedError); isUnsupported {
			return v, err
		}
		return Empty, ev.rtErr(at, "%s", err.Error())
	}
	return v, nil
}

func (ev *Evaluator) evalArgs(exprs []Expr, fr *frame) ([]Value, error) {
	args := make([]Value, len(exprs))
	for i, ae := range exprs {
		v, err := ev.evalExpr(ae, fr)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// callUser invokes a user procedure. argExprs, when non-nil, are the
// caller's argument expressions, used for ByRef copy-back of plain
// variables.
func (ev *Evaluator) callUser(p *Procedure, args []Value, argExprs []Expr) (Value, error) {
	if err := ev.ctx.EnterCall(p.Name); err != nil {
		ev.ctx.DiagErr("eval", err)
		return Unknown, nil // fail-soft: abort this call, keep the run alive
	}
	defer ev.ctx.LeaveCall()

	ev.ctx.PushScope()
	for i, param := range p.Params {
		switch {
		case i < len(args):
			ev.ctx.SetLocal(param.Name, args[i])
		case param.Default != nil:
			dv, derr := ev.evalExpr(param.Default, &frame{proc: p})
			if derr != nil {
				dv = Empty
			}
			ev.ctx.SetLocal(param.Name, dv)
		default:
			ev.ctx.SetLocal(param.Name, Empty)
		}
	}
	if p.Kind == FunctionProc {
		// the procedure name doubles as the result variable
		ev.ctx.SetLocal(p.Name, Empty)
	}

	fr := &frame{proc: p}
	err := ev.evalStmts(p.Body(), fr)
	if err == ctrlSignal(sigExitSub) || err == ctrlSignal(sigExitFunction) {
		err = nil
	}

	result := Empty
	if p.Kind == FunctionProc {
		if v, ok := ev.ctx.Get(p.Name); ok {
			result = v
		}
	}
	for _, name := range fr.statics {
		if v, ok := ev.ctx.Get(name); ok {
			ev.ctx.SetStatic(p.Name, name, v)
		}
	}

	// capture ByRef values before the frame goes away
	type writeback struct {
		name string
		val  Value
	}
	var wb []writeback
	if argExprs != nil {
		for i, param := range p.Params {
			if !param.ByRef || i >= len(argExprs) {
				continue
			}
			if ident, ok := argExprs[i].(*IdentExpr); ok {
				if v, okv := ev.ctx.Get(param.Name); okv {
					wb = append(wb, writeback{name: ident.Name, val: v})
				}
			}
		}
	}

	ev.ctx.PopScope()
	for _, w := range wb {
		ev.ctx.Set(w.name, w.val)
	}
	return result, err
}

/* ---------- members ---------- */

// hostRoots answers member access on well-known unbound roots.
func (ev *Evaluator) hostRoot(name string) (*Object, bool) {
	switch strings.ToLower(name) {
	case "activedocument", "thisdocument", "thisworkbook", "activeworkbook":
		return &Object{Class: "Document", Props: map[string]Value{
			"name":     Str(ev.docName()),
			"fullname": Str(`C:\Users\admin\Documents\` + ev.docName()),
			"path":     Str(`C:\Users\admin\Documents`),
		}}, true
	case "application":
		return &Object{Class: "Application", Props: map[string]Value{
			"version": Str("16.0"),
		}}, true
	case "wscript":
		return &Object{Class: "WScriptHost", Props: map[string]Value{}}, true
	case "debug":
		return &Object{Class: "Debug", Props: map[string]Value{}}, true
	case "err":
		// resume-next means a handler checking Err.Number sees success
		return &Object{Class: "ErrObject", Props: map[string]Value{
			"number":      Int(0),
			"description": Str(""),
		}}, true
	}
	return nil, false
}

func (ev *Evaluator) docName() string {
	if ev.ctx.DocName != "" {
		return ev.ctx.DocName
	}
	return "document.docm"
}

func (ev *Evaluator) evalMember(x *MemberExpr, fr *frame) (Value, error) {
	if ident, ok := x.Target.(*IdentExpr); ok {
		if _, bound := ev.ctx.Get(ident.Name); !bound {
			if root, isRoot := ev.hostRoot(ident.Name); isRoot {
				v, err := objectProperty(ev.ctx, root, x.Name)
				return ev.softUnknown(x, v, err)
			}
		}
	}
	tv, err := ev.evalExpr(x.Target, fr)
	if err != nil {
		return Empty, err
	}
	if tv.Tag != VTObject {
		if tv.Tag == VTUnknown {
			return Unknown, nil
		}
		return Empty, ev.rtErr(x, "member access on non-object")
	}
	v, perr := objectProperty(ev.ctx, tv.Data.(*Object), x.Name)
	return ev.softUnknown(x, v, perr)
}

func (ev *Evaluator) evalMemberCall(x *CallExpr, callee *MemberExpr, fr *frame) (Value, error) {
	args, err := ev.evalArgs(x.Args, fr)
	if err != nil {
		return Empty, err
	}

	// unbound well-known roots get their own dispatch
	if ident, ok := callee.Target.(*IdentExpr); ok {
		if _, bound := ev.ctx.Get(ident.Name); !bound {
			if v, handled, herr := ev.hostMethod(ident.Name, callee.Name, args); handled {
				return v, herr
			}
		}
	}

	tv, err := ev.evalExpr(callee.Target, fr)
	if err != nil {
		return Empty, err
	}
	if tv.Tag == VTUnknown {
		ev.ctx.Diag("eval", lineOf(x), "unsupported construct: method call on unknown value")
		return Unknown, nil
	}
	if tv.Tag != VTObject {
		return Empty, ev.rtErr(x, "method call on non-object")
	}
	v, merr := callObjectMethod(ev.ctx, tv.Data.(*Object), callee.Name, args)
	return ev.softUnknown(x, v, merr)
}

// hostMethod covers Debug.Print, WScript.*, Application.Run and the other
// host-root calls that need no object state.
func (ev *Evaluator) hostMethod(root, method string, args []Value) (Value, bool, error) {
	r, m := strings.ToLower(root), strings.ToLower(method)
	switch {
	case r == "debug" && m == "print":
		text := ""
		for _, a := range args {
			text += asString(a)
		}
		ev.ctx.Recorder.Record("debug-print", []string{text}, "Debug.Print")
		ev.ctx.RecordPayload(text)
		return Empty, true, nil

	case r == "wscript" && m == "echo":
		text := ""
		for _, a := range args {
			text += asString(a)
		}
		ev.ctx.Recorder.Record("msgbox", []string{text}, "WScript.Echo")
		ev.ctx.RecordPayload(text)
		return Empty, true, nil

	case r == "wscript" && m == "sleep":
		return Empty, true, nil

	case r == "application" && m == "run":
		// Application.Run "Name", args... dispatches dynamically
		if len(args) == 0 {
			return Empty, true, nil
		}
		name := asString(args[0])
		if p, ok := ev.mod.Procedure(name); ok {
			v, err := ev.callUser(p, args[1:], nil)
			return v, true, err
		}
		ev.ctx.Diag("eval", 0, "unsupported construct: Application.Run "+name)
		return Unknown, true, nil

	case r == "application" && (m == "wait" || m == "ontime"):
		return Empty, true, nil

	case r == "err" && m == "raise":
		code := int64(5)
		if len(args) > 0 {
			if n, ok := asInt(args[0]); ok {
				code = n
			}
		}
		return Empty, true, &RuntimeError{Msg: fmt.Sprintf("error %d raised", code)}

	case r == "err" && m == "clear":
		return Empty, true, nil
	}
	return Empty, false, nil
}

// softUnknown downgrades UnsupportedError to Unknown plus a diagnostic so
// expression evaluation keeps flowing.
func (ev *Evaluator) softUnknown(at Node, v Value, err error) (Value, error) {
	if err == nil {
		return v, nil
	}
	if ue, ok := err.(*UnsupportedError); ok {
		ev.ctx.Diag("eval", lineOf(at), ue.Error())
		return Unknown, nil
	}
	return v, err
}

/* ---------- binary operators ---------- */

func (ev *Evaluator) evalBinary(x *BinExpr, fr *frame) (Value, error) {
	// VBA does not short-circuit: both sides always evaluate
	lv, err := ev.evalExpr(x.L, fr)
	if err != nil {
		return Empty, err
	}
	rv, err := ev.evalExpr(x.R, fr)
	if err != nil {
		return Empty, err
	}
	if lv.Tag == VTUnknown || rv.Tag == VTUnknown {
		return Unknown, nil
	}

	switch x.Op {
	case "&":
		return vbConcat(lv, rv), nil
	case "+":
		return vbAdd(lv, rv), nil

	case "-", "*", "/", "\\", "mod", "^":
		fa, fb, bothInt, ok := numericPair(lv, rv)
		if !ok {
			return Empty, ev.rtErr(x, "type mismatch on '%s'", x.Op)
		}
		switch x.Op {
		case "-":
			if bothInt {
				return Int(int64(fa) - int64(fb)), nil
			}
			return Num(fa - fb), nil
		case "*":
			if bothInt {
				return Int(int64(fa) * int64(fb)), nil
			}
			return Num(fa * fb), nil
		case "/":
			if fb == 0 {
				return Empty, ev.rtErr(x, "division by zero")
			}
			return Num(fa / fb), nil
		case "\\":
			ib := int64(fb)
			if ib == 0 {
				return Empty, ev.rtErr(x, "division by zero")
			}
			return Int(int64(fa) / ib), nil
		case "mod":
			ib := int64(fb)
			if ib == 0 {
				return Empty, ev.rtErr(x, "division by zero")
			}
			return Int(int64(fa) % ib), nil
		default: // ^
			return Num(powFloat(fa, fb)), nil
		}

	case "=", "<>", "<", ">", "<=", ">=":
		cmp, ok := vbCompare(lv, rv)
		if !ok {
			return Empty, ev.rtErr(x, "incomparable values")
		}
		switch x.Op {
		case "=":
			return Bool(cmp == 0), nil
		case "<>":
			return Bool(cmp != 0), nil
		case "<":
			return Bool(cmp < 0), nil
		case ">":
			return Bool(cmp > 0), nil
		case "<=":
			return Bool(cmp <= 0), nil
		default:
			return Bool(cmp >= 0), nil
		}

	case "like":
		return Bool(matchLike(asString(lv), asString(rv))), nil

	case "is":
		if lv.Tag == VTObject && rv.Tag == VTObject {
			return Bool(lv.Data.(*Object) == rv.Data.(*Object)), nil
		}
		return Bool(lv.Tag == VTEmpty && rv.Tag == VTEmpty), nil

	case "and", "or", "xor", "eqv", "imp":
		return ev.evalLogical(x, lv, rv)
	}
	return Empty, ev.rtErr(x, "unknown operator '%s'", x.Op)
}

// evalLogical: Boolean operands get logical semantics, numeric operands
// bitwise (And/Or/Xor double as bit operators in VBA).
func (ev *Evaluator) evalLogical(x *BinExpr, lv, rv Value) (Value, error) {
	if lv.Tag == VTBool && rv.Tag == VTBool {
		a, b := lv.Data.(bool), rv.Data.(bool)
		switch x.Op {
		case "and":
			return Bool(a && b), nil
		case "or":
			return Bool(a || b), nil
		case "xor":
			return Bool(a != b), nil
		case "eqv":
			return Bool(a == b), nil
		default: // imp
			return Bool(!a || b), nil
		}
	}
	ia, oka := asInt(lv)
	ib, okb := asInt(rv)
	if oka && okb {
		switch x.Op {
		case "and":
			return Int(ia & ib), nil
		case "or":
			return Int(ia | ib), nil
		case "xor":
			return Int(ia ^ ib), nil
		case "eqv":
			return Int(^(ia ^ ib)), nil
		default: // imp
			return Int(^ia | ib), nil
		}
	}
	ba, oka := truthy(lv)
	bb, okb := truthy(rv)
	if oka && okb {
		switch x.Op {
		case "and":
			return Bool(ba && bb), nil
		case "or":
			return Bool(ba || bb), nil
		case "xor":
			return Bool(ba != bb), nil
		case "eqv":
			return Bool(ba == bb), nil
		default:
			return Bool(!ba || bb), nil
		}
	}
	return Empty, ev.rtErr(x, "type mismatch on '%s'", x.Op)
}

// matchLike implements the Like pattern language: * ? # and [charlist]
// (with ! negation and a-z ranges). Matching is case-sensitive, as under
// Option Compare Binary.
func matchLike(s, pattern string) bool {
	return likeMatch([]rune(s), []rune(pattern))
}

func likeMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if likeMatch(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '?':
		return len(s) > 0 && likeMatch(s[1:], p[1:])
	case '#':
		return len(s) > 0 && s[0] >= '0' && s[0] <= '9' && likeMatch(s[1:], p[1:])
	case '[':
		end := -1
		for i := 1; i < len(p); i++ {
			if p[i] == ']' {
				end = i
				break
			}
		}
		if end < 0 || len(s) == 0 {
			return false
		}
		set := p[1:end]
		negate := len(set) > 0 && set[0] == '!'
		if negate {
			set = set[1:]
		}
		match := false
		for i := 0; i < len(set); i++ {
			if i+2 < len(set) && set[i+1] == '-' {
				if s[0] >= set[i] && s[0] <= set[i+2] {
					match = true
				}
				i += 2
				continue
			}
			if s[0] == set[i] {
				match = true
			}
		}
		if match == negate {
			return false
		}
		return likeMatch(s[1:], p[end+1:])
	default:
		return len(s) > 0 && s[0] == p[0] && likeMatch(s[1:], p[1:])
	}
}
