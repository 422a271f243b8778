package vmacro

import "testing"

const decoderLoopSrc = `Sub Main()
    enc = "uijt!jt!b!tfdsfu"
    out = ""
    For i = 1 To Len(enc)
        out = out & Chr(Asc(Mid(enc, i, 1)) - 1)
    Next i
    g_out = out
End Sub
`

func runDecoder(t *testing.T, accelerate bool) (string, *Context) {
	t.Helper()
	m, err := ParseModule("test", decoderLoopSrc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := NewContext()
	ctx.SetGlobal("g_out", Empty)
	ev := NewEvaluator(ctx, m)
	ev.Accel = accelerate
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_out")
	return asString(v), ctx
}

func Test_Accel_Matches_Tree_Walker_Exactly(t *testing.T) {
	fast, _ := runDecoder(t, true)
	slow, _ := runDecoder(t, false)
	if fast != slow {
		t.Fatalf("accelerated %q != tree-walked %q", fast, slow)
	}
	if fast != "this is a secret" {
		t.Fatalf("decoded: %q", fast)
	}
}

func Test_Accel_Compiles_Pure_Assignment_Loop(t *testing.T) {
	m, _ := ParseModule("test", decoderLoopSrc)
	p, _ := m.Procedure("Main")
	var loop *ForStmt
	for _, st := range p.Body() {
		if fs, ok := st.(*ForStmt); ok {
			loop = fs
		}
	}
	if loop == nil {
		t.Fatalf("no For loop found")
	}
	ch, ok := compileForLoop(loop)
	if !ok {
		t.Fatalf("decoder loop should compile")
	}
	if len(ch.code) == 0 || len(ch.slots) < 3 {
		t.Fatalf("chunk shape: code=%d slots=%v", len(ch.code), ch.slots)
	}
	if ch.slots[0] != "i" {
		t.Fatalf("counter must occupy slot 0, got %q", ch.slots[0])
	}
}

func Test_Accel_Rejects_Impure_Bodies(t *testing.T) {
	sources := []string{
		// call to an action-recording builtin
		"Sub M()\nFor i = 1 To 3\n    x = Shell(\"cmd\", 0)\nNext\nEnd Sub\n",
		// member access
		"Sub M()\nFor i = 1 To 3\n    x = o.Count\nNext\nEnd Sub\n",
		// nested control flow
		"Sub M()\nFor i = 1 To 3\n    If i = 2 Then x = 1\nNext\nEnd Sub\n",
		// Set assignment
		"Sub M()\nFor i = 1 To 3\n    Set x = o\nNext\nEnd Sub\n",
	}
	for _, src := range sources {
		m, err := ParseModule("test", src)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		p, _ := m.Procedure("M")
		loop := p.Body()[0].(*ForStmt)
		if _, ok := compileForLoop(loop); ok {
			t.Fatalf("loop should be rejected:\n%s", src)
		}
	}
}

func Test_Accel_Respects_Iteration_Bound(t *testing.T) {
	src := `Sub Main()
    For i = 1 To 100000
        x = x + 1
    Next
    g_x = x
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.Bounds.MaxLoopIterations = 50
	ctx.SetGlobal("g_x", Empty)
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_x")
	if n, _ := asInt(v); n != 50 {
		t.Fatalf("bound not applied in bytecode path: x=%v", v)
	}
	if len(ctx.Diagnostics()) == 0 {
		t.Fatalf("bound hit must leave a diagnostic")
	}
}

func Test_Accel_Opcode_Packing_Roundtrip(t *testing.T) {
	ins := pack(opCallB, 3<<8|2)
	op, imm := unpack(ins)
	if op != opCallB || imm>>8 != 3 || imm&0xFF != 2 {
		t.Fatalf("pack/unpack: op=%d imm=%d", op, imm)
	}
}

func Test_Accel_Read_Only_Variables_Stay_Unbound(t *testing.T) {
	// loose code runs at global scope, so stray bindings created by the
	// bytecode path would survive the run and be observable here
	src := "For i = 1 To 3\n    x = x + seed\nNext\n"
	for _, accelerate := range []bool{true, false} {
		m, err := ParseModule("test", src)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		ctx := NewContext()
		ev := NewEvaluator(ctx, m)
		ev.Accel = accelerate
		if err := ev.RunLoose(); err != nil {
			t.Fatalf("accel=%v run: %v", accelerate, err)
		}
		if _, ok := ctx.Get("x"); !ok {
			t.Fatalf("accel=%v: assigned variable lost", accelerate)
		}
		if _, ok := ctx.Get("seed"); ok {
			t.Fatalf("accel=%v: variable the loop only read gained a binding", accelerate)
		}
	}
}

func Test_Accel_Counter_Mutation_Inside_Body(t *testing.T) {
	// the body skipping the counter forward must terminate early in both
	// execution paths
	src := `Sub Main()
    For i = 1 To 10
        n = n + 1
        i = i + 1
    Next
    g_n = n
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.SetGlobal("g_n", Empty)
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_n")
	if n, _ := asInt(v); n != 5 {
		t.Fatalf("counter mutation: iterations=%v", v)
	}
}
