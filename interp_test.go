package vmacro

import (
	"strings"
	"testing"
)

// evalIn runs src's Main procedure and returns the context for inspection.
func evalIn(t *testing.T, src string) *Context {
	t.Helper()
	m, err := ParseModule("test", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := NewContext()
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	return ctx
}

// evalExprStr evaluates a single expression in an empty context.
func evalExprStr(t *testing.T, src string) Value {
	t.Helper()
	e, err := ParseExpression(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	m, _ := ParseModule("test", "")
	ev := NewEvaluator(NewContext(), m)
	v, err := ev.Eval(e)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func Test_Interp_Chr_Concat_Xor_Decodes_World(t *testing.T) {
	v := evalExprStr(t, `"w" & Chr(111) & "rl" & Chr(123 Xor 31)`)
	if asString(v) != "world" {
		t.Fatalf("got %q", asString(v))
	}
}

func Test_Interp_Loose_Plus_Numeric_First_Then_Concat(t *testing.T) {
	if v := evalExprStr(t, `"1" + 2`); v.Tag != VTInt || v.Data.(int64) != 3 {
		t.Fatalf("\"1\" + 2: got %v", v)
	}
	if v := evalExprStr(t, `"a" + "b"`); asString(v) != "ab" {
		t.Fatalf("\"a\" + \"b\": got %q", asString(v))
	}
	if v := evalExprStr(t, `1 & 2`); asString(v) != "12" {
		t.Fatalf("1 & 2: got %q", asString(v))
	}
}

func Test_Interp_Windows1252_Chr_Asc_Roundtrip(t *testing.T) {
	if v := evalExprStr(t, "Chr(233)"); asString(v) != "é" {
		t.Fatalf("Chr(233): got %q", asString(v))
	}
	if v := evalExprStr(t, `Asc("é")`); v.Data.(int64) != 233 {
		t.Fatalf("Asc round-trip: got %v", v)
	}
	// 0x80 is the euro sign in CP-1252, not U+0080
	if v := evalExprStr(t, "Chr(128)"); asString(v) != "€" {
		t.Fatalf("Chr(128): got %q", asString(v))
	}
}

func Test_Interp_Identifiers_Are_Case_Insensitive(t *testing.T) {
	src := `Sub Main()
    MyVar = 41
    MYVAR = myvar + 1
End Sub
`
	ctx := evalIn(t, src)
	// the frame is gone; re-run with a global to observe
	_ = ctx
	src2 := `Sub Main()
    g = CheckIt(41)
End Sub
Function CheckIt(ByVal n)
    tmp = n
    CheckIt = TMP + 1
End Function
`
	m, _ := ParseModule("test", src2)
	ctx2 := NewContext()
	ev := NewEvaluator(ctx2, m)
	v, err := ev.CallProcedure("CheckIt", []Value{Int(41)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Data.(int64) != 42 {
		t.Fatalf("case-insensitive lookup: got %v", v)
	}
}

func Test_Interp_Function_Name_Is_Result_Variable(t *testing.T) {
	src := `Function Build()
    Build = "a"
    Build = Build & "b"
End Function
`
	m, _ := ParseModule("test", src)
	ev := NewEvaluator(NewContext(), m)
	v, err := ev.CallProcedure("Build", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if asString(v) != "ab" {
		t.Fatalf("got %q", asString(v))
	}
}

func Test_Interp_ByRef_Default_Copies_Back(t *testing.T) {
	src := `Sub Main()
    n = 1
    Bump n
    g_after = n
End Sub
Sub Bump(x)
    x = x + 10
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ev := NewEvaluator(ctx, m)
	// run Main inside a synthetic global so g_after lands in globals
	ctx.SetGlobal("g_after", Empty)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_after")
	if n, _ := asInt(v); n != 11 {
		t.Fatalf("ByRef copy-back: got %v", v)
	}
}

func Test_Interp_ByVal_Does_Not_Copy_Back(t *testing.T) {
	src := `Sub Main()
    n = 1
    Keep n
    g_after = n
End Sub
Sub Keep(ByVal x)
    x = 99
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ev := NewEvaluator(ctx, m)
	ctx.SetGlobal("g_after", Empty)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_after")
	if n, _ := asInt(v); n != 1 {
		t.Fatalf("ByVal leaked a write: got %v", v)
	}
}

func Test_Interp_On_Error_Resume_Next_Is_Per_Invocation(t *testing.T) {
	src := `Sub Main()
    On Error Resume Next
    Helper
    g_ok = 1
End Sub
Sub Helper()
    x = 1 / 0
    g_unreached = 1
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ev := NewEvaluator(ctx, m)
	ctx.SetGlobal("g_ok", Empty)
	ctx.SetGlobal("g_unreached", Empty)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v, _ := ctx.Get("g_ok"); v.Tag == VTEmpty {
		t.Fatalf("caller's resume-next should swallow the callee's error")
	}
	// Helper has no resume-next of its own: its error aborts it mid-body
	if v, _ := ctx.Get("g_unreached"); v.Tag != VTEmpty {
		t.Fatalf("resume-next must not leak into the callee")
	}
}

func Test_Interp_Runtime_Error_Terminates_Procedure_Without_Handler(t *testing.T) {
	src := `Sub Main()
    x = 1 / 0
End Sub
`
	m, _ := ParseModule("test", src)
	ev := NewEvaluator(NewContext(), m)
	_, err := ev.CallProcedure("Main", nil)
	if err == nil {
		t.Fatalf("expected the division error to surface")
	}
	if _, ok := err.(*RuntimeError); !ok {
		t.Fatalf("expected *RuntimeError, got %T", err)
	}
}

func Test_Interp_Loop_Bound_Aborts_And_Diagnoses(t *testing.T) {
	src := `Sub Main()
    Do
        x = x + 1
    Loop
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.Bounds.MaxLoopIterations = 1000
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("bound hit must be fail-soft: %v", err)
	}
	found := false
	for _, d := range ctx.Diagnostics() {
		if strings.Contains(d.Msg, "1000 iterations") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing loop-bound diagnostic: %v", ctx.Diagnostics())
	}
}

func Test_Interp_Recursion_Bound_Aborts_Call(t *testing.T) {
	src := `Sub Main()
    Recurse 0
End Sub
Sub Recurse(n)
    Recurse n + 1
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.Bounds.MaxRecursionDepth = 16
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("recursion bound must be fail-soft: %v", err)
	}
	found := false
	for _, d := range ctx.Diagnostics() {
		if strings.Contains(d.Msg, "recursion depth") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing recursion diagnostic")
	}
}

func Test_Interp_Override_Shadows_User_Procedure(t *testing.T) {
	src := `Sub Main()
    g = Decode("x")
End Sub
Function Decode(s)
    Decode = "real"
End Function
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.Override("Decode", func(c *Context, args []Value) (Value, error) {
		return Str("instrumented"), nil
	})
	ev := NewEvaluator(ctx, m)
	v, err := ev.CallProcedure("Decode", []Value{Str("x")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// CallProcedure targets the user proc directly; in-macro calls go
	// through the override
	if asString(v) != "real" {
		t.Fatalf("direct call: got %q", asString(v))
	}
	ctx.SetGlobal("g", Empty)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run main: %v", err)
	}
	gv, _ := ctx.Get("g")
	if asString(gv) != "instrumented" {
		t.Fatalf("override not consulted: got %q", asString(gv))
	}
}

func Test_Interp_Shell_Records_Action_Not_Execution(t *testing.T) {
	src := `Sub Main()
    cmd = "powershell -enc " & Chr(65) & Chr(66)
    Shell cmd, 0
End Sub
`
	ctx := evalIn(t, src)
	shells := ctx.Recorder.GroupByCategory()["shell"]
	if len(shells) != 1 {
		t.Fatalf("expected 1 shell action, got %d", len(shells))
	}
	if shells[0].Params[0] != "powershell -enc AB" {
		t.Fatalf("decoded command wrong: %q", shells[0].Params[0])
	}
}

func Test_Interp_File_Write_And_Close_Exactly_Once(t *testing.T) {
	src := `Sub Main()
    Open "C:\Temp\drop.exe" For Output As #1
    Print #1, "MZ payload"
    Close #1
    Close #1
End Sub
`
	ctx := evalIn(t, src)
	files := ctx.DroppedFiles()
	if len(files) != 1 {
		t.Fatalf("expected exactly 1 dropped file, got %d", len(files))
	}
	f := files[0]
	if f.Path != `C:\Temp\drop.exe` {
		t.Fatalf("path: %q", f.Path)
	}
	if string(f.Data) != "MZ payload\r\n" {
		t.Fatalf("content: %q", string(f.Data))
	}
	closes := 0
	for _, a := range ctx.Recorder.Actions() {
		if a.Category == "file-close" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("double Close produced %d close actions", closes)
	}
}

func Test_Interp_CreateObject_Run_Chain(t *testing.T) {
	src := `Sub Main()
    Set o = CreateObject("WScript.Shell")
    o.Run "cmd /c calc", 0
End Sub
`
	ctx := evalIn(t, src)
	groups := ctx.Recorder.GroupByCategory()
	if len(groups["create-object"]) != 1 {
		t.Fatalf("missing create-object action")
	}
	if len(groups["shell"]) != 1 || groups["shell"][0].Params[0] != "cmd /c calc" {
		t.Fatalf("WScript.Shell.Run not captured: %v", groups["shell"])
	}
}

func Test_Interp_FSO_TextStream_Drops_File(t *testing.T) {
	src := `Sub Main()
    Set fso = CreateObject("Scripting.FileSystemObject")
    Set ts = fso.CreateTextFile("C:\Temp\evil.vbs")
    ts.WriteLine "payload line"
    ts.Close
End Sub
`
	ctx := evalIn(t, src)
	files := ctx.DroppedFiles()
	if len(files) != 1 || string(files[0].Data) != "payload line\r\n" {
		t.Fatalf("TextStream drop failed: %v", files)
	}
}

func Test_Interp_Unknown_Construct_Produces_Unknown_And_Continues(t *testing.T) {
	src := `Sub Main()
    x = SomeUnknownFunction(1, 2)
    g_done = 1
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ev := NewEvaluator(ctx, m)
	ctx.SetGlobal("g_done", Empty)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("unknown call must not abort: %v", err)
	}
	if v, _ := ctx.Get("g_done"); v.Tag == VTEmpty {
		t.Fatalf("execution stopped at the unknown call")
	}
	if len(ctx.Diagnostics()) == 0 {
		t.Fatalf("unknown call left no diagnostic")
	}
}

func Test_Interp_Select_Case_And_For_Each(t *testing.T) {
	src := `Sub Main()
    total = 0
    For Each p In Array(1, 2, 3)
        Select Case p
            Case 1, 2
                total = total + p
            Case Else
                total = total + 100
        End Select
    Next
    g_total = total
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.SetGlobal("g_total", Empty)
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_total")
	if n, _ := asInt(v); n != 103 {
		t.Fatalf("got %v", v)
	}
}

func Test_Interp_Mid_Based_Decoder_Loop(t *testing.T) {
	src := `Sub Main()
    enc = "ifmmp"
    out = ""
    For i = 1 To Len(enc)
        out = out & Chr(Asc(Mid(enc, i, 1)) - 1)
    Next i
    g_out = out
End Sub
`
	m, _ := ParseModule("test", src)
	ctx := NewContext()
	ctx.SetGlobal("g_out", Empty)
	ev := NewEvaluator(ctx, m)
	if _, err := ev.CallProcedure("Main", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := ctx.Get("g_out")
	if asString(v) != "hello" {
		t.Fatalf("decoder loop: got %q", asString(v))
	}
}

func Test_Interp_Static_Variable_Persists_Across_Calls(t *testing.T) {
	src := `Function Count()
    Static n
    n = n + 1
    Count = n
End Function
`
	m, _ := ParseModule("test", src)
	ev := NewEvaluator(NewContext(), m)
	ev.CallProcedure("Count", nil)
	v, err := ev.CallProcedure("Count", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, _ := asInt(v); n != 2 {
		t.Fatalf("Static did not persist: got %v", v)
	}
}

func Test_Interp_Exit_For_And_Exit_Function(t *testing.T) {
	src := `Function FindFirst()
    For i = 1 To 100
        If i = 3 Then
            FindFirst = i
            Exit Function
        End If
    Next i
    FindFirst = -1
End Function
`
	m, _ := ParseModule("test", src)
	ev := NewEvaluator(NewContext(), m)
	v, err := ev.CallProcedure("FindFirst", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, _ := asInt(v); n != 3 {
		t.Fatalf("got %v", v)
	}
}

func Test_Interp_Like_Operator(t *testing.T) {
	if v := evalExprStr(t, `"hT7" Like "h[A-Z]#"`); !v.Data.(bool) {
		t.Fatalf("pattern should match")
	}
	if v := evalExprStr(t, `"abc" Like "a*"`); !v.Data.(bool) {
		t.Fatalf("star should match")
	}
	if v := evalExprStr(t, `"abc" Like "a?d"`); v.Data.(bool) {
		t.Fatalf("mismatch should fail")
	}
}

func Test_Interp_CallByName_Short_Argument_Lists(t *testing.T) {
	// dynamic dispatch with missing CallType/args must degrade, not crash
	ctx := evalIn(t, `Sub Main()
    Set sh = CreateObject("WScript.Shell")
    CallByName sh, "Run", 1, "cmd /c ping"
    CallByName sh, "Run"
    CallByName sh
End Sub
`)
	var shells []Action
	for _, a := range ctx.Recorder.Actions() {
		if a.Category == "shell" {
			shells = append(shells, a)
		}
	}
	if len(shells) != 2 {
		t.Fatalf("shell actions: got %d, want 2", len(shells))
	}
	if shells[0].Params[0] != "cmd /c ping" {
		t.Fatalf("method arguments lost: %v", shells[0].Params)
	}
	if len(ctx.Diagnostics()) == 0 {
		t.Fatalf("CallByName without a member name must leave a diagnostic")
	}
}
