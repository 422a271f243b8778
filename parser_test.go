package vmacro

import (
	"strings"
	"testing"
)

const twoProcSrc = `Attribute VB_Name = "NewMacros"
Sub First()
    x = 1
End Sub

Function Second(ByVal a, Optional b = 5) As String
    Second = a & b
End Function
`

func Test_Parser_Module_Scan_Finds_Procedures_And_Attributes(t *testing.T) {
	m, err := ParseModule("mod", twoProcSrc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Name != "NewMacros" {
		t.Fatalf("VB_Name attribute should rename the module, got %q", m.Name)
	}
	if len(m.Procs) != 2 {
		t.Fatalf("expected 2 procedures, got %d", len(m.Procs))
	}
	p, ok := m.Procedure("second") // case-insensitive
	if !ok || p.Kind != FunctionProc {
		t.Fatalf("Second should resolve case-insensitively as a Function")
	}
	if len(p.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(p.Params))
	}
	if p.Params[0].ByRef {
		t.Fatalf("ByVal param parsed as ByRef")
	}
	if !p.Params[1].Optional || p.Params[1].Default == nil {
		t.Fatalf("Optional default was not captured")
	}
}

func Test_Parser_Bodies_Are_Lazy_Until_Demanded(t *testing.T) {
	m, err := ParseModule("mod", twoProcSrc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("First")
	if p.BodyParsed() {
		t.Fatalf("body parsed eagerly")
	}
	stmts := p.Body()
	if !p.BodyParsed() {
		t.Fatalf("Body() did not memoize")
	}
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	if _, ok := stmts[0].(*AssignStmt); !ok {
		t.Fatalf("expected assignment, got %T", stmts[0])
	}
}

func Test_Parser_Statement_Recovery_Skips_And_Records(t *testing.T) {
	src := `Sub Damaged()
    x = 1
    If y Goto nonsense (((
    z = 2
End Sub
`
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("a bad statement must not kill the module: %v", err)
	}
	p, _ := m.Procedure("Damaged")
	stmts := p.Body()
	if len(stmts) != 2 {
		t.Fatalf("expected the 2 good statements, got %d", len(stmts))
	}
	if len(m.ParseDiags) == 0 {
		t.Fatalf("skipped statement left no diagnostic")
	}
	if !m.ParseDiags[0].Recoverable {
		t.Fatalf("recovery diagnostic not marked recoverable")
	}
}

func Test_Parser_Wholly_Unusable_Module_Is_Fatal(t *testing.T) {
	if _, err := ParseModule("mod", ")( )( )("); err == nil {
		t.Fatalf("expected a module-fatal error")
	}
}

func Test_Parser_Node_Text_Is_Verbatim(t *testing.T) {
	src := "Sub S()\n    x   =   Chr( 65 )   ' spacing preserved\nEnd Sub\n"
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("S")
	st := p.Body()[0]
	if !strings.Contains(st.Text(), "x   =   Chr( 65 )") {
		t.Fatalf("verbatim text lost: %q", st.Text())
	}
}

func Test_Parser_Single_Line_If_With_Else(t *testing.T) {
	src := "Sub S()\n    If a > 1 Then b = 2 Else b = 3\nEnd Sub\n"
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("S")
	ifst, ok := p.Body()[0].(*IfStmt)
	if !ok {
		t.Fatalf("expected IfStmt, got %T", p.Body()[0])
	}
	if len(ifst.Arms) != 1 || ifst.Else == nil {
		t.Fatalf("single-line If/Else shape wrong: arms=%d else=%v", len(ifst.Arms), ifst.Else != nil)
	}
}

func Test_Parser_Block_If_ElseIf_Else(t *testing.T) {
	src := `Sub S()
    If a = 1 Then
        x = 1
    ElseIf a = 2 Then
        x = 2
    Else
        x = 3
    End If
End Sub
`
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("S")
	ifst := p.Body()[0].(*IfStmt)
	if len(ifst.Arms) != 2 || ifst.Else == nil {
		t.Fatalf("arms=%d else=%v", len(ifst.Arms), ifst.Else != nil)
	}
}

func Test_Parser_Select_Case_With_Else(t *testing.T) {
	src := `Sub S()
    Select Case n
        Case 1, 2
            x = 1
        Case Else
            x = 9
    End Select
End Sub
`
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("S")
	sel := p.Body()[0].(*SelectStmt)
	if len(sel.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(sel.Cases))
	}
	if len(sel.Cases[0].Matches) != 2 {
		t.Fatalf("first case should list 2 matches, got %d", len(sel.Cases[0].Matches))
	}
	if len(sel.Cases[1].Matches) != 0 {
		t.Fatalf("Case Else should have empty matches")
	}
}

func Test_Parser_Operator_Precedence(t *testing.T) {
	e, err := ParseExpression(`1 + 2 * 3 & "x"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// & binds loosest here: (1 + (2*3)) & "x"
	top, ok := e.(*BinExpr)
	if !ok || top.Op != "&" {
		t.Fatalf("top operator should be &, got %T", e)
	}
	plus, ok := top.L.(*BinExpr)
	if !ok || plus.Op != "+" {
		t.Fatalf("left of & should be +, got %#v", top.L)
	}
	if mul, ok := plus.R.(*BinExpr); !ok || mul.Op != "*" {
		t.Fatalf("* should bind tighter than +")
	}
}

func Test_Parser_Bare_Call_Statement_Collects_Args(t *testing.T) {
	src := "Sub S()\n    Shell \"cmd /c dir\", 0\nEnd Sub\n"
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("S")
	cs, ok := p.Body()[0].(*CallStmt)
	if !ok {
		t.Fatalf("expected CallStmt, got %T", p.Body()[0])
	}
	if len(cs.Call.Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(cs.Call.Args))
	}
}

func Test_Parser_Loose_Statements_Between_Procs(t *testing.T) {
	src := "Dim g\ng = 7\nSub S()\nEnd Sub\nh = 8\n"
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Loose == nil {
		t.Fatalf("loose statements were dropped")
	}
	if n := len(m.Loose.Stmts()); n != 3 {
		t.Fatalf("expected 3 loose statements, got %d", n)
	}
}

func Test_Parser_Clone_Has_Independent_Lazy_State(t *testing.T) {
	m, err := ParseModule("mod", twoProcSrc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cp := m.Clone()
	p, _ := m.Procedure("First")
	p.Body()
	cpp, _ := cp.Procedure("First")
	if cpp.BodyParsed() {
		t.Fatalf("clone shares lazy state with the original")
	}
	if len(cpp.Body()) != len(p.Body()) {
		t.Fatalf("clone parses differently")
	}
}

func Test_Parser_Open_Print_Close_Statements(t *testing.T) {
	src := `Sub S()
    Open "C:\t.txt" For Output As #1
    Print #1, "hello"
    Write #2, "quoted", 5
    Close #1
    Close
End Sub
`
	m, err := ParseModule("mod", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := m.Procedure("S")
	body := p.Body()
	if len(body) != 5 {
		t.Fatalf("expected 5 statements, got %d", len(body))
	}
	open := body[0].(*OpenStmt)
	if open.Mode != "output" {
		t.Fatalf("mode: %q", open.Mode)
	}
	if fp := body[2].(*FilePutStmt); !fp.Quoted || len(fp.Args) != 2 {
		t.Fatalf("Write form: quoted=%v args=%d", fp.Quoted, len(fp.Args))
	}
	if cl := body[4].(*CloseStmt); len(cl.FileNums) != 0 {
		t.Fatalf("bare Close should close all")
	}
}

func Test_Parser_Expression_Text_Is_Verbatim(t *testing.T) {
	src := `Chr( 65 )   &  "x"`
	e, err := ParseExpression(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.Text() != src {
		t.Fatalf("expression text normalized: %q", e.Text())
	}
	bin, ok := e.(*BinExpr)
	if !ok {
		t.Fatalf("expected BinExpr, got %T", e)
	}
	if bin.L.Text() != "Chr( 65 )" {
		t.Fatalf("call text normalized: %q", bin.L.Text())
	}
}

func Test_Parser_String_Literal_Text_Keeps_Doubled_Quotes(t *testing.T) {
	e, err := ParseExpression(`"a""b"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.Text() != `"a""b"` {
		t.Fatalf("literal text re-encoded: %q", e.Text())
	}
	lit, ok := e.(*LitExpr)
	if !ok {
		t.Fatalf("expected LitExpr, got %T", e)
	}
	if asString(lit.Val) != `a"b` {
		t.Fatalf("decoded value wrong: %q", asString(lit.Val))
	}
}
