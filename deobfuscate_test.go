package vmacro

import (
	"strings"
	"testing"
)

func foldStr(t *testing.T, src string) (Value, bool) {
	t.Helper()
	e, err := ParseExpression(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return FoldExpr(e)
}

func Test_Fold_Chr_Concat_Chain(t *testing.T) {
	v, ok := foldStr(t, `"w" & Chr(111) & "rl" & Chr(123 Xor 31)`)
	if !ok {
		t.Fatalf("chain should fold")
	}
	if asString(v) != "world" {
		t.Fatalf("got %q", asString(v))
	}
}

func Test_Fold_Refuses_Variables(t *testing.T) {
	if _, ok := foldStr(t, `"a" & x`); ok {
		t.Fatalf("variable reference must block folding")
	}
}

func Test_Fold_Refuses_Impure_Builtins(t *testing.T) {
	if _, ok := foldStr(t, `Environ("USERNAME")`); ok {
		t.Fatalf("impure builtin must block folding")
	}
	if _, ok := foldStr(t, `Rnd()`); ok {
		t.Fatalf("Rnd must block folding")
	}
}

func Test_Fold_Arithmetic_And_Unary(t *testing.T) {
	v, ok := foldStr(t, "-(2 + 3) * 4")
	if !ok {
		t.Fatalf("should fold")
	}
	if n, _ := asInt(v); n != -20 {
		t.Fatalf("got %v", v)
	}
}

func Test_DeobfuscateText_Rewrites_Constant_Spans(t *testing.T) {
	src := "Sub M()\n    s = \"w\" & Chr(111) & \"rl\" & Chr(100)\nEnd Sub\n"
	out := DeobfuscateText(src)
	if !strings.Contains(out, `"world"`) {
		t.Fatalf("fold did not land in the text:\n%s", out)
	}
	if strings.Contains(out, "Chr(111)") {
		t.Fatalf("folded call survived:\n%s", out)
	}
}

func Test_DeobfuscateText_Partial_Chain_Around_Variable(t *testing.T) {
	src := "Sub M()\n    s = \"a\" & v & Chr(98) & Chr(99)\nEnd Sub\n"
	out := DeobfuscateText(src)
	if !strings.Contains(out, `"bc"`) {
		t.Fatalf("literal run after the variable should fold:\n%s", out)
	}
	if !strings.Contains(out, "v") {
		t.Fatalf("variable must survive:\n%s", out)
	}
}

func Test_DeobfuscateText_Output_Reparses(t *testing.T) {
	src := "Sub M()\n    s = Chr(72) & Chr(105)\n    t = 2 + 3\nEnd Sub\n"
	out := DeobfuscateText(src)
	m, err := ParseModule("deob", out)
	if err != nil {
		t.Fatalf("rewritten source must parse: %v\n%s", err, out)
	}
	p, ok := m.Procedure("M")
	if !ok || len(p.Body()) != 2 {
		t.Fatalf("rewritten structure changed")
	}
}

func Test_DeobfuscateText_Refuses_Newline_Injection(t *testing.T) {
	// Chr(10) folds to a newline; substituting it would split the line
	src := "Sub M()\n    s = Chr(65) & Chr(10) & Chr(66)\nEnd Sub\n"
	out := DeobfuscateText(src)
	if _, err := ParseModule("deob", out); err != nil {
		t.Fatalf("rewritten source broke: %v\n%s", err, out)
	}
	if strings.Count(out, "\n") != strings.Count(src, "\n") {
		t.Fatalf("line structure changed:\n%s", out)
	}
}

func Test_DeobfuscateText_Untouched_Source_Is_Identical(t *testing.T) {
	src := "Sub M()\n    x = y + z\nEnd Sub\n"
	if out := DeobfuscateText(src); out != src {
		t.Fatalf("no folds, yet text changed:\n%s", out)
	}
}

func Test_Fold_Emulation_Agreement(t *testing.T) {
	// folding and evaluating must agree wherever both succeed
	exprs := []string{
		`Chr(65) & "B"`,
		`"1" + 2`,
		`10 Mod 3`,
		`2 ^ 10`,
		`UCase("abc") & LCase("DEF")`,
		`StrReverse("dcba")`,
	}
	m, _ := ParseModule("test", "")
	ev := NewEvaluator(NewContext(), m)
	for _, src := range exprs {
		e, err := ParseExpression(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		folded, ok := FoldExpr(e)
		if !ok {
			t.Fatalf("%q should fold", src)
		}
		evaled, err := ev.Eval(e)
		if err != nil {
			t.Fatalf("eval %q: %v", src, err)
		}
		if asString(folded) != asString(evaled) {
			t.Fatalf("%q: fold=%q eval=%q", src, asString(folded), asString(evaled))
		}
	}
}
