package vmacro

import "testing"

func lexKinds(t *testing.T, src string) []Token {
	t.Helper()
	return lexSource(src)
}

func Test_Lexer_Colon_Separator_And_EOL_Collapse(t *testing.T) {
	toks := lexKinds(t, "a = 1 : b = 2\n\n\nc = 3")
	eols := 0
	for _, tok := range toks {
		if tok.Kind == tEOL {
			eols++
		}
	}
	if eols != 2 {
		t.Fatalf("expected 2 separators, got %d", eols)
	}
}

func Test_Lexer_Line_Continuation_Splices_Lines(t *testing.T) {
	toks := lexSource("x = 1 + _\n    2")
	for _, tok := range toks {
		if tok.Kind == tEOL {
			t.Fatalf("continuation should suppress the EOL, got one at %d:%d", tok.Line, tok.Col)
		}
	}
	last := toks[len(toks)-2] // before EOF
	if last.Kind != tInt || last.Text != "2" {
		t.Fatalf("expected trailing int 2, got kind=%d text=%q", last.Kind, last.Text)
	}
}

func Test_Lexer_Doubled_Quote_String_Escape(t *testing.T) {
	toks := lexSource(`s = "he said ""hi"""`)
	var got string
	for _, tok := range toks {
		if tok.Kind == tString {
			got = tok.Text
		}
	}
	if got != `he said "hi"` {
		t.Fatalf("string decode: got %q", got)
	}
}

func Test_Lexer_Radix_Literals_Normalize_To_Decimal(t *testing.T) {
	toks := lexSource("x = &HFF + &O17")
	var ints []string
	for _, tok := range toks {
		if tok.Kind == tInt {
			ints = append(ints, tok.Text)
		}
	}
	if len(ints) != 2 || ints[0] != "255" || ints[1] != "15" {
		t.Fatalf("radix literals: got %v", ints)
	}
}

func Test_Lexer_Comments_Are_Dropped(t *testing.T) {
	toks := lexSource("x = 1 ' trailing comment\nRem full line comment\ny = 2")
	for _, tok := range toks {
		if tok.Kind == tIdent && (tok.Text == "trailing" || tok.Text == "full") {
			t.Fatalf("comment token leaked: %q", tok.Text)
		}
	}
}

func Test_Lexer_Reversed_Comparison_Spellings_Normalize(t *testing.T) {
	toks := lexSource("If a =< b Then")
	found := false
	for _, tok := range toks {
		if tok.Kind == tOp && tok.Text == "<=" {
			found = true
		}
	}
	if !found {
		t.Fatalf("=< was not normalized to <=")
	}
}

func Test_Lexer_Type_Suffix_On_Identifier(t *testing.T) {
	toks := lexSource("s$ = 1")
	if toks[0].Kind != tIdent || toks[0].Text != "s$" {
		t.Fatalf("suffix handling: got kind=%d text=%q", toks[0].Kind, toks[0].Text)
	}
}

func Test_Lexer_Tolerates_Stray_Bytes(t *testing.T) {
	toks := lexSource("x = 1 @@ y")
	if len(toks) == 0 || toks[len(toks)-1].Kind != tEOF {
		t.Fatalf("lexer must always terminate with EOF")
	}
}
