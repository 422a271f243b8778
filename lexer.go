// lexer.go — line-oriented VBA lexer.
//
// VBA is newline-significant: statements end at end-of-line (or at ':'),
// and a trailing " _" splices the next physical line. The lexer handles
// those rules, plus:
//
//   - comments: "'" to end of line, and the Rem keyword form
//   - string literals with doubled-quote escaping ("he said ""hi""")
//   - &H.. hex and &O.. octal integer literals, type-suffix characters
//   - word operators (Mod, And, Or, Not, Xor, Like, Is, ...) surface as
//     plain identifier tokens; the parser classifies them
//
// Tokens carry byte offsets into the original source so every AST node can
// reproduce its text verbatim — reporting must show analysts what was really
// in the macro, not a normalized rendering.
package vmacro

import (
	"strconv"
	"strings"
)

// TokenType represents the kind of token.
type TokenType int

const (
	tEOF TokenType = iota
	tEOL            // newline or ':' statement separator
	tIdent          // identifiers and word operators/keywords
	tInt            // integer literal (incl. &H / &O forms)
	tNum            // floating literal
	tString         // string literal (Text holds the decoded value)
	tOp             // symbol operator or punctuation
)

// Token is one lexeme. Pos/End are byte offsets into the source; Line/Col
// are 1-based. For tString, Text is the decoded string while the raw
// characters remain addressable through Pos/End.
type Token struct {
	Kind      TokenType
	Text      string
	Pos, End  int
	Line, Col int
}

// LexError reports an unrecoverable tokenization failure.
type LexError struct {
	Line, Col int
	Msg       string
}

func (e *LexError) Error() string {
	return "lex error at " + strconv.Itoa(e.Line) + ":" + strconv.Itoa(e.Col) + ": " + e.Msg
}

type lexer struct {
	src       string
	pos       int
	line, col int
	toks      []Token
}

// lexSource tokenizes an entire macro source. It is tolerant by design:
// unexpected bytes become single-character operator tokens rather than
// aborting, so statement-level recovery stays in the parser's hands.
func lexSource(src string) []Token {
	lx := &lexer{src: src, line: 1, col: 1}
	lx.run()
	return lx.toks
}

func (lx *lexer) emit(kind TokenType, text string, pos, end, line, col int) {
	lx.toks = append(lx.toks, Token{Kind: kind, Text: text, Pos: pos, End: end, Line: line, Col: col})
}

func (lx *lexer) peek() byte {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *lexer) peekAt(off int) byte {
	if lx.pos+off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+off]
}

func (lx *lexer) advance() byte {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (lx *lexer) run() {
	for lx.pos < len(lx.src) {
		start, line, col := lx.pos, lx.line, lx.col
		c := lx.peek()

		switch {
		case c == ' ' || c == '\t' || c == '\r':
			lx.advance()

		case c == '\n':
			lx.advance()
			lx.emitEOL(start, line, col, "\n")

		case c == ':':
			// statement separator on the same physical line. '=' right after
			// would be a named-argument ':=' which we pass through as an op.
			if lx.peekAt(1) == '=' {
				lx.advance()
				lx.advance()
				lx.emit(tOp, ":=", start, lx.pos, line, col)
				continue
			}
			lx.advance()
			lx.emitEOL(start, line, col, ":")

		case c == '\'':
			for lx.pos < len(lx.src) && lx.peek() != '\n' {
				lx.advance()
			}

		case c == '"':
			lx.lexString(start, line, col)

		case c == '&' && (lx.peekAt(1) == 'H' || lx.peekAt(1) == 'h' || lx.peekAt(1) == 'O' || lx.peekAt(1) == 'o'):
			lx.lexRadixInt(start, line, col)

		case isDigit(c) || (c == '.' && isDigit(lx.peekAt(1))):
			lx.lexNumber(start, line, col)

		case isIdentStart(c):
			// "_" alone at end of line is a continuation marker
			if c == '_' && !isIdentPart(lx.peekAt(1)) {
				if lx.continuation(start) {
					continue
				}
			}
			for lx.pos < len(lx.src) && isIdentPart(lx.peek()) {
				lx.advance()
			}
			// trailing type suffix ($ % & ! # @) sticks to the identifier
			if s := lx.peek(); s == '$' || s == '%' || s == '!' || s == '@' {
				lx.advance()
			} else if s == '&' || s == '#' {
				// only a suffix when not followed by an operand
				if !isIdentStart(lx.peekAt(1)) && !isDigit(lx.peekAt(1)) && lx.peekAt(1) != '"' && lx.peekAt(1) != '(' && lx.peekAt(1) != ' ' {
					lx.advance()
				}
			}
			word := lx.src[start:lx.pos]
			if strings.EqualFold(word, "rem") {
				for lx.pos < len(lx.src) && lx.peek() != '\n' {
					lx.advance()
				}
				continue
			}
			lx.emit(tIdent, word, start, lx.pos, line, col)

		default:
			lx.lexOperator(start, line, col)
		}
	}
	lx.emit(tEOF, "", lx.pos, lx.pos, lx.line, lx.col)
}

// emitEOL collapses runs of separators into a single EOL token.
func (lx *lexer) emitEOL(pos, line, col int, text string) {
	if n := len(lx.toks); n > 0 && lx.toks[n-1].Kind == tEOL {
		return
	}
	if len(lx.toks) == 0 {
		return // leading blank lines produce nothing
	}
	lx.emit(tEOL, text, pos, pos+1, line, col)
}

// continuation consumes "_<ws>\n" and reports whether it was one.
func (lx *lexer) continuation(start int) bool {
	i := lx.pos + 1
	for i < len(lx.src) && (lx.src[i] == ' ' || lx.src[i] == '\t' || lx.src[i] == '\r') {
		i++
	}
	if i < len(lx.src) && lx.src[i] != '\n' {
		return false
	}
	for lx.pos < len(lx.src) && lx.peek() != '\n' {
		lx.advance()
	}
	if lx.pos < len(lx.src) {
		lx.advance() // the newline itself; no EOL token is emitted
	}
	return true
}

func (lx *lexer) lexString(start, line, col int) {
	lx.advance() // opening quote
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.peek()
		if c == '\n' {
			break // unterminated; surface what we have
		}
		if c == '"' {
			if lx.peekAt(1) == '"' {
				sb.WriteByte('"')
				lx.advance()
				lx.advance()
				continue
			}
			lx.advance()
			lx.emit(tString, sb.String(), start, lx.pos, line, col)
			return
		}
		sb.WriteByte(c)
		lx.advance()
	}
	lx.emit(tString, sb.String(), start, lx.pos, line, col)
}

func (lx *lexer) lexRadixInt(start, line, col int) {
	lx.advance() // '&'
	radixChar := lx.advance()
	base := 16
	digits := "0123456789abcdefABCDEF"
	if radixChar == 'O' || radixChar == 'o' {
		base = 8
		digits = "01234567"
	}
	ds := lx.pos
	for lx.pos < len(lx.src) && strings.IndexByte(digits, lx.peek()) >= 0 {
		lx.advance()
	}
	text := lx.src[ds:lx.pos]
	if s := lx.peek(); s == '&' || s == '%' { // type suffix
		lx.advance()
	}
	n, err := strconv.ParseInt(strings.ToLower(text), base, 64)
	if err != nil {
		n = 0
	}
	lx.emit(tInt, strconv.FormatInt(n, 10), start, lx.pos, line, col)
}

func (lx *lexer) lexNumber(start, line, col int) {
	seenDot := false
	seenExp := false
	for lx.pos < len(lx.src) {
		c := lx.peek()
		switch {
		case isDigit(c):
			lx.advance()
		case c == '.' && !seenDot && !seenExp && isDigit(lx.peekAt(1)):
			seenDot = true
			lx.advance()
		case (c == 'e' || c == 'E') && !seenExp && (isDigit(lx.peekAt(1)) || ((lx.peekAt(1) == '+' || lx.peekAt(1) == '-') && isDigit(lx.peekAt(2)))):
			seenExp = true
			lx.advance()
			if lx.peek() == '+' || lx.peek() == '-' {
				lx.advance()
			}
		default:
			goto done
		}
	}
done:
	text := lx.src[start:lx.pos]
	if s := lx.peek(); s == '%' || s == '&' || s == '!' || s == '#' || s == '@' {
		lx.advance() // type suffix characters never change the token text
	}
	if seenDot || seenExp {
		lx.emit(tNum, text, start, lx.pos, line, col)
		return
	}
	lx.emit(tInt, text, start, lx.pos, line, col)
}

func (lx *lexer) lexOperator(start, line, col int) {
	c := lx.advance()
	two := ""
	if lx.pos < len(lx.src) {
		two = string(c) + string(lx.peek())
	}
	switch two {
	case "<=", ">=", "<>", "=<", "=>":
		lx.advance()
		// normalize the reversed spellings some generators emit
		t := two
		if t == "=<" {
			t = "<="
		} else if t == "=>" {
			t = ">="
		}
		lx.emit(tOp, t, start, lx.pos, line, col)
		return
	}
	switch c {
	case '(', ')', ',', '.', '&', '+', '-', '*', '/', '\\', '^', '=', '<', '>', '#', ';', '!':
		lx.emit(tOp, string(c), start, lx.pos, line, col)
	default:
		// tolerate stray bytes; the parser decides whether to recover
		lx.emit(tOp, string(c), start, lx.pos, line, col)
	}
}
