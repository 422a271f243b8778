// parser.go — two-level, recovery-oriented VBA parser.
//
// Level 1 (ParseModule) scans logical lines for top-level structure only:
// Attribute/Option headers, procedure headers and their matching End lines,
// and loose statements. Procedure bodies are *not* parsed here — each
// Procedure records its logical-line range and parses on first demand.
//
// Level 2 (parseRange) turns a line range into statements. It is built to
// survive the malformed macros this tool exists for: a statement that fails
// to parse is skipped and recorded as a recoverable diagnostic, and parsing
// continues with the next line. Only a module that yields no procedures and
// no loose statements at all is rejected outright.
//
// Expressions use precedence climbing over the VBA operator table. Word
// operators (Mod, Xor, Like, ...) arrive from the lexer as identifiers and
// are classified here.
package vmacro

import (
	"fmt"
	"strconv"
	"strings"
)

// logicalLine is one statement-bearing line: tokens without the trailing
// separator.
type logicalLine struct {
	toks []Token
}

func (l logicalLine) first() string {
	if len(l.toks) == 0 {
		return ""
	}
	return strings.ToLower(l.toks[0].Text)
}

func (l logicalLine) word(i int) string {
	if i >= len(l.toks) || l.toks[i].Kind != tIdent {
		return ""
	}
	return strings.ToLower(l.toks[i].Text)
}

func (l logicalLine) span() Span {
	if len(l.toks) == 0 {
		return Span{}
	}
	return Span{Start: l.toks[0].Pos, End: l.toks[len(l.toks)-1].End}
}

// ParseModule parses raw macro source into a Module with lazily parsed
// bodies. The returned error is non-nil only for a module-fatal failure:
// source that produces no procedures and no loose statements.
func ParseModule(name, src string) (*Module, error) {
	m := &Module{
		Name:       name,
		Source:     src,
		Attributes: map[string]string{},
		procIndex:  map[string]*Procedure{},
	}
	m.lines = splitLines(lexSource(src))

	var loose []logicalLine
	i := 0
	for i < len(m.lines) {
		ln := m.lines[i]
		switch {
		case len(ln.toks) == 0:
			i++

		case ln.first() == "attribute":
			m.parseAttribute(ln)
			i++

		case ln.first() == "option" || ln.first() == "declare" ||
			((ln.first() == "public" || ln.first() == "private") && ln.word(1) == "declare"):
			// host declarations carry no emulatable behavior
			i++

		case isProcHeader(ln):
			next, ok := m.scanProcedure(i)
			if !ok {
				// header without a matching End: take the rest of the file
				// as the body and keep going (recoverable)
				next = len(m.lines)
				m.scanProcedureUnterminated(i)
			}
			i = next

		default:
			if ln.toks[0].Kind != tIdent {
				// statements always open with a word; anything else is
				// stream damage
				m.ParseDiags = append(m.ParseDiags, &SyntaxError{
					Line: ln.toks[0].Line, Col: ln.toks[0].Col,
					Msg: "statement cannot start with '" + ln.toks[0].Text + "'", Recoverable: true,
				})
				i++
				continue
			}
			loose = append(loose, ln)
			i++
		}
	}

	if len(loose) > 0 {
		// loose lines may be scattered between procedures; append them as a
		// contiguous tail range so Block can stay a simple line range
		lo := len(m.lines)
		m.lines = append(m.lines, loose...)
		b := &Block{mod: m, lo: lo, hi: len(m.lines)}
		b.set(Span{Start: loose[0].span().Start, End: loose[len(loose)-1].span().End},
			sliceSrc(src, loose[0].span().Start, loose[len(loose)-1].span().End),
			loose[0].toks[0].Line, loose[0].toks[0].Col)
		m.Loose = b
	}

	if v, ok := m.Attributes["VB_Name"]; ok && v != "" {
		m.Name = v
	}
	if len(m.Procs) == 0 && m.Loose == nil && strings.TrimSpace(src) != "" {
		return nil, &SyntaxError{Line: 1, Col: 1, Msg: "no parsable structure recovered from module"}
	}
	return m, nil
}

func sliceSrc(src string, start, end int) string {
	if start < 0 || end > len(src) || start > end {
		return ""
	}
	return src[start:end]
}

func splitLines(toks []Token) []logicalLine {
	var lines []logicalLine
	var cur []Token
	for _, t := range toks {
		switch t.Kind {
		case tEOL, tEOF:
			if len(cur) > 0 {
				lines = append(lines, logicalLine{toks: cur})
				cur = nil
			}
		default:
			cur = append(cur, t)
		}
	}
	return lines
}

func (m *Module) parseAttribute(ln logicalLine) {
	// Attribute VB_Name = "Module1"
	if len(ln.toks) >= 4 && ln.toks[1].Kind == tIdent && ln.toks[2].Text == "=" {
		val := ln.toks[3].Text
		m.Attributes[ln.toks[1].Text] = val
	}
}

func isProcHeader(ln logicalLine) bool {
	i := 0
	for ; i < len(ln.toks); i++ {
		switch ln.word(i) {
		case "public", "private", "friend", "static":
			continue
		case "sub", "function":
			return true
		default:
			return false
		}
	}
	return false
}

func isProcEnd(ln logicalLine) bool {
	return ln.first() == "end" && (ln.word(1) == "sub" || ln.word(1) == "function")
}

// scanProcedure parses a header at line i, locates the matching End line,
// and registers the Procedure. Returns the next line index.
func (m *Module) scanProcedure(i int) (int, bool) {
	end := -1
	for j := i + 1; j < len(m.lines); j++ {
		if isProcEnd(m.lines[j]) {
			end = j
			break
		}
		if isProcHeader(m.lines[j]) {
			break // a new header before End: the previous proc is unterminated
		}
	}
	if end < 0 {
		return 0, false
	}
	m.addProcedure(i, i+1, end, m.lines[end].span().End)
	return end + 1, true
}

func (m *Module) scanProcedureUnterminated(i int) {
	endSpan := len(m.Source)
	m.addProcedure(i, i+1, len(m.lines), endSpan)
	hdr := m.lines[i]
	m.ParseDiags = append(m.ParseDiags, &SyntaxError{
		Line: hdr.toks[0].Line, Col: hdr.toks[0].Col,
		Msg: "procedure is missing its End line; body runs to end of module", Recoverable: true,
	})
}

func (m *Module) addProcedure(hdr, lo, hi, endByte int) {
	ln := m.lines[hdr]
	p := &Procedure{mod: m, bodyLo: lo, bodyHi: hi, DeclSeq: len(m.Procs)}

	i := 0
	for ln.word(i) == "public" || ln.word(i) == "private" || ln.word(i) == "friend" || ln.word(i) == "static" {
		i++
	}
	if ln.word(i) == "function" {
		p.Kind = FunctionProc
	}
	i++
	if i < len(ln.toks) && ln.toks[i].Kind == tIdent {
		p.Name = ln.toks[i].Text
		i++
	} else {
		p.Name = fmt.Sprintf("anon_%d", len(m.Procs))
		m.ParseDiags = append(m.ParseDiags, &SyntaxError{
			Line: ln.toks[0].Line, Col: ln.toks[0].Col,
			Msg: "procedure header is missing a name", Recoverable: true,
		})
	}
	p.Params = parseParams(m.Source, ln.toks[i:])
	p.set(Span{Start: ln.span().Start, End: endByte},
		sliceSrc(m.Source, ln.span().Start, endByte), ln.toks[0].Line, ln.toks[0].Col)

	m.Procs = append(m.Procs, p)
	m.procIndex[strings.ToLower(p.Name)] = p
}

// parseParams reads "(ByVal a, Optional b = 1, c As String)" clauses.
// Parameters default to by-reference, as the language does.
func parseParams(src string, toks []Token) []Param {
	if len(toks) == 0 || toks[0].Text != "(" {
		return nil
	}
	var params []Param
	i := 1
	for i < len(toks) && toks[i].Text != ")" {
		p := Param{ByRef: true}
		for i < len(toks) && toks[i].Kind == tIdent {
			switch strings.ToLower(toks[i].Text) {
			case "byval":
				p.ByRef = false
				i++
				continue
			case "byref":
				i++
				continue
			case "optional":
				p.Optional = true
				i++
				continue
			case "paramarray":
				i++
				continue
			}
			break
		}
		if i < len(toks) && toks[i].Kind == tIdent {
			p.Name = toks[i].Text
			i++
		}
		// skip "As Type"
		if i+1 < len(toks) && strings.EqualFold(toks[i].Text, "as") {
			i += 2
		}
		// "= default"
		if i < len(toks) && toks[i].Text == "=" {
			i++
			depth := 0
			start := i
			for i < len(toks) && !(depth == 0 && (toks[i].Text == "," || toks[i].Text == ")")) {
				switch toks[i].Text {
				case "(":
					depth++
				case ")":
					depth--
				}
				i++
			}
			lp := &lineParser{toks: toks[start:i], src: src}
			if e, err := lp.parseExpr(0); err == nil {
				p.Default = e
			}
		}
		if p.Name != "" {
			params = append(params, p)
		}
		for i < len(toks) && toks[i].Text != "," && toks[i].Text != ")" {
			i++
		}
		if i < len(toks) && toks[i].Text == "," {
			i++
		}
	}
	return params
}

/* ===========================
   Statement parsing (lazy bodies land here)
   =========================== */

// parseRange parses the logical lines in [lo, hi) into statements,
// recovering from bad statements by skipping them.
func (m *Module) parseRange(lo, hi int) []Stmt {
	var out []Stmt
	i := lo
	for i < hi && i < len(m.lines) {
		st, next, err := m.parseStmtAt(i, hi)
		if err != nil {
			var se *SyntaxError
			if s, ok := err.(*SyntaxError); ok {
				se = s
				se.Recoverable = true
			} else {
				ln := m.lines[i]
				se = &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: err.Error(), Recoverable: true}
			}
			m.ParseDiags = append(m.ParseDiags, se)
			if next <= i {
				next = i + 1
			}
			i = next
			continue
		}
		if st != nil {
			out = append(out, st)
		}
		i = next
	}
	return out
}

// parseStmtAt parses the statement starting at line i (possibly consuming a
// compound body) and returns the next line index.
func (m *Module) parseStmtAt(i, hi int) (Stmt, int, error) {
	ln := m.lines[i]
	if len(ln.toks) == 0 {
		return nil, i + 1, nil
	}
	switch ln.first() {
	case "dim", "static", "const", "redim":
		st, err := m.parseDeclLine(ln)
		return st, i + 1, err
	case "public", "private":
		// module-level declarations inside bodies are rare; treat like Dim
		st, err := m.parseDeclLine(ln)
		return st, i + 1, err
	case "set", "let":
		st, err := m.parseAssignLine(ln, ln.first() == "set", 1)
		return st, i + 1, err
	case "call":
		st, err := m.parseCallLine(ln, 1)
		return st, i + 1, err
	case "if":
		return m.parseIf(i, hi)
	case "select":
		return m.parseSelect(i, hi)
	case "for":
		return m.parseFor(i, hi)
	case "do":
		return m.parseDo(i, hi)
	case "while":
		return m.parseWhile(i, hi)
	case "on":
		st, err := m.parseOnError(ln)
		return st, i + 1, err
	case "exit":
		st, err := m.parseExit(ln)
		return st, i + 1, err
	case "open":
		st, err := m.parseOpen(ln)
		return st, i + 1, err
	case "print", "write":
		if len(ln.toks) > 1 && ln.toks[1].Text == "#" {
			st, err := m.parseFilePut(ln)
			return st, i + 1, err
		}
		st, err := m.parseBareLine(ln)
		return st, i + 1, err
	case "close":
		st, err := m.parseClose(ln)
		return st, i + 1, err
	case "end", "wend", "next", "loop", "else", "elseif", "case":
		// stray closer: structural damage; skip with a diagnostic
		return nil, i + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col,
			Msg: "unexpected '" + ln.toks[0].Text + "'"}
	case "goto", "gosub", "resume", "stop", "doevents", "randomize", "beep":
		// recognized but unmodeled; harmless to drop here, the evaluator
		// never sees them
		return nil, i + 1, nil
	default:
		st, err := m.parseBareLine(ln)
		return st, i + 1, err
	}
}

func (m *Module) stampLine(n *node, ln logicalLine) {
	sp := ln.span()
	n.set(sp, sliceSrc(m.Source, sp.Start, sp.End), ln.toks[0].Line, ln.toks[0].Col)
}

func (m *Module) stampRange(n *node, from, to logicalLine) {
	sp := Span{Start: from.span().Start, End: to.span().End}
	n.set(sp, sliceSrc(m.Source, sp.Start, sp.End), from.toks[0].Line, from.toks[0].Col)
}

func (m *Module) parseDeclLine(ln logicalLine) (Stmt, error) {
	st := &DimStmt{Static: ln.first() == "static"}
	m.stampLine(&st.node, ln)

	// Const folds into declaration + assignment; model it as assignment so
	// the bound value is visible. `Const x = 1` → x = 1.
	if ln.first() == "const" || (ln.word(1) == "const") {
		start := 1
		if ln.word(1) == "const" {
			start = 2
		}
		return m.parseAssignLine(logicalLine{toks: ln.toks[start:]}, false, 0)
	}

	i := 1
	for i < len(ln.toks) {
		if ln.toks[i].Kind == tIdent && !strings.EqualFold(ln.toks[i].Text, "as") {
			st.Names = append(st.Names, ln.toks[i].Text)
			i++
			// skip array dims "(...)"
			if i < len(ln.toks) && ln.toks[i].Text == "(" {
				depth := 1
				i++
				for i < len(ln.toks) && depth > 0 {
					switch ln.toks[i].Text {
					case "(":
						depth++
					case ")":
						depth--
					}
					i++
				}
			}
			// skip "As Type"
			if i+1 < len(ln.toks) && strings.EqualFold(ln.toks[i].Text, "as") {
				i += 2
				// consume dotted type names
				for i+1 < len(ln.toks) && ln.toks[i].Text == "." {
					i += 2
				}
			}
		}
		if i < len(ln.toks) && ln.toks[i].Text == "," {
			i++
			continue
		}
		if i < len(ln.toks) && ln.toks[i].Text == "=" {
			// "Dim x = 1" is not VBA but appears in generated macros; keep it
			rest := logicalLine{toks: ln.toks[1:]}
			return m.parseAssignLine(rest, false, 0)
		}
		break
	}
	if len(st.Names) == 0 {
		return nil, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "declaration lists no variables"}
	}
	return st, nil
}

// parseAssignLine parses `target = expr` starting at token offset start.
func (m *Module) parseAssignLine(ln logicalLine, isSet bool, start int) (Stmt, error) {
	lp := &lineParser{toks: ln.toks[start:], src: m.Source}
	target, err := lp.parsePostfix()
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	if !lp.eat("=") {
		return nil, lp.errAt("expected '=' in assignment")
	}
	val, err := lp.parseExpr(0)
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	if !lp.done() {
		return nil, lp.errAt("trailing tokens after assignment")
	}
	st := &AssignStmt{Target: target, Value: val, Set: isSet}
	m.stampLine(&st.node, ln)
	return st, nil
}

func (m *Module) parseCallLine(ln logicalLine, start int) (Stmt, error) {
	lp := &lineParser{toks: ln.toks[start:], src: m.Source}
	e, err := lp.parseExpr(0)
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	call, ok := e.(*CallExpr)
	if !ok {
		call = &CallExpr{Callee: e}
		call.node = *exprBase(e)
	}
	st := &CallStmt{Call: call}
	m.stampLine(&st.node, ln)
	return st, nil
}

// parseBareLine handles `f x, y` statement calls and plain assignments.
func (m *Module) parseBareLine(ln logicalLine) (Stmt, error) {
	lp := &lineParser{toks: ln.toks, src: m.Source}
	head, err := lp.parsePostfix()
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	if lp.peekText() == "=" {
		lp.next()
		val, verr := lp.parseExpr(0)
		if verr != nil {
			return nil, lp.errAt(verr.Error())
		}
		if !lp.done() {
			return nil, lp.errAt("trailing tokens after assignment")
		}
		st := &AssignStmt{Target: head, Value: val}
		m.stampLine(&st.node, ln)
		return st, nil
	}

	// bare call: remaining comma-separated expressions are arguments
	var args []Expr
	if call, ok := head.(*CallExpr); ok && lp.done() {
		st := &CallStmt{Call: call}
		m.stampLine(&st.node, ln)
		return st, nil
	}
	for !lp.done() {
		a, aerr := lp.parseExpr(0)
		if aerr != nil {
			return nil, lp.errAt(aerr.Error())
		}
		args = append(args, a)
		if !lp.eat(",") {
			break
		}
	}
	if !lp.done() {
		return nil, lp.errAt("unexpected token '" + lp.peekText() + "'")
	}
	call := &CallExpr{Callee: head, Args: args}
	call.node = *exprBase(head)
	st := &CallStmt{Call: call}
	m.stampLine(&st.node, ln)
	return st, nil
}

func exprBase(e Expr) *node {
	n := &node{}
	line, col := e.Pos()
	n.set(e.Span(), e.Text(), line, col)
	return n
}

func (m *Module) parseOnError(ln logicalLine) (Stmt, error) {
	if ln.word(1) != "error" {
		return nil, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "expected 'On Error'"}
	}
	st := &OnErrorStmt{}
	switch {
	case ln.word(2) == "resume": // On Error Resume Next
		st.Resume = true
	case ln.word(2) == "goto" && len(ln.toks) > 3 && ln.toks[3].Text == "0":
		st.Resume = false
	default:
		// On Error GoTo <label>: we cannot jump, but the intent is
		// suppression — treat as resume-next
		st.Resume = true
	}
	m.stampLine(&st.node, ln)
	return st, nil
}

func (m *Module) parseExit(ln logicalLine) (Stmt, error) {
	st := &ExitStmt{}
	switch ln.word(1) {
	case "sub":
		st.Kind = ExitSub
	case "function":
		st.Kind = ExitFunction
	case "for":
		st.Kind = ExitFor
	case "do":
		st.Kind = ExitDo
	default:
		return nil, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "unknown Exit form"}
	}
	m.stampLine(&st.node, ln)
	return st, nil
}

// parseOpen reads `Open <path> For <mode> [Access ...] As [#]n`.
func (m *Module) parseOpen(ln logicalLine) (Stmt, error) {
	lp := &lineParser{toks: ln.toks[1:], src: m.Source}
	path, err := lp.parseExpr(0)
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	if !strings.EqualFold(lp.peekText(), "for") {
		return nil, lp.errAt("expected 'For' in Open statement")
	}
	lp.next()
	mode := strings.ToLower(lp.peekText())
	lp.next()
	for !lp.done() && !strings.EqualFold(lp.peekText(), "as") {
		lp.next() // Access/Lock clauses are irrelevant to emulation
	}
	if !strings.EqualFold(lp.peekText(), "as") {
		return nil, lp.errAt("expected 'As' in Open statement")
	}
	lp.next()
	lp.eat("#")
	num, err := lp.parseExpr(0)
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	st := &OpenStmt{Path: path, Mode: mode, FileNum: num}
	m.stampLine(&st.node, ln)
	return st, nil
}

func (m *Module) parseFilePut(ln logicalLine) (Stmt, error) {
	quoted := ln.first() == "write"
	lp := &lineParser{toks: ln.toks[1:], src: m.Source}
	if !lp.eat("#") {
		return nil, lp.errAt("expected '#' after Print/Write")
	}
	num, err := lp.parseExpr(0)
	if err != nil {
		return nil, lp.errAt(err.Error())
	}
	var args []Expr
	if lp.eat(",") {
		for !lp.done() {
			a, aerr := lp.parseExpr(0)
			if aerr != nil {
				return nil, lp.errAt(aerr.Error())
			}
			args = append(args, a)
			if !lp.eat(",") && !lp.eat(";") {
				break
			}
		}
	}
	st := &FilePutStmt{FileNum: num, Args: args, Quoted: quoted}
	m.stampLine(&st.node, ln)
	return st, nil
}

func (m *Module) parseClose(ln logicalLine) (Stmt, error) {
	lp := &lineParser{toks: ln.toks[1:], src: m.Source}
	st := &CloseStmt{}
	for !lp.done() {
		lp.eat("#")
		n, err := lp.parseExpr(0)
		if err != nil {
			return nil, lp.errAt(err.Error())
		}
		st.FileNums = append(st.FileNums, n)
		if !lp.eat(",") {
			break
		}
	}
	m.stampLine(&st.node, ln)
	return st, nil
}

/* ===========================
   Compound statements
   =========================== */

// blockOpens reports which compound construct (if any) a line opens.
// Single-line If (with a statement after Then) does not open a block.
func blockOpens(ln logicalLine) string {
	switch ln.first() {
	case "if":
		if thenIdx := findThen(ln); thenIdx >= 0 && thenIdx == len(ln.toks)-1 {
			return "if"
		}
		return ""
	case "for":
		return "for"
	case "do":
		return "do"
	case "while":
		return "while"
	case "select":
		return "select"
	}
	return ""
}

func blockCloses(ln logicalLine, kind string) bool {
	switch kind {
	case "if":
		return ln.first() == "end" && ln.word(1) == "if"
	case "for":
		return ln.first() == "next"
	case "do":
		return ln.first() == "loop"
	case "while":
		return ln.first() == "wend"
	case "select":
		return ln.first() == "end" && ln.word(1) == "select"
	}
	return false
}

func findThen(ln logicalLine) int {
	depth := 0
	for i, t := range ln.toks {
		switch t.Text {
		case "(":
			depth++
		case ")":
			depth--
		}
		if depth == 0 && t.Kind == tIdent && strings.EqualFold(t.Text, "then") {
			return i
		}
	}
	return -1
}

// findCloser locates the matching closer for the block opened at line i,
// returning its index. Nested blocks of any kind are skipped.
func (m *Module) findCloser(i, hi int, kind string) (int, error) {
	depth := 0
	for j := i + 1; j < hi && j < len(m.lines); j++ {
		ln := m.lines[j]
		if blockCloses(ln, kind) && depth == 0 {
			return j, nil
		}
		if o := blockOpens(ln); o == kind {
			depth++
			continue
		}
		if blockCloses(ln, kind) {
			depth--
		}
	}
	hdr := m.lines[i]
	return 0, &SyntaxError{Line: hdr.toks[0].Line, Col: hdr.toks[0].Col,
		Msg: "unterminated '" + kind + "' block"}
}

func (m *Module) newBlock(lo, hi int) *Block {
	b := &Block{mod: m, lo: lo, hi: hi}
	if lo < hi && lo < len(m.lines) {
		from := m.lines[lo]
		to := m.lines[hi-1]
		m.stampRange(&b.node, from, to)
	}
	return b
}

func inlineBlock(stmts []Stmt) *Block {
	b := &Block{parsed: true, memo: stmts}
	if len(stmts) > 0 {
		b.set(stmts[0].Span(), stmts[0].Text(), 0, 0)
		b.line, b.col = stmts[0].Pos()
	}
	return b
}

func (m *Module) parseIf(i, hi int) (Stmt, int, error) {
	ln := m.lines[i]
	thenIdx := findThen(ln)
	if thenIdx < 0 {
		return nil, i + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "If without Then"}
	}

	condToks := ln.toks[1:thenIdx]
	lp := &lineParser{toks: condToks, src: m.Source}
	cond, err := lp.parseExpr(0)
	if err != nil || !lp.done() {
		return nil, i + 1, lp.errAt("bad If condition")
	}

	// single-line form: If c Then s1 [Else s2]
	if thenIdx < len(ln.toks)-1 {
		rest := ln.toks[thenIdx+1:]
		elseIdx := -1
		for k, t := range rest {
			if t.Kind == tIdent && strings.EqualFold(t.Text, "else") {
				elseIdx = k
				break
			}
		}
		var thenToks, elseToks []Token
		if elseIdx >= 0 {
			thenToks, elseToks = rest[:elseIdx], rest[elseIdx+1:]
		} else {
			thenToks = rest
		}
		thenStmt, terr := m.parseInline(thenToks)
		if terr != nil {
			return nil, i + 1, terr
		}
		st := &IfStmt{Arms: []IfArm{{Cond: cond, Body: inlineBlock(thenStmt)}}}
		if len(elseToks) > 0 {
			elseStmt, eerr := m.parseInline(elseToks)
			if eerr != nil {
				return nil, i + 1, eerr
			}
			st.Else = inlineBlock(elseStmt)
		}
		m.stampLine(&st.node, ln)
		return st, i + 1, nil
	}

	// block form: collect ElseIf/Else arms up to End If
	end, err := m.findCloser(i, hi, "if")
	if err != nil {
		return nil, hi, err
	}
	st := &IfStmt{}
	armCond := cond
	armStart := i + 1
	depth := 0
	for j := i + 1; j <= end; j++ {
		cur := m.lines[j]
		if j < end {
			if o := blockOpens(cur); o == "if" {
				depth++
				continue
			}
			if blockCloses(cur, "if") {
				depth--
				continue
			}
		}
		if depth > 0 && j < end {
			continue
		}
		isElseIf := cur.first() == "elseif" || (cur.first() == "else" && cur.word(1) == "if")
		isElse := cur.first() == "else" && !isElseIf && len(cur.toks) == 1
		if j == end || isElseIf || isElse {
			body := m.newBlock(armStart, j)
			if armCond != nil {
				st.Arms = append(st.Arms, IfArm{Cond: armCond, Body: body})
			} else {
				st.Else = body
			}
			if j == end {
				break
			}
			if isElse {
				armCond = nil
			} else {
				off := 1
				if cur.first() == "else" {
					off = 2
				}
				ti := findThen(cur)
				if ti < 0 {
					ti = len(cur.toks)
				}
				lp := &lineParser{toks: cur.toks[off:ti], src: m.Source}
				c, cerr := lp.parseExpr(0)
				if cerr != nil {
					return nil, end + 1, lp.errAt("bad ElseIf condition")
				}
				armCond = c
			}
			armStart = j + 1
		}
	}
	m.stampRange(&st.node, ln, m.lines[end])
	return st, end + 1, nil
}

// parseInline parses colon-free inline statements for single-line If. The
// tokens form exactly one statement.
func (m *Module) parseInline(toks []Token) ([]Stmt, error) {
	if len(toks) == 0 {
		return nil, nil
	}
	fake := logicalLine{toks: toks}
	saved := m.lines
	m.lines = []logicalLine{fake}
	st, _, err := m.parseStmtAt(0, 1)
	m.lines = saved
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	return []Stmt{st}, nil
}

func (m *Module) parseSelect(i, hi int) (Stmt, int, error) {
	ln := m.lines[i]
	if ln.word(1) != "case" {
		return nil, i + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "expected 'Select Case'"}
	}
	lp := &lineParser{toks: ln.toks[2:], src: m.Source}
	subj, err := lp.parseExpr(0)
	if err != nil {
		return nil, i + 1, lp.errAt(err.Error())
	}
	end, err := m.findCloser(i, hi, "select")
	if err != nil {
		return nil, hi, err
	}

	st := &SelectStmt{Subject: subj}
	var curMatches []Expr
	haveArm := false
	armStart := -1
	depth := 0
	flush := func(j int) {
		if haveArm {
			st.Cases = append(st.Cases, CaseClause{Matches: curMatches, Body: m.newBlock(armStart, j)})
		}
	}
	for j := i + 1; j <= end; j++ {
		cur := m.lines[j]
		if j < end {
			if o := blockOpens(cur); o == "select" {
				depth++
				continue
			}
			if blockCloses(cur, "select") {
				depth--
				continue
			}
		}
		if depth > 0 && j < end {
			continue
		}
		if j == end {
			flush(j)
			break
		}
		if cur.first() == "case" && depth == 0 {
			flush(j)
			haveArm = true
			armStart = j + 1
			curMatches = nil
			if cur.word(1) == "else" {
				continue // empty Matches = Case Else
			}
			clp := &lineParser{toks: cur.toks[1:], src: m.Source}
			for !clp.done() {
				e, eerr := clp.parseExpr(0)
				if eerr != nil {
					return nil, end + 1, clp.errAt("bad Case expression")
				}
				curMatches = append(curMatches, e)
				if !clp.eat(",") {
					break
				}
			}
		}
	}
	m.stampRange(&st.node, ln, m.lines[end])
	return st, end + 1, nil
}

func (m *Module) parseFor(i, hi int) (Stmt, int, error) {
	ln := m.lines[i]
	end, err := m.findCloser(i, hi, "for")
	if err != nil {
		return nil, hi, err
	}

	if ln.word(1) == "each" {
		// For Each v In coll
		if len(ln.toks) < 5 {
			return nil, end + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "bad For Each header"}
		}
		varName := ln.toks[2].Text
		inIdx := -1
		for k, t := range ln.toks {
			if t.Kind == tIdent && strings.EqualFold(t.Text, "in") {
				inIdx = k
				break
			}
		}
		if inIdx < 0 {
			return nil, end + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "For Each without In"}
		}
		lp := &lineParser{toks: ln.toks[inIdx+1:], src: m.Source}
		coll, cerr := lp.parseExpr(0)
		if cerr != nil {
			return nil, end + 1, lp.errAt(cerr.Error())
		}
		st := &ForEachStmt{Var: varName, Collection: coll, Body: m.newBlock(i+1, end)}
		m.stampRange(&st.node, ln, m.lines[end])
		return st, end + 1, nil
	}

	// For v = from To to [Step s]
	if len(ln.toks) < 4 || ln.toks[1].Kind != tIdent || ln.toks[2].Text != "=" {
		return nil, end + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "bad For header"}
	}
	varName := ln.toks[1].Text
	toIdx, stepIdx := -1, -1
	depth := 0
	for k := 3; k < len(ln.toks); k++ {
		t := ln.toks[k]
		switch t.Text {
		case "(":
			depth++
		case ")":
			depth--
		}
		if depth == 0 && t.Kind == tIdent {
			if strings.EqualFold(t.Text, "to") && toIdx < 0 {
				toIdx = k
			} else if strings.EqualFold(t.Text, "step") {
				stepIdx = k
			}
		}
	}
	if toIdx < 0 {
		return nil, end + 1, &SyntaxError{Line: ln.toks[0].Line, Col: ln.toks[0].Col, Msg: "For without To"}
	}
	fromLP := &lineParser{toks: ln.toks[3:toIdx], src: m.Source}
	from, ferr := fromLP.parseExpr(0)
	if ferr != nil {
		return nil, end + 1, fromLP.errAt(ferr.Error())
	}
	hiTok := len(ln.toks)
	if stepIdx > 0 {
		hiTok = stepIdx
	}
	toLP := &lineParser{toks: ln.toks[toIdx+1 : hiTok], src: m.Source}
	to, terr := toLP.parseExpr(0)
	if terr != nil {
		return nil, end + 1, toLP.errAt(terr.Error())
	}
	var step Expr
	if stepIdx > 0 {
		sLP := &lineParser{toks: ln.toks[stepIdx+1:], src: m.Source}
		s, serr := sLP.parseExpr(0)
		if serr != nil {
			return nil, end + 1, sLP.errAt(serr.Error())
		}
		step = s
	}
	st := &ForStmt{Var: varName, From: from, To: to, Step: step, Body: m.newBlock(i+1, end)}
	m.stampRange(&st.node, ln, m.lines[end])
	return st, end + 1, nil
}

func (m *Module) parseDo(i, hi int) (Stmt, int, error) {
	ln := m.lines[i]
	end, err := m.findCloser(i, hi, "do")
	if err != nil {
		return nil, hi, err
	}
	st := &DoLoopStmt{Body: m.newBlock(i+1, end)}

	parseCond := func(toks []Token) (Expr, bool, error) {
		if len(toks) == 0 {
			return nil, false, nil
		}
		until := strings.EqualFold(toks[0].Text, "until")
		if !until && !strings.EqualFold(toks[0].Text, "while") {
			return nil, false, &SyntaxError{Line: toks[0].Line, Col: toks[0].Col, Msg: "expected While or Until"}
		}
		lp := &lineParser{toks: toks[1:], src: m.Source}
		c, cerr := lp.parseExpr(0)
		if cerr != nil {
			return nil, false, lp.errAt(cerr.Error())
		}
		return c, until, nil
	}

	if len(ln.toks) > 1 { // Do While/Until ...
		c, until, cerr := parseCond(ln.toks[1:])
		if cerr != nil {
			return nil, end + 1, cerr
		}
		st.PreTest, st.Cond, st.Until = true, c, until
	} else if tail := m.lines[end]; len(tail.toks) > 1 { // Loop While/Until ...
		c, until, cerr := parseCond(tail.toks[1:])
		if cerr != nil {
			return nil, end + 1, cerr
		}
		st.PreTest, st.Cond, st.Until = false, c, until
	}
	m.stampRange(&st.node, ln, m.lines[end])
	return st, end + 1, nil
}

func (m *Module) parseWhile(i, hi int) (Stmt, int, error) {
	ln := m.lines[i]
	end, err := m.findCloser(i, hi, "while")
	if err != nil {
		return nil, hi, err
	}
	lp := &lineParser{toks: ln.toks[1:], src: m.Source}
	cond, cerr := lp.parseExpr(0)
	if cerr != nil {
		return nil, end + 1, lp.errAt(cerr.Error())
	}
	st := &DoLoopStmt{PreTest: true, Cond: cond, Body: m.newBlock(i+1, end)}
	m.stampRange(&st.node, ln, m.lines[end])
	return st, end + 1, nil
}

// ParseExpression parses a standalone expression (shell and test support).
func ParseExpression(src string) (Expr, error) {
	lines := splitLines(lexSource(src))
	if len(lines) == 0 {
		return nil, &SyntaxError{Line: 1, Col: 1, Msg: "empty expression"}
	}
	lp := &lineParser{toks: lines[0].toks, src: src}
	e, err := lp.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !lp.done() {
		return nil, lp.errAt("trailing tokens after expression")
	}
	return e, nil
}

/* ===========================
   Expression parsing
   =========================== */

type lineParser struct {
	toks []Token
	src  string // full module source; token offsets index into it
	pos  int
}

func (p *lineParser) done() bool { return p.pos >= len(p.toks) }

// slice renders the verbatim source between byte offsets, spacing and all.
func (p *lineParser) slice(start, end int) string {
	return sliceSrc(p.src, start, end)
}

func (p *lineParser) peekText() string {
	if p.done() {
		return ""
	}
	return p.toks[p.pos].Text
}

func (p *lineParser) peek() *Token {
	if p.done() {
		return nil
	}
	return &p.toks[p.pos]
}

func (p *lineParser) next() Token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *lineParser) eat(text string) bool {
	if !p.done() && strings.EqualFold(p.toks[p.pos].Text, text) {
		p.pos++
		return true
	}
	return false
}

func (p *lineParser) errAt(msg string) *SyntaxError {
	line, col := 1, 1
	if len(p.toks) > 0 {
		i := p.pos
		if i >= len(p.toks) {
			i = len(p.toks) - 1
		}
		line, col = p.toks[i].Line, p.toks[i].Col
	}
	return &SyntaxError{Line: line, Col: col, Msg: msg}
}

// operator binding powers; higher binds tighter
var binaryBP = map[string]int{
	"imp": 1, "eqv": 2, "xor": 3, "or": 4, "and": 5,
	"=": 7, "<>": 7, "<": 7, ">": 7, "<=": 7, ">=": 7, "like": 7, "is": 7,
	"&": 8,
	"+": 9, "-": 9,
	"mod": 10,
	"\\":  11,
	"*":   12, "/": 12,
	"^": 14,
}

func binOpOf(t *Token) (string, int, bool) {
	if t == nil {
		return "", 0, false
	}
	key := strings.ToLower(t.Text)
	if t.Kind == tOp || t.Kind == tIdent {
		if bp, ok := binaryBP[key]; ok {
			return key, bp, true
		}
	}
	return "", 0, false
}

func (p *lineParser) parseExpr(minBP int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, bp, ok := binOpOf(p.peek())
		if !ok || bp < minBP {
			return lhs, nil
		}
		p.next()
		rhs, rerr := p.parseExpr(bp + 1) // all VBA binary ops are left-assoc
		if rerr != nil {
			return nil, rerr
		}
		be := &BinExpr{Op: op, L: lhs, R: rhs}
		line, col := lhs.Pos()
		be.set(Span{Start: lhs.Span().Start, End: rhs.Span().End},
			p.slice(lhs.Span().Start, rhs.Span().End), line, col)
		lhs = be
	}
}

func (p *lineParser) parseUnary() (Expr, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	key := strings.ToLower(t.Text)
	if key == "not" || (t.Kind == tOp && (key == "-" || key == "+")) {
		start := p.next()
		// unary minus binds tighter than * but looser than ^
		x, err := p.parseExpr(13)
		if err != nil {
			return nil, err
		}
		if key == "+" {
			return x, nil
		}
		u := &UnaryExpr{Op: key, X: x}
		u.set(Span{Start: start.Pos, End: x.Span().End},
			p.slice(start.Pos, x.Span().End), start.Line, start.Col)
		return u, nil
	}
	return p.parsePostfix()
}

func (p *lineParser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peekText() {
		case "(":
			p.next()
			var args []Expr
			for p.peekText() != ")" && !p.done() {
				a, aerr := p.parseExpr(0)
				if aerr != nil {
					return nil, aerr
				}
				args = append(args, a)
				if !p.eat(",") {
					break
				}
			}
			if p.done() || p.peekText() != ")" {
				return nil, fmt.Errorf("missing ')'")
			}
			endByte := p.next().End
			c := &CallExpr{Callee: e, Args: args}
			line, col := e.Pos()
			c.set(Span{Start: e.Span().Start, End: endByte},
				p.slice(e.Span().Start, endByte), line, col)
			e = c
		case ".":
			p.next()
			if p.done() || p.toks[p.pos].Kind != tIdent {
				return nil, fmt.Errorf("expected member name after '.'")
			}
			name := p.next()
			mx := &MemberExpr{Target: e, Name: name.Text}
			line, col := e.Pos()
			mx.set(Span{Start: e.Span().Start, End: name.End},
				p.slice(e.Span().Start, name.End), line, col)
			e = mx
		default:
			return e, nil
		}
	}
}

func (p *lineParser) parsePrimary() (Expr, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.Kind {
	case tInt:
		tok := p.next()
		n, _ := strconv.ParseInt(tok.Text, 10, 64)
		e := &LitExpr{Val: Int(n)}
		e.set(Span{Start: tok.Pos, End: tok.End}, p.slice(tok.Pos, tok.End), tok.Line, tok.Col)
		return e, nil
	case tNum:
		tok := p.next()
		f, _ := strconv.ParseFloat(tok.Text, 64)
		e := &LitExpr{Val: Num(f)}
		e.set(Span{Start: tok.Pos, End: tok.End}, p.slice(tok.Pos, tok.End), tok.Line, tok.Col)
		return e, nil
	case tString:
		// Text comes from the source slice, keeping quotes and any doubled
		// "" escapes exactly as written; Val carries the decoded string
		tok := p.next()
		e := &LitExpr{Val: Str(tok.Text)}
		e.set(Span{Start: tok.Pos, End: tok.End}, p.slice(tok.Pos, tok.End), tok.Line, tok.Col)
		return e, nil
	case tIdent:
		switch strings.ToLower(t.Text) {
		case "true", "false":
			tok := p.next()
			e := &LitExpr{Val: Bool(strings.EqualFold(tok.Text, "true"))}
			e.set(Span{Start: tok.Pos, End: tok.End}, tok.Text, tok.Line, tok.Col)
			return e, nil
		case "empty", "nothing":
			tok := p.next()
			e := &LitExpr{Val: Empty}
			e.set(Span{Start: tok.Pos, End: tok.End}, tok.Text, tok.Line, tok.Col)
			return e, nil
		case "null":
			tok := p.next()
			e := &LitExpr{Val: NullVal}
			e.set(Span{Start: tok.Pos, End: tok.End}, tok.Text, tok.Line, tok.Col)
			return e, nil
		case "new":
			tok := p.next()
			var parts []string
			endByte := tok.End
			for !p.done() && p.toks[p.pos].Kind == tIdent {
				nt := p.next()
				parts = append(parts, nt.Text)
				endByte = nt.End
				if !p.eat(".") {
					break
				}
			}
			if len(parts) == 0 {
				return nil, fmt.Errorf("expected class name after New")
			}
			e := &NewExpr{Class: strings.Join(parts, ".")}
			e.set(Span{Start: tok.Pos, End: endByte}, p.slice(tok.Pos, endByte), tok.Line, tok.Col)
			return e, nil
		default:
			tok := p.next()
			e := &IdentExpr{Name: tok.Text}
			e.set(Span{Start: tok.Pos, End: tok.End}, tok.Text, tok.Line, tok.Col)
			return e, nil
		}
	case tOp:
		if t.Text == "(" {
			open := p.next()
			x, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if p.done() || p.peekText() != ")" {
				return nil, fmt.Errorf("missing ')'")
			}
			closeTok := p.next()
			e := &ParenExpr{X: x}
			e.set(Span{Start: open.Pos, End: closeTok.End},
				p.slice(open.Pos, closeTok.End), open.Line, open.Col)
			return e, nil
		}
	}
	return nil, fmt.Errorf("unexpected token '%s'", t.Text)
}
