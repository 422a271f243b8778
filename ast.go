// ast.go — the program model.
//
// Modules, procedures, statements, and expressions form two closed
// tagged-variant families (Stmt, Expr). Dispatch everywhere is an exhaustive
// type switch: adding a construct means adding a variant here and a case in
// the evaluator, checked at compile time.
//
// Two properties the rest of the system leans on:
//
//   - Verbatim text. Every node records the byte span of its original
//     source and Text() returns that slice untouched. Reports must show
//     analysts the macro as written, never a normalized rendering.
//   - Lazy bodies. Procedure bodies and compound-statement bodies are
//     stored as ranges of unparsed logical lines plus a memoized parse
//     result, populated on first traversal or evaluation. Macro droppers
//     routinely carry hundreds of decoy procedures; parsing them eagerly
//     is wasted work and a recovery hazard.
//
// Nodes are not safe for concurrent mutation; analyses running in parallel
// each parse (or Clone) their own Module.
package vmacro

import "strings"

// Span is a half-open byte range into the module source.
type Span struct{ Start, End int }

// Node is implemented by every AST element.
type Node interface {
	Span() Span
	Text() string // verbatim source slice
	Children() []Node
	Pos() (line, col int)
}

type node struct {
	span      Span
	src       string // verbatim slice of the original source
	line, col int
}

func (n *node) Span() Span       { return n.span }
func (n *node) Text() string     { return n.src }
func (n *node) Pos() (int, int)  { return n.line, n.col }
func (n *node) Children() []Node { return nil }
func (n *node) set(sp Span, src string, line, col int) {
	n.span, n.src, n.line, n.col = sp, src, line, col
}

/* ===========================
   Module & procedures
   =========================== */

// ProcKind distinguishes Sub from Function.
type ProcKind int

const (
	SubProc ProcKind = iota
	FunctionProc
)

// Param is one declared parameter. VBA parameters are by-reference unless
// declared ByVal; Optional parameters may carry a literal default.
type Param struct {
	Name     string
	ByRef    bool
	Optional bool
	Default  Expr // nil unless Optional with a default
}

// Procedure is a Sub or Function. The body is an unparsed range of logical
// lines; Body() parses on first use and memoizes the result.
type Procedure struct {
	node
	Name    string
	Kind    ProcKind
	Params  []Param
	DeclSeq int // declaration order within the module

	mod        *Module
	bodyLo     int // logical-line range, exclusive of header/footer
	bodyHi     int
	memo       []Stmt
	bodyParsed bool
}

// Body returns the parsed statements, parsing and memoizing on first call.
// Statement-level syntax failures are recovered: the offending statement is
// skipped and recorded on the module's diagnostics.
func (p *Procedure) Body() []Stmt {
	if !p.bodyParsed {
		p.memo = p.mod.parseRange(p.bodyLo, p.bodyHi)
		p.bodyParsed = true
	}
	return p.memo
}

// BodyParsed reports whether the body has been demanded yet.
func (p *Procedure) BodyParsed() bool { return p.bodyParsed }

func (p *Procedure) Children() []Node {
	out := make([]Node, 0, len(p.memo))
	for _, s := range p.Body() {
		out = append(out, s)
	}
	return out
}

// Module is one parsed macro stream: attributes, procedures, and loose
// top-level statements. It owns the source text and the logical-line table
// the lazy parser reads from.
type Module struct {
	Name       string
	Source     string
	Attributes map[string]string
	Procs      []*Procedure
	Loose      *Block // loose top-level statements (may be empty)

	// ParseDiags accumulates recoverable syntax diagnostics, including ones
	// discovered later by lazy body parses.
	ParseDiags []*SyntaxError

	procIndex map[string]*Procedure // lowercased name
	lines     []logicalLine
}

// Procedure resolves a name case-insensitively.
func (m *Module) Procedure(name string) (*Procedure, bool) {
	p, ok := m.procIndex[strings.ToLower(name)]
	return p, ok
}

// Clone produces a module whose lazy state is independent of the receiver,
// for use by a concurrently processed stream. Parsed results are dropped;
// each clone re-parses on demand.
func (m *Module) Clone() *Module {
	cp := &Module{
		Name:       m.Name,
		Source:     m.Source,
		Attributes: m.Attributes,
		procIndex:  make(map[string]*Procedure, len(m.procIndex)),
		lines:      m.lines,
	}
	for _, p := range m.Procs {
		q := &Procedure{
			node:    p.node,
			Name:    p.Name,
			Kind:    p.Kind,
			Params:  p.Params,
			DeclSeq: p.DeclSeq,
			mod:     cp,
			bodyLo:  p.bodyLo,
			bodyHi:  p.bodyHi,
		}
		cp.Procs = append(cp.Procs, q)
		cp.procIndex[strings.ToLower(q.Name)] = q
	}
	if m.Loose != nil {
		cp.Loose = &Block{node: m.Loose.node, mod: cp, lo: m.Loose.lo, hi: m.Loose.hi}
	}
	return cp
}

/* ===========================
   Statements (closed set)
   =========================== */

// Stmt is the closed statement family.
type Stmt interface {
	Node
	stmtNode()
}

// Block is a compound-statement body: an unparsed logical-line range with a
// memoized parse, same discipline as Procedure bodies.
type Block struct {
	node
	mod    *Module
	lo, hi int
	memo   []Stmt
	parsed bool
}

func (b *Block) Stmts() []Stmt {
	if !b.parsed {
		b.memo = b.mod.parseRange(b.lo, b.hi)
		b.parsed = true
	}
	return b.memo
}

func (b *Block) Children() []Node {
	out := make([]Node, 0, len(b.memo))
	for _, s := range b.Stmts() {
		out = append(out, s)
	}
	return out
}

// DimStmt declares variables. Static marks bindings that persist across
// calls within one Context.
type DimStmt struct {
	node
	Names  []string
	Static bool
}

// AssignStmt is `target = value` (with optional Let/Set keyword).
type AssignStmt struct {
	node
	Target Expr // IdentExpr, MemberExpr, or CallExpr (index form)
	Value  Expr
	Set    bool
}

// IfArm is one condition/body pair of an IfStmt.
type IfArm struct {
	Cond Expr
	Body *Block
}

// IfStmt covers block If / ElseIf / Else and the single-line form.
type IfStmt struct {
	node
	Arms []IfArm
	Else *Block // nil when absent
}

// CaseClause is one Case arm of a SelectStmt. Empty Matches means Case Else.
type CaseClause struct {
	Matches []Expr
	Body    *Block
}

// SelectStmt is Select Case.
type SelectStmt struct {
	node
	Subject Expr
	Cases   []CaseClause
}

// ForStmt is a counted loop. Step may be nil (defaults to 1).
type ForStmt struct {
	node
	Var  string
	From Expr
	To   Expr
	Step Expr
	Body *Block
}

// ForEachStmt iterates a collection value.
type ForEachStmt struct {
	node
	Var        string
	Collection Expr
	Body       *Block
}

// DoLoopStmt covers Do While/Until ... Loop and Do ... Loop While/Until.
// Cond == nil is an unconditional Do ... Loop (bounded only by the loop
// limit). While/Wend parses to PreTest + Until=false.
type DoLoopStmt struct {
	node
	PreTest bool
	Until   bool
	Cond    Expr
	Body    *Block
}

// CallStmt is a procedure call in statement position, covering both
// `Call f(x)` and the bare `f x, y` form.
type CallStmt struct {
	node
	Call *CallExpr
}

// OnErrorStmt toggles error-resume for the current procedure invocation.
// Resume=true is `On Error Resume Next`; false is `On Error GoTo 0`.
type OnErrorStmt struct {
	node
	Resume bool
}

// ExitKind says what an ExitStmt exits.
type ExitKind int

const (
	ExitSub ExitKind = iota
	ExitFunction
	ExitFor
	ExitDo
)

// ExitStmt is Exit Sub/Function/For/Do.
type ExitStmt struct {
	node
	Kind ExitKind
}

// OpenStmt is `Open path For mode As #n`.
type OpenStmt struct {
	node
	Path    Expr
	Mode    string // "output", "append", "binary", ...
	FileNum Expr
}

// FilePutStmt is `Print #n, args` or `Write #n, args`.
type FilePutStmt struct {
	node
	FileNum Expr
	Args    []Expr
	Quoted  bool // Write form quotes strings and comma-separates
}

// CloseStmt is `Close [#n, ...]`; empty FileNums closes every open channel.
type CloseStmt struct {
	node
	FileNums []Expr
}

func (*Block) stmtNode()       {}
func (*DimStmt) stmtNode()     {}
func (*AssignStmt) stmtNode()  {}
func (*IfStmt) stmtNode()      {}
func (*SelectStmt) stmtNode()  {}
func (*ForStmt) stmtNode()     {}
func (*ForEachStmt) stmtNode() {}
func (*DoLoopStmt) stmtNode()  {}
func (*CallStmt) stmtNode()    {}
func (*OnErrorStmt) stmtNode() {}
func (*ExitStmt) stmtNode()    {}
func (*OpenStmt) stmtNode()    {}
func (*FilePutStmt) stmtNode() {}
func (*CloseStmt) stmtNode()   {}

func (s *AssignStmt) Children() []Node { return []Node{s.Target, s.Value} }
func (s *CallStmt) Children() []Node   { return []Node{s.Call} }
func (s *IfStmt) Children() []Node {
	var out []Node
	for _, a := range s.Arms {
		out = append(out, a.Cond, a.Body)
	}
	if s.Else != nil {
		out = append(out, s.Else)
	}
	return out
}
func (s *SelectStmt) Children() []Node {
	out := []Node{s.Subject}
	for _, c := range s.Cases {
		for _, m := range c.Matches {
			out = append(out, m)
		}
		out = append(out, c.Body)
	}
	return out
}
func (s *ForStmt) Children() []Node {
	out := []Node{s.From, s.To}
	if s.Step != nil {
		out = append(out, s.Step)
	}
	return append(out, s.Body)
}
func (s *ForEachStmt) Children() []Node { return []Node{s.Collection, s.Body} }
func (s *DoLoopStmt) Children() []Node {
	if s.Cond == nil {
		return []Node{s.Body}
	}
	return []Node{s.Cond, s.Body}
}
func (s *OpenStmt) Children() []Node { return []Node{s.Path, s.FileNum} }
func (s *FilePutStmt) Children() []Node {
	out := []Node{s.FileNum}
	for _, a := range s.Args {
		out = append(out, a)
	}
	return out
}
func (s *CloseStmt) Children() []Node {
	var out []Node
	for _, f := range s.FileNums {
		out = append(out, f)
	}
	return out
}

/* ===========================
   Expressions (closed set)
   =========================== */

// Expr is the closed expression family.
type Expr interface {
	Node
	exprNode()
}

// LitExpr is a literal constant.
type LitExpr struct {
	node
	Val Value
}

// IdentExpr is a bare identifier reference.
type IdentExpr struct {
	node
	Name string
}

// CallExpr is `callee(args)`. VBA does not distinguish calls from array
// indexing syntactically; the evaluator resolves which one applies.
type CallExpr struct {
	node
	Callee Expr
	Args   []Expr
}

// MemberExpr is `target.Name`.
type MemberExpr struct {
	node
	Target Expr
	Name   string
}

// BinExpr is a binary operation. Op is the lowercase operator spelling
// ("&", "+", "xor", "mod", "=", "<>", ...).
type BinExpr struct {
	node
	Op   string
	L, R Expr
}

// UnaryExpr is unary minus or Not.
type UnaryExpr struct {
	node
	Op string
	X  Expr
}

// ParenExpr preserves explicit grouping (and its verbatim text).
type ParenExpr struct {
	node
	X Expr
}

// NewExpr is `New ClassName`.
type NewExpr struct {
	node
	Class string
}

func (*LitExpr) exprNode()    {}
func (*IdentExpr) exprNode()  {}
func (*CallExpr) exprNode()   {}
func (*MemberExpr) exprNode() {}
func (*BinExpr) exprNode()    {}
func (*UnaryExpr) exprNode()  {}
func (*ParenExpr) exprNode()  {}
func (*NewExpr) exprNode()    {}

func (e *CallExpr) Children() []Node {
	out := []Node{e.Callee}
	for _, a := range e.Args {
		out = append(out, a)
	}
	return out
}
func (e *MemberExpr) Children() []Node { return []Node{e.Target} }
func (e *BinExpr) Children() []Node    { return []Node{e.L, e.R} }
func (e *UnaryExpr) Children() []Node  { return []Node{e.X} }
func (e *ParenExpr) Children() []Node  { return []Node{e.X} }

// Walk visits n and every descendant in depth-first order. Visiting forces
// lazy bodies, matching the "first traversal parses" contract.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, visit)
	}
}
