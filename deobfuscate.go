// deobfuscate.go — static constant folding over macro source.
//
// Two entry points:
//
//   - FoldExpr reduces a pure constant expression tree to its value:
//     literals, Chr/Asc-style pure builtins over literals, and the
//     arithmetic/concat/Xor operators obfuscators favor. Anything touching
//     a variable, an object, or an impure builtin refuses to fold.
//
//   - DeobfuscateText rewrites source text, replacing foldable expression
//     spans with their literal results. `"w" & Chr(111) & "rl"` becomes
//     `"worl"`. Same-operator chains fold partially: literal runs collapse
//     even when a variable sits between them. The output is again valid
//     macro source, so it can feed straight back into ParseModule — or be
//     shown to an analyst.
//
// Folding is conservative: a result that would inject a newline or other
// statement-structure character into the source is left unfolded.
package vmacro

import (
	"sort"
	"strconv"
	"strings"
)

// foldCtx backs pure builtin evaluation during folding. The fold whitelist
// only admits builtins that never touch context state.
var foldCtx = NewContext()

// FoldExpr evaluates e if it is a pure constant expression.
func FoldExpr(e Expr) (Value, bool) {
	switch x := e.(type) {
	case *LitExpr:
		return x.Val, true

	case *ParenExpr:
		return FoldExpr(x.X)

	case *IdentExpr:
		v, ok := namedConstants[strings.ToLower(x.Name)]
		return v, ok

	case *UnaryExpr:
		v, ok := FoldExpr(x.X)
		if !ok {
			return Empty, false
		}
		if x.Op == "not" {
			if v.Tag == VTBool {
				return Bool(!v.Data.(bool)), true
			}
			if n, okN := asInt(v); okN {
				return Int(^n), true
			}
			return Empty, false
		}
		if v.Tag == VTInt {
			return Int(-v.Data.(int64)), true
		}
		if f, okN := asNumber(v); okN {
			return Num(-f), true
		}
		return Empty, false

	case *BinExpr:
		lv, okL := FoldExpr(x.L)
		rv, okR := FoldExpr(x.R)
		if !okL || !okR {
			return Empty, false
		}
		return foldBinOp(x.Op, lv, rv)

	case *CallExpr:
		ident, ok := x.Callee.(*IdentExpr)
		if !ok {
			return Empty, false
		}
		name := strings.ToLower(strings.TrimSuffix(ident.Name, "$"))
		if !accelSafeBuiltins[name] {
			return Empty, false
		}
		fn, ok := lookupBuiltin(name)
		if !ok {
			return Empty, false
		}
		args := make([]Value, len(x.Args))
		for i, a := range x.Args {
			v, okA := FoldExpr(a)
			if !okA {
				return Empty, false
			}
			args[i] = v
		}
		v, err := fn(foldCtx, args)
		if err != nil {
			return Empty, false
		}
		return v, true
	}
	return Empty, false
}

func foldBinOp(op string, a, b Value) (Value, bool) {
	oc, ok := accelBinOps[op]
	if !ok {
		return Empty, false
	}
	v, err := applyBinOp(oc, a, b)
	if err != nil {
		return Empty, false
	}
	return v, true
}

/* ===========================
   Text-level pre-pass
   =========================== */

type replacement struct {
	start, end int
	text       string
}

// DeobfuscateText folds constant expressions in src and returns the
// rewritten source. Unfoldable regions pass through byte-identical.
func DeobfuscateText(src string) string {
	lines := splitLines(lexSource(src))
	var repls []replacement

	for _, ln := range lines {
		i := 0
		for i < len(ln.toks) {
			lp := &lineParser{toks: ln.toks[i:], src: src}
			e, err := lp.parseExpr(0)
			if err != nil || lp.pos <= 1 {
				i++
				continue
			}
			collectFolds(e, &repls)
			i += lp.pos
		}
	}
	if len(repls) == 0 {
		return src
	}

	sort.Slice(repls, func(a, b int) bool { return repls[a].start < repls[b].start })
	var sb strings.Builder
	pos := 0
	for _, r := range repls {
		if r.start < pos {
			continue // overlap from a nested fold already applied
		}
		sb.WriteString(src[pos:r.start])
		sb.WriteString(r.text)
		pos = r.end
	}
	sb.WriteString(src[pos:])
	return sb.String()
}

// collectFolds gathers literal rewrites inside e, largest spans first.
func collectFolds(e Expr, out *[]replacement) {
	if _, isLit := e.(*LitExpr); isLit {
		return
	}
	if v, ok := FoldExpr(e); ok {
		if text, renderable := renderLiteral(v); renderable {
			*out = append(*out, replacement{start: e.Span().Start, end: e.Span().End, text: text})
		}
		return
	}

	// partial folding inside a same-operator chain: collapse literal runs
	if bin, isBin := e.(*BinExpr); isBin && (bin.Op == "&" || bin.Op == "+" || bin.Op == "xor") {
		ops := flattenChain(bin, bin.Op)
		if foldChainRuns(ops, bin.Op, out) {
			return
		}
	}

	for _, c := range e.Children() {
		if ce, isExpr := c.(Expr); isExpr {
			collectFolds(ce, out)
		}
	}
}

// flattenChain linearizes a left-associated same-op chain into operands.
func flattenChain(e Expr, op string) []Expr {
	if bin, ok := e.(*BinExpr); ok && bin.Op == op {
		return append(flattenChain(bin.L, op), flattenChain(bin.R, op)...)
	}
	return []Expr{e}
}

// foldChainRuns replaces runs of two or more consecutive foldable operands
// with a single literal. Reports whether it handled the chain.
func foldChainRuns(ops []Expr, op string, out *[]replacement) bool {
	handled := false
	i := 0
	for i < len(ops) {
		v, ok := FoldExpr(ops[i])
		if !ok {
			collectFolds(ops[i], out)
			i++
			continue
		}
		j := i + 1
		acc := v
		for j < len(ops) {
			nv, okN := FoldExpr(ops[j])
			if !okN {
				break
			}
			folded, okF := foldBinOp(op, acc, nv)
			if !okF {
				break
			}
			acc = folded
			j++
		}
		if j-i >= 2 {
			if text, renderable := renderLiteral(acc); renderable {
				*out = append(*out, replacement{
					start: ops[i].Span().Start,
					end:   ops[j-1].Span().End,
					text:  text,
				})
				handled = true
			}
		}
		i = j
	}
	return handled
}

// renderLiteral turns a folded value back into source text. Values whose
// rendering would disturb line structure are refused.
func renderLiteral(v Value) (string, bool) {
	switch v.Tag {
	case VTStr:
		s := v.Data.(string)
		if strings.ContainsAny(s, "\r\n") {
			return "", false
		}
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, true
	case VTInt:
		return strconv.FormatInt(v.Data.(int64), 10), true
	case VTNum:
		return strconv.FormatFloat(v.Data.(float64), 'g', -1, 64), true
	case VTBool:
		if v.Data.(bool) {
			return "True", true
		}
		return "False", true
	}
	return "", false
}
