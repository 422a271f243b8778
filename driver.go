// driver.go — entry-point selection and run orchestration.
//
// A macro module does not say "start here"; the host fires events. The
// driver reproduces that: it finds the auto-run event handlers the host
// would invoke (AutoOpen, Document_Open, Workbook_Open, the *_Click /
// *_Change form callbacks, ...) and executes them in declaration order over
// one shared Context, then closes any file the macro left open so partial
// writes still surface.
//
// AnalyzeStreams handles multi-stream documents: each VBA stream parses and
// runs independently (own Context, own module) while sharing one Recorder,
// so the action trail keeps a single global order.
package vmacro

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// autoRunNames are the host event handlers that fire without user
// interaction, lowercased. Order here is irrelevant; execution follows
// declaration order.
var autoRunNames = map[string]bool{
	"autoopen":             true,
	"autoexec":             true,
	"autoclose":            true,
	"autoexit":             true,
	"auto_open":            true,
	"auto_close":           true,
	"document_open":        true,
	"document_close":       true,
	"document_beforeclose": true,
	"documentopen":         true,
	"app_documentopen":     true,
	"workbook_open":        true,
	"workbook_activate":    true,
	"workbook_close":       true,
	"workbook_deactivate":  true,
	"main":                 true,
}

// callbackSuffixes mark form-control handlers that droppers wire to
// controls the user is tricked into touching. They run after the auto-run
// handlers.
var callbackSuffixes = []string{
	"_change", "_click", "_gotfocus", "_lostfocus",
	"_mousehover", "_layout", "_resize", "_activate",
}

// Options configure one analysis run.
type Options struct {
	// EntryPoints, when non-empty, bypasses auto-run detection. Names are
	// matched case-insensitively; an unresolvable name is a ConfigError.
	EntryPoints []string

	// Bounds override DefaultBounds when non-zero.
	Bounds Bounds

	// DocName seeds ActiveDocument.Name and artifact naming.
	DocName string

	// Deobfuscate runs the constant-folding text pre-pass before parsing.
	Deobfuscate bool

	// Accelerate turns on the bytecode fast path for eligible For loops.
	// Results and the action log are identical either way.
	Accelerate bool

	// ReportIntermediateIOCs records decoded strings of interest (shell
	// command lines, URLs, message-box text) in the report's payload list.
	ReportIntermediateIOCs bool

	// Overrides are installed on the Context before execution; they shadow
	// builtins and user procedures.
	Overrides map[string]BuiltinFunc

	// Env entries are merged over the default synthetic environment.
	Env map[string]string

	// Observe receives each action synchronously as it is recorded.
	Observe func(Action)
}

func (o Options) newContext() *Context {
	ctx := NewContext()
	ctx.Recorder = NewRecorder(o.Observe)
	if o.Bounds.MaxLoopIterations > 0 {
		ctx.Bounds.MaxLoopIterations = o.Bounds.MaxLoopIterations
	}
	if o.Bounds.MaxRecursionDepth > 0 {
		ctx.Bounds.MaxRecursionDepth = o.Bounds.MaxRecursionDepth
	}
	ctx.DocName = o.DocName
	ctx.CollectPayloads = o.ReportIntermediateIOCs
	for k, v := range o.Env {
		ctx.Env[k] = v
	}
	for name, fn := range o.Overrides {
		ctx.Override(name, fn)
	}
	return ctx
}

// FindEntryPoints returns the procedures the host would fire, in
// declaration order: auto-run handlers first, then form callbacks.
func FindEntryPoints(m *Module) []*Procedure {
	var auto, callbacks []*Procedure
	for _, p := range m.Procs {
		name := strings.ToLower(p.Name)
		if autoRunNames[name] {
			auto = append(auto, p)
			continue
		}
		for _, suffix := range callbackSuffixes {
			if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
				callbacks = append(callbacks, p)
				break
			}
		}
	}
	byDecl := func(ps []*Procedure) {
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].DeclSeq < ps[j].DeclSeq })
	}
	byDecl(auto)
	byDecl(callbacks)
	return append(auto, callbacks...)
}

// resolveEntryPoints maps explicit names to procedures, erroring on the
// first name that does not exist.
func resolveEntryPoints(m *Module, names []string) ([]*Procedure, error) {
	var out []*Procedure
	for _, name := range names {
		p, ok := m.Procedure(name)
		if !ok {
			return nil, &ConfigError{Msg: "entry point not found: " + name}
		}
		out = append(out, p)
	}
	return out, nil
}

// Run analyzes a single macro source and produces a Report. The returned
// error is non-nil only for fatal failures (unusable module, bad explicit
// entry point); the report is returned in both cases when one exists.
func Run(source string, opts Options) (*Report, error) {
	rep, _, err := RunWithContext(source, opts)
	return rep, err
}

// RunWithContext is Run exposing the finished Context, for callers that
// need the raw dropped-file buffers (artifact materialization).
func RunWithContext(source string, opts Options) (*Report, *Context, error) {
	ctx := opts.newContext()
	rep, err := runStream(ctx, "macro", source, opts)
	if rep != nil {
		rep.finishFrom(ctx, opts.DocName)
	}
	return rep, ctx, err
}

// runStream parses and executes one source against ctx. The returned
// Report is partially filled; the caller finalizes it.
func runStream(ctx *Context, streamName, source string, opts Options) (*Report, error) {
	rep := &Report{Status: StatusCompleted}

	if opts.Deobfuscate {
		source = DeobfuscateText(source)
	}

	mod, err := ParseModule(streamName, source)
	if err != nil {
		ctx.DiagErr("parse", err)
		rep.Status = StatusFailed
		return rep, err
	}

	ev := NewEvaluator(ctx, mod)
	ev.Accel = opts.Accelerate

	// loose statements run first; the host executes module-level code on
	// load, before any event fires
	if lerr := ev.RunLoose(); lerr != nil {
		ctx.DiagErr("eval", lerr)
	}

	var entries []*Procedure
	if len(opts.EntryPoints) > 0 {
		entries, err = resolveEntryPoints(mod, opts.EntryPoints)
		if err != nil {
			rep.Status = StatusFailed
			return rep, err
		}
	} else {
		entries = FindEntryPoints(mod)
	}
	if len(entries) == 0 && mod.Loose == nil {
		ctx.Diag("driver", 0, "no entry point found; nothing executed")
	}

	for _, p := range entries {
		if _, cerr := ev.CallProcedure(p.Name, nil); cerr != nil {
			// an entry point dying never stops the remaining ones
			ctx.DiagErr("eval", cerr)
		}
	}

	// flush parse diagnostics discovered by lazy body parses
	for _, d := range mod.ParseDiags {
		ctx.Diag("parse", d.Line, d.Msg)
	}

	ctx.CloseAll()
	return rep, nil
}

// AnalyzeStreams runs every stream of a multi-stream document in parallel.
// Streams share one Recorder (global action order) but nothing else. The
// merged report carries every stream's files, payloads, and diagnostics.
func AnalyzeStreams(gctx context.Context, sources map[string]string, opts Options) (*Report, error) {
	recorder := NewRecorder(opts.Observe)

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	ctxs := make([]*Context, len(names))
	failures := make([]error, len(names))

	g, gc := errgroup.WithContext(gctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gc.Err(); err != nil {
				return err
			}
			sctx := opts.newContext()
			sctx.Recorder = recorder
			ctxs[i] = sctx
			_, err := runStream(sctx, name, sources[name], opts)
			failures[i] = err
			return nil // per-stream failures degrade the report, not the run
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{Status: StatusCompleted}
	rep.Actions = recorder.GroupByCategory()
	rep.ActionCount = recorder.Len()
	failed := 0
	for i, sctx := range ctxs {
		if sctx == nil {
			continue
		}
		rep.absorbContext(sctx, names[i])
		if failures[i] != nil {
			failed++
		}
	}
	rep.Document = opts.DocName
	switch {
	case failed == len(names) && len(names) > 0:
		rep.Status = StatusFailed
	case failed > 0 || len(rep.Diagnostics) > 0:
		rep.Status = StatusPartial
	}
	return rep, nil
}
