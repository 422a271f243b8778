// context.go — mutable emulation state shared by every procedure invocation.
//
// A Context carries the variable scopes, the simulated file table, builtin
// overrides, execution bounds, and the diagnostics trail for one analysis
// run. Nothing here touches the real filesystem or network; "files" are
// in-memory buffers that become report artifacts, and observable effects go
// through the Recorder.
package vmacro

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minio/highwayhash"
)

// BuiltinFunc is the signature shared by builtins and overrides.
type BuiltinFunc func(ctx *Context, args []Value) (Value, error)

// Diagnostic is one non-fatal problem encountered during a run.
type Diagnostic struct {
	Stage string `yaml:"stage"` // "parse", "eval", "accel", "driver"
	Line  int    `yaml:"line,omitempty"`
	Msg   string `yaml:"msg"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s", d.Stage, d.Line, d.Msg)
	}
	return fmt.Sprintf("[%s] %s", d.Stage, d.Msg)
}

// Bounds are the fail-soft execution limits. A bound hit aborts the
// offending loop or call and records a diagnostic; the run continues.
type Bounds struct {
	MaxLoopIterations int
	MaxRecursionDepth int
}

// DefaultBounds are generous enough for real decoder loops while keeping
// runaway macros finite.
var DefaultBounds = Bounds{
	MaxLoopIterations: 100000,
	MaxRecursionDepth: 64,
}

/* ===========================
   Scopes
   =========================== */

// Scope is one lexical frame of case-insensitive bindings. Insertion order
// is preserved so variable dumps are deterministic.
type Scope struct {
	vars  map[string]Value
	order []string
}

// NewScope returns an empty frame.
func NewScope() *Scope {
	return &Scope{vars: map[string]Value{}}
}

func (s *Scope) get(name string) (Value, bool) {
	v, ok := s.vars[strings.ToLower(name)]
	return v, ok
}

func (s *Scope) set(name string, v Value) {
	key := strings.ToLower(name)
	if _, ok := s.vars[key]; !ok {
		s.order = append(s.order, key)
	}
	s.vars[key] = v
}

// Names returns the bound names in insertion order.
func (s *Scope) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

/* ===========================
   File table
   =========================== */

// FileObject is one simulated file. Data accumulates everything written
// through any channel (Open/Print/Write, TextStream, ADODB.Stream).
type FileObject struct {
	Path   string
	Data   []byte
	Mode   string // "output", "append", "binary", ...
	Closed bool
}

/* ===========================
   Context
   =========================== */

// Context is the per-run emulation state. It is not safe for concurrent
// use; parallel stream analyses each build their own and share only the
// Recorder.
type Context struct {
	Recorder *Recorder
	Bounds   Bounds

	// DocName seeds synthetic paths (ActiveDocument.Name, dropped-file
	// artifact naming).
	DocName string

	// Env backs Environ(); keys are matched case-insensitively.
	Env map[string]string

	// CollectPayloads gates RecordPayload; the driver sets it from
	// Options.ReportIntermediateIOCs.
	CollectPayloads bool

	globals *Scope
	stack   []*Scope

	// statics holds Static variables keyed by "proc\x00var", surviving
	// across invocations within this Context.
	statics map[string]Value

	overrides map[string]BuiltinFunc

	// file table: open channels by number, plus every file ever opened by
	// path. A file moves to closedOrder exactly once.
	channels    map[int64]*FileObject
	byPath      map[string]*FileObject
	closedOrder []*FileObject

	diags []Diagnostic

	// payload dedup (decoded strings worth reporting once)
	payloadKeys map[uint64]struct{}
	payloads    []string

	depth int // current call depth
}

// NewContext builds a run context with default bounds, a fresh recorder,
// and a small synthetic environment.
func NewContext() *Context {
	return &Context{
		Recorder:        NewRecorder(nil),
		Bounds:          DefaultBounds,
		CollectPayloads: true,
		Env: map[string]string{
			"USERNAME":     "admin",
			"COMPUTERNAME": "DESKTOP-ANALYST",
			"TEMP":         `C:\Users\admin\AppData\Local\Temp`,
			"TMP":          `C:\Users\admin\AppData\Local\Temp`,
			"APPDATA":      `C:\Users\admin\AppData\Roaming`,
			"USERPROFILE":  `C:\Users\admin`,
			"WINDIR":       `C:\Windows`,
		},
		globals:     NewScope(),
		statics:     map[string]Value{},
		overrides:   map[string]BuiltinFunc{},
		channels:    map[int64]*FileObject{},
		byPath:      map[string]*FileObject{},
		payloadKeys: map[uint64]struct{}{},
	}
}

/* ---------- scopes ---------- */

// PushScope enters a procedure frame.
func (c *Context) PushScope() { c.stack = append(c.stack, NewScope()) }

// PopScope leaves the current procedure frame.
func (c *Context) PopScope() {
	if len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}
}

func (c *Context) current() *Scope {
	if len(c.stack) == 0 {
		return c.globals
	}
	return c.stack[len(c.stack)-1]
}

// Get resolves a variable: current frame, then globals. Intermediate frames
// are not visible (VBA has no closures).
func (c *Context) Get(name string) (Value, bool) {
	if v, ok := c.current().get(name); ok {
		return v, true
	}
	if v, ok := c.globals.get(name); ok {
		return v, true
	}
	return Empty, false
}

// Set assigns to an existing binding (current frame or global), creating a
// binding in the current frame when none exists.
func (c *Context) Set(name string, v Value) {
	cur := c.current()
	if _, ok := cur.get(name); ok {
		cur.set(name, v)
		return
	}
	if _, ok := c.globals.get(name); ok {
		c.globals.set(name, v)
		return
	}
	cur.set(name, v)
}

// Declare creates (or resets to Empty) a binding in the current frame.
func (c *Context) Declare(name string) { c.current().set(name, Empty) }

// SetGlobal binds a name at module scope.
func (c *Context) SetGlobal(name string, v Value) { c.globals.set(name, v) }

// SetLocal binds a name in the current frame unconditionally.
func (c *Context) SetLocal(name string, v Value) { c.current().set(name, v) }

/* ---------- statics ---------- */

func staticKey(proc, name string) string {
	return strings.ToLower(proc) + "\x00" + strings.ToLower(name)
}

// GetStatic reads a Static variable for proc.
func (c *Context) GetStatic(proc, name string) (Value, bool) {
	v, ok := c.statics[staticKey(proc, name)]
	return v, ok
}

// SetStatic writes a Static variable for proc.
func (c *Context) SetStatic(proc, name string, v Value) {
	c.statics[staticKey(proc, name)] = v
}

/* ---------- overrides ---------- */

// Override installs fn for the given callee name; it shadows both builtins
// and user procedures of that name. Case-insensitive.
func (c *Context) Override(name string, fn BuiltinFunc) {
	c.overrides[strings.ToLower(name)] = fn
}

func (c *Context) override(name string) (BuiltinFunc, bool) {
	fn, ok := c.overrides[strings.ToLower(name)]
	return fn, ok
}

/* ---------- file table ---------- */

// OpenFile binds a path to a numeric channel. Reopening a path resumes the
// same buffer (append) or truncates it (output).
func (c *Context) OpenFile(num int64, path, mode string) *FileObject {
	f, ok := c.byPath[strings.ToLower(path)]
	if !ok || f.Closed {
		f = &FileObject{Path: path, Mode: mode}
		c.byPath[strings.ToLower(path)] = f
	}
	if mode == "output" {
		f.Data = nil
	}
	f.Mode = mode
	f.Closed = false
	c.channels[num] = f
	c.Recorder.Record("file-open", []string{path, mode}, "Open "+path+" For "+mode)
	return f
}

// OpenPathFile opens a file object addressed by path alone (TextStream,
// ADODB.Stream) with no numeric channel.
func (c *Context) OpenPathFile(path string) *FileObject {
	f, ok := c.byPath[strings.ToLower(path)]
	if !ok || f.Closed {
		f = &FileObject{Path: path}
		c.byPath[strings.ToLower(path)] = f
		c.Recorder.Record("file-open", []string{path}, "Create "+path)
	}
	f.Closed = false
	return f
}

// Channel resolves a numeric file channel.
func (c *Context) Channel(num int64) (*FileObject, bool) {
	f, ok := c.channels[num]
	return f, ok
}

// CloseChannel closes one numeric channel. Closing an unknown channel is a
// no-op, as on the real host with error-resume active.
func (c *Context) CloseChannel(num int64) {
	f, ok := c.channels[num]
	if !ok {
		return
	}
	delete(c.channels, num)
	c.closeFile(f)
}

// ClosePath closes a path-addressed file object.
func (c *Context) ClosePath(f *FileObject) { c.closeFile(f) }

func (c *Context) closeFile(f *FileObject) {
	if f.Closed {
		return
	}
	f.Closed = true
	c.closedOrder = append(c.closedOrder, f)
	c.Recorder.Record("file-close", []string{f.Path}, fmt.Sprintf("Close %s (%d bytes)", f.Path, len(f.Data)))
}

// CloseAllChannels closes every numeric channel (the bare `Close` statement).
func (c *Context) CloseAllChannels() {
	var nums []int64
	for n := range c.channels {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	for _, n := range nums {
		c.CloseChannel(n)
	}
}

// CloseAll closes every still-open file, channel-bound or not. The driver
// calls this when a run ends so partial writes still surface as artifacts.
func (c *Context) CloseAll() {
	c.CloseAllChannels()
	var paths []string
	for p := range c.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if f := c.byPath[p]; !f.Closed {
			c.closeFile(f)
		}
	}
}

// DroppedFiles returns every closed file in close order.
func (c *Context) DroppedFiles() []*FileObject {
	out := make([]*FileObject, len(c.closedOrder))
	copy(out, c.closedOrder)
	return out
}

/* ---------- diagnostics ---------- */

// Diag records a non-fatal problem.
func (c *Context) Diag(stage string, line int, msg string) {
	c.diags = append(c.diags, Diagnostic{Stage: stage, Line: line, Msg: msg})
}

// DiagErr records err as a diagnostic, extracting the line when it carries one.
func (c *Context) DiagErr(stage string, err error) {
	switch e := err.(type) {
	case *SyntaxError:
		c.Diag(stage, e.Line, e.Msg)
	case *RuntimeError:
		c.Diag(stage, e.Line, e.Msg)
	case *LoopLimitError:
		c.Diag(stage, e.Line, e.Error())
	default:
		c.Diag(stage, 0, err.Error())
	}
}

// Diagnostics returns the recorded diagnostics in order.
func (c *Context) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	return out
}

/* ---------- payload dedup ---------- */

// payloadHashKey keys the dedup fingerprint. The value is arbitrary but
// fixed so fingerprints are stable across runs.
var payloadHashKey = []byte("vmacro.payload.dedup.hash.key.01")

// RecordPayload stores a decoded string of interest once. Duplicate decode
// products (the same URL rebuilt in three loops) collapse to one entry.
func (c *Context) RecordPayload(s string) {
	if !c.CollectPayloads || strings.TrimSpace(s) == "" {
		return
	}
	key := highwayhash.Sum64([]byte(s), payloadHashKey)
	if _, seen := c.payloadKeys[key]; seen {
		return
	}
	c.payloadKeys[key] = struct{}{}
	c.payloads = append(c.payloads, s)
}

// Payloads returns the deduplicated decoded strings in first-seen order.
func (c *Context) Payloads() []string {
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

/* ---------- recursion depth ---------- */

// EnterCall bumps the call depth, failing when the recursion bound is hit.
func (c *Context) EnterCall(proc string) error {
	if c.depth >= c.Bounds.MaxRecursionDepth {
		return &RecursionLimitError{Proc: proc, Limit: c.Bounds.MaxRecursionDepth}
	}
	c.depth++
	return nil
}

// LeaveCall undoes EnterCall.
func (c *Context) LeaveCall() {
	if c.depth > 0 {
		c.depth--
	}
}

// Environ looks up a synthetic environment variable, "" when absent.
func (c *Context) Environ(name string) string {
	for k, v := range c.Env {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
