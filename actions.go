// actions.go — the append-only record of observable side effects.
//
// Every externally visible thing an emulated macro tries to do (run a shell
// command, create a COM object, write a file, read an environment variable)
// is recorded as an Action instead of being performed. The recorder preserves
// global emission order; grouping by category is a read-side view.
package vmacro

import "sync"

// Action is one recorded side effect. Seq is the global emission order,
// starting at 0. Params hold the already-coerced string arguments.
type Action struct {
	Category    string   `yaml:"category"`
	Params      []string `yaml:"params,omitempty"`
	Description string   `yaml:"description"`
	Seq         int      `yaml:"seq"`
}

// Recorder collects actions in emission order. It is safe for concurrent
// use; parallel stream analyses share one recorder per run.
type Recorder struct {
	mu      sync.Mutex
	actions []Action
	observe func(Action) // optional synchronous callback
}

// NewRecorder returns an empty recorder. observe, when non-nil, is invoked
// synchronously for each recorded action (live triage UIs hook in here).
func NewRecorder(observe func(Action)) *Recorder {
	return &Recorder{observe: observe}
}

// Record appends an action and returns it with its sequence number set.
func (r *Recorder) Record(category string, params []string, description string) Action {
	r.mu.Lock()
	a := Action{Category: category, Params: params, Description: description, Seq: len(r.actions)}
	r.actions = append(r.actions, a)
	cb := r.observe
	r.mu.Unlock()
	if cb != nil {
		cb(a)
	}
	return a
}

// Actions returns a copy of the recorded actions in emission order.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Len reports how many actions have been recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// GroupByCategory returns actions bucketed by category. Order within each
// bucket follows emission order.
func (r *Recorder) GroupByCategory() map[string][]Action {
	out := map[string][]Action{}
	for _, a := range r.Actions() {
		out[a.Category] = append(out[a.Category], a)
	}
	return out
}
