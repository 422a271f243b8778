// report.go — the analysis product.
//
// A Report is what the analyst actually reads: recorded actions grouped by
// category, the files the macro dropped (with sha256 digests computed over
// the final buffer contents), deduplicated decoded payloads, and the
// diagnostics trail that says how complete the emulation was. Serialization
// is YAML.
package vmacro

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"gopkg.in/yaml.v3"
)

// Run status values.
const (
	StatusCompleted = "completed"
	StatusPartial   = "completed-with-errors"
	StatusFailed    = "failed"
)

// DroppedFile is one file the macro created and closed (or left open at
// run end; the driver closes leftovers).
type DroppedFile struct {
	Path   string `yaml:"path"`
	Stream string `yaml:"stream,omitempty"`
	SHA256 string `yaml:"sha256"`
	Size   int    `yaml:"size"`
}

// Report is the full result of one analysis run.
type Report struct {
	Document    string              `yaml:"document,omitempty"`
	Status      string              `yaml:"status"`
	ActionCount int                 `yaml:"action_count"`
	Actions     map[string][]Action `yaml:"actions,omitempty"`
	Dropped     []DroppedFile       `yaml:"dropped_files,omitempty"`
	Payloads    []string            `yaml:"payloads,omitempty"`
	Diagnostics []string            `yaml:"diagnostics,omitempty"`
}

// finishFrom finalizes a single-stream report from its context.
func (r *Report) finishFrom(ctx *Context, docName string) {
	r.Document = docName
	r.Actions = ctx.Recorder.GroupByCategory()
	r.ActionCount = ctx.Recorder.Len()
	r.absorbContext(ctx, "")
	if r.Status == StatusCompleted && len(r.Diagnostics) > 0 {
		r.Status = StatusPartial
	}
}

// absorbContext merges one context's files, payloads, and diagnostics.
// stream, when non-empty, labels the origin in multi-stream reports.
func (r *Report) absorbContext(ctx *Context, stream string) {
	for _, f := range ctx.DroppedFiles() {
		digest := sha256.Sum256(f.Data)
		r.Dropped = append(r.Dropped, DroppedFile{
			Path:   f.Path,
			Stream: stream,
			SHA256: hex.EncodeToString(digest[:]),
			Size:   len(f.Data),
		})
	}
	r.Payloads = append(r.Payloads, ctx.Payloads()...)
	for _, d := range ctx.Diagnostics() {
		msg := d.String()
		if stream != "" {
			msg = stream + ": " + msg
		}
		r.Diagnostics = append(r.Diagnostics, msg)
	}
}

// WriteYAML streams the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// ToYAML renders the report as a YAML document.
func (r *Report) ToYAML() ([]byte, error) {
	return yaml.Marshal(r)
}
