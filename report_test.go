package vmacro

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func Test_Report_FinishFrom_Collects_Everything(t *testing.T) {
	ctx := NewContext()
	ctx.Recorder.Record("shell", []string{"cmd /c whoami"}, "Shell command execution")
	ctx.RecordPayload("http://evil.example/stage2")

	f := ctx.OpenFile(1, `C:\drop.exe`, "output")
	f.Data = append(f.Data, []byte("MZ")...)
	ctx.CloseAll()

	rep := &Report{Status: StatusCompleted}
	rep.finishFrom(ctx, "sample.docm")

	assert.Equal(t, "sample.docm", rep.Document)
	assert.Equal(t, 3, rep.ActionCount) // shell + file-open + file-close
	require.Len(t, rep.Dropped, 1)

	want := sha256.Sum256([]byte("MZ"))
	assert.Equal(t, hex.EncodeToString(want[:]), rep.Dropped[0].SHA256)
	assert.Equal(t, 2, rep.Dropped[0].Size)
	assert.Equal(t, []string{"http://evil.example/stage2"}, rep.Payloads)
	assert.Equal(t, StatusCompleted, rep.Status)
}

func Test_Report_Diagnostics_Degrade_Status(t *testing.T) {
	ctx := NewContext()
	ctx.Diag("eval", 12, "unsupported construct: call to Foo")

	rep := &Report{Status: StatusCompleted}
	rep.finishFrom(ctx, "")

	assert.Equal(t, StatusPartial, rep.Status)
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "[eval] line 12: unsupported construct: call to Foo", rep.Diagnostics[0])
}

func Test_Report_Absorb_Prefixes_Stream(t *testing.T) {
	ctx := NewContext()
	ctx.Diag("parse", 3, "skipped line")

	rep := &Report{}
	rep.absorbContext(ctx, "Module7")

	require.Len(t, rep.Diagnostics, 1)
	assert.True(t, strings.HasPrefix(rep.Diagnostics[0], "Module7: "))
}

func Test_Report_YAML_Roundtrip(t *testing.T) {
	rep := &Report{
		Document:    "a.docm",
		Status:      StatusPartial,
		ActionCount: 1,
		Actions: map[string][]Action{
			"shell": {{Category: "shell", Params: []string{"cmd"}, Description: "Shell command execution", Seq: 0}},
		},
		Dropped:  []DroppedFile{{Path: `C:\x.bin`, SHA256: strings.Repeat("ab", 32), Size: 2}},
		Payloads: []string{"decoded"},
	}

	var buf bytes.Buffer
	require.NoError(t, rep.WriteYAML(&buf))
	out := buf.String()
	assert.Contains(t, out, "status: completed-with-errors")
	assert.Contains(t, out, "dropped_files:")

	var back Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, rep.Document, back.Document)
	assert.Equal(t, rep.Dropped, back.Dropped)
	assert.Equal(t, rep.Actions["shell"][0], back.Actions["shell"][0])
}

func Test_Report_Empty_Sections_Are_Omitted(t *testing.T) {
	rep := &Report{Status: StatusCompleted}
	data, err := rep.ToYAML()
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "dropped_files")
	assert.NotContains(t, out, "payloads")
	assert.NotContains(t, out, "diagnostics")
}
