package vmacro

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config_Decode_Full_Profile(t *testing.T) {
	profile := `
doc_name = "invoice.docm"
deobfuscate = true

[limits]
max_loop_iterations = 50000
max_recursion_depth = 32

[run]
entry_points = ["Document_Open", "Decode"]

[env]
USERNAME = "j.smith"
COMPUTERNAME = "FINANCE-PC"
`
	opts, err := DecodeConfig(strings.NewReader(profile))
	require.NoError(t, err)

	assert.Equal(t, "invoice.docm", opts.DocName)
	assert.True(t, opts.Deobfuscate)
	assert.Equal(t, 50000, opts.Bounds.MaxLoopIterations)
	assert.Equal(t, 32, opts.Bounds.MaxRecursionDepth)
	assert.Equal(t, []string{"Document_Open", "Decode"}, opts.EntryPoints)
	assert.Equal(t, "j.smith", opts.Env["USERNAME"])
}

func Test_Config_Empty_Profile_Keeps_Defaults(t *testing.T) {
	opts, err := DecodeConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, opts.EntryPoints)
	assert.Zero(t, opts.Bounds.MaxLoopIterations) // zero means "use DefaultBounds"

	ctx := opts.newContext()
	assert.Equal(t, DefaultBounds, ctx.Bounds)
	assert.Equal(t, "admin", ctx.Environ("USERNAME"))
}

func Test_Config_Accel_And_IOC_Flags(t *testing.T) {
	// absent keys default on; explicit false switches the feature off
	opts, err := DecodeConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, opts.Accelerate)
	assert.True(t, opts.ReportIntermediateIOCs)

	opts, err = DecodeConfig(strings.NewReader("accelerate = false\nreport_iocs = false\n"))
	require.NoError(t, err)
	assert.False(t, opts.Accelerate)
	assert.False(t, opts.ReportIntermediateIOCs)
}

func Test_Config_Bad_TOML_Is_ConfigError(t *testing.T) {
	_, err := DecodeConfig(strings.NewReader("doc_name = [broken"))
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func Test_Config_Profile_Env_Merges_Over_Defaults(t *testing.T) {
	profile := `
[env]
USERNAME = "j.smith"
`
	opts, err := DecodeConfig(strings.NewReader(profile))
	require.NoError(t, err)
	ctx := opts.newContext()
	assert.Equal(t, "j.smith", ctx.Environ("USERNAME"))
	assert.NotEmpty(t, ctx.Environ("TEMP")) // untouched defaults survive
}
