// config.go — TOML run profiles.
//
// Analysts keep per-campaign profiles (entry-point overrides, bounds,
// synthetic environment values) in small TOML files instead of repeating
// flags:
//
//	doc_name = "invoice.docm"
//	deobfuscate = true
//	accelerate = false
//
//	[limits]
//	max_loop_iterations = 50000
//	max_recursion_depth = 32
//
//	[run]
//	entry_points = ["Document_Open", "Decode"]
//
//	[env]
//	USERNAME = "j.smith"
package vmacro

import (
	"io"

	"github.com/BurntSushi/toml"
)

type configFile struct {
	DocName     string `toml:"doc_name"`
	Deobfuscate bool   `toml:"deobfuscate"`

	// pointers distinguish "absent" from an explicit false; both default on
	Accelerate *bool `toml:"accelerate"`
	ReportIOCs *bool `toml:"report_iocs"`

	Limits struct {
		MaxLoopIterations int `toml:"max_loop_iterations"`
		MaxRecursionDepth int `toml:"max_recursion_depth"`
	} `toml:"limits"`

	Run struct {
		EntryPoints []string `toml:"entry_points"`
	} `toml:"run"`

	Env map[string]string `toml:"env"`
}

func (cf *configFile) options() Options {
	o := Options{
		EntryPoints: cf.Run.EntryPoints,
		Bounds: Bounds{
			MaxLoopIterations: cf.Limits.MaxLoopIterations,
			MaxRecursionDepth: cf.Limits.MaxRecursionDepth,
		},
		DocName:                cf.DocName,
		Deobfuscate:            cf.Deobfuscate,
		Accelerate:             true,
		ReportIntermediateIOCs: true,
		Env:                    cf.Env,
	}
	if cf.Accelerate != nil {
		o.Accelerate = *cf.Accelerate
	}
	if cf.ReportIOCs != nil {
		o.ReportIntermediateIOCs = *cf.ReportIOCs
	}
	return o
}

// LoadConfig reads a TOML profile from disk.
func LoadConfig(path string) (Options, error) {
	var cf configFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return Options{}, &ConfigError{Msg: "cannot read profile " + path + ": " + err.Error()}
	}
	return cf.options(), nil
}

// DecodeConfig reads a TOML profile from a reader.
func DecodeConfig(r io.Reader) (Options, error) {
	var cf configFile
	if _, err := toml.NewDecoder(r).Decode(&cf); err != nil {
		return Options{}, &ConfigError{Msg: "cannot parse profile: " + err.Error()}
	}
	return cf.options(), nil
}
