// Command vmacro analyzes a VBA macro source file and reports what it
// would do: recorded actions, dropped files, decoded payloads.
//
// Usage:
//
//	vmacro [flags] macro.vba
//
//	-config path      TOML run profile
//	-entry name       explicit entry point (repeatable via comma list)
//	-doc name         document name visible to the macro
//	-max-iters n      loop iteration bound
//	-deobfuscate      fold constants in the source before running
//	-no-accel         disable the bytecode loop fast path
//	-no-iocs          skip intermediate payload recording
//	-dump-deob path   write the deobfuscated source and exit
//	-dump-ast path    write a DOT graph of the parsed module and exit
//	-out path         write the YAML report here instead of stdout
//	-artifacts dir    materialize dropped files and report under dir
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bradleyjkemp/memviz"
	"github.com/viant/afs"

	"github.com/ocelabs/vmacro"
)

func main() {
	var (
		configPath  = flag.String("config", "", "TOML run profile")
		entry       = flag.String("entry", "", "comma-separated explicit entry points")
		docName     = flag.String("doc", "", "document name visible to the macro")
		maxIters    = flag.Int("max-iters", 0, "loop iteration bound (0 = default)")
		deobfuscate = flag.Bool("deobfuscate", false, "fold constants before running")
		noAccel     = flag.Bool("no-accel", false, "disable the bytecode loop fast path")
		noIOCs      = flag.Bool("no-iocs", false, "skip intermediate payload recording")
		dumpDeob    = flag.String("dump-deob", "", "write deobfuscated source to this path and exit")
		dumpAST     = flag.String("dump-ast", "", "write a DOT graph of the module to this path and exit")
		outPath     = flag.String("out", "", "write the YAML report to this path")
		artifactDir = flag.String("artifacts", "", "materialize artifacts under this directory")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vmacro [flags] macro.vba")
		flag.PrintDefaults()
		os.Exit(2)
	}
	source, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fatal(err)
	}

	opts := vmacro.Options{Accelerate: true, ReportIntermediateIOCs: true}
	if *configPath != "" {
		opts, err = vmacro.LoadConfig(*configPath)
		if err != nil {
			fatal(err)
		}
	}
	if *entry != "" {
		opts.EntryPoints = splitList(*entry)
	}
	if *docName != "" {
		opts.DocName = *docName
	}
	if opts.DocName == "" {
		opts.DocName = flag.Arg(0)
	}
	if *maxIters > 0 {
		opts.Bounds.MaxLoopIterations = *maxIters
	}
	if *deobfuscate {
		opts.Deobfuscate = true
	}
	if *noAccel {
		opts.Accelerate = false
	}
	if *noIOCs {
		opts.ReportIntermediateIOCs = false
	}

	if *dumpDeob != "" {
		out := vmacro.DeobfuscateText(string(source))
		if err := os.WriteFile(*dumpDeob, []byte(out), 0644); err != nil {
			fatal(err)
		}
		return
	}

	if *dumpAST != "" {
		if err := writeASTGraph(string(source), *dumpAST); err != nil {
			fatal(err)
		}
		return
	}

	rep, rctx, err := vmacro.RunWithContext(string(source), opts)
	if err != nil && rep == nil {
		fatal(err)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, vmacro.WrapErrorWithSource(err, string(source)))
	}

	if *artifactDir != "" {
		fs := afs.New()
		dir, aerr := vmacro.MaterializeArtifacts(context.Background(), fs, *artifactDir, rep, rctx.DroppedFiles())
		if aerr != nil {
			fatal(aerr)
		}
		fmt.Fprintln(os.Stderr, "artifacts written to", dir)
	}

	out := os.Stdout
	if *outPath != "" {
		f, ferr := os.Create(*outPath)
		if ferr != nil {
			fatal(ferr)
		}
		defer f.Close()
		out = f
	}
	if err := rep.WriteYAML(out); err != nil {
		fatal(err)
	}
	if rep.Status == vmacro.StatusFailed {
		os.Exit(1)
	}
}

// writeASTGraph parses the module, forces every lazy body, and renders the
// full tree as graphviz DOT.
func writeASTGraph(source, path string) error {
	mod, err := vmacro.ParseModule("macro", source)
	if err != nil {
		return err
	}
	for _, p := range mod.Procs {
		vmacro.Walk(p, func(vmacro.Node) bool { return true })
	}
	if mod.Loose != nil {
		vmacro.Walk(mod.Loose, func(vmacro.Node) bool { return true })
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	memviz.Map(f, &mod)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "vmacro:", err)
	os.Exit(1)
}
