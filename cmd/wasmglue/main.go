package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/interp"
	"github.com/wasmglue/wasmglue/pipeline"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to input wasm file")
		outFile     = flag.String("o", "", "Path to write transformed wasm (default: <input>.glue.wasm)")
		threadStart = flag.Bool("threads", false, "Move the start section to a __wbindgen_start export")
		reportFile  = flag.String("report", "", "Write recovered signatures as YAML to this path")
		configFile  = flag.String("config", "", "Load pipeline options from a YAML config file")
		emitNames   = flag.Bool("names", false, "Keep the name custom section in the output")
		verbose     = flag.Bool("v", false, "Enable debug logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmglue -wasm <file.wasm> [-o out.wasm] [-threads] [-report sigs.yaml]")
		fmt.Fprintln(os.Stderr, "       wasmglue -wasm <file.wasm> -config build.yaml")
		fmt.Fprintln(os.Stderr, "       wasmglue -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	setupLogging(*verbose)

	opts, err := loadOptions(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *threadStart {
		opts.DemangleStart = true
	}
	if *emitNames {
		opts.EmitNames = true
	}

	if *interactive {
		if err := runInteractive(*wasmFile, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *outFile, *reportFile, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, outFile, reportFile string, opts pipeline.Options) error {
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	out, res, err := pipeline.Process(data, opts)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}

	if outFile == "" {
		outFile = wasmFile + ".glue.wasm"
	}
	if err := os.WriteFile(outFile, out, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("Wrote %s (%d bytes, %d descriptors, %d closures)\n",
		outFile, len(out), len(res.Descriptors), len(res.Closures))

	if reportFile != "" {
		if err := writeReport(reportFile, res); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Wrote %s\n", reportFile)
	}
	return nil
}

// loadOptions reads pipeline options from a YAML config file. An empty
// path returns zero options.
func loadOptions(path string) (pipeline.Options, error) {
	var opts pipeline.Options
	if path == "" {
		return opts, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return opts, fmt.Errorf("read config: %w", err)
	}

	opts.ExtraPrefixes = v.GetStringSlice("prefixes")
	opts.DemangleStart = v.GetBool("threads")
	opts.EmitNames = v.GetBool("emit_names")
	return opts, nil
}

// sigEntry is one row of the YAML signature report.
type sigEntry struct {
	Export    string `yaml:"export"`
	Signature string `yaml:"signature"`
}

type sigReport struct {
	Descriptors []sigEntry      `yaml:"descriptors"`
	Closures    []closureReport `yaml:"closures,omitempty"`
}

type closureReport struct {
	Import    uint32 `yaml:"import"`
	Signature string `yaml:"signature"`
	Mode      string `yaml:"mode"`
}

func writeReport(path string, res *descriptor.Result) error {
	var rep sigReport

	names := make([]string, 0, len(res.Descriptors))
	for name := range res.Descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rep.Descriptors = append(rep.Descriptors, sigEntry{
			Export:    name,
			Signature: res.Descriptors[name].String(),
		})
	}

	indices := make([]uint32, 0, len(res.Closures))
	for idx := range res.Closures {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		c := res.Closures[idx]
		rep.Closures = append(rep.Closures, closureReport{
			Import:    idx,
			Signature: c.Descriptor.String(),
			Mode:      c.Mode.String(),
		})
	}

	out, err := yaml.Marshal(&rep)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// setupLogging installs a shared zap logger: console encoder when stderr
// is a terminal, JSON otherwise.
func setupLogging(verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	var enc zapcore.Encoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	logger := zap.New(core)
	pipeline.SetLogger(logger)
	interp.SetLogger(logger)
}
