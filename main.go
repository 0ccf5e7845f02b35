package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lookbusy1344/imps-emulator/config"
	"github.com/lookbusy1344/imps-emulator/debugger"
	"github.com/lookbusy1344/imps-emulator/jit"
	"github.com/lookbusy1344/imps-emulator/loader"
	"github.com/lookbusy1344/imps-emulator/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		debugMode   = flag.Bool("debug", false, "Start in the TUI debugger")
		enableTrace = flag.Bool("trace", false, "Enable execution trace")
		traceFile   = flag.String("trace-file", "", "Trace output file (default: stdout)")
		maxCycles   = flag.Uint64("max-cycles", 0, "Maximum cycles before halt (0 = config value)")
		noJIT       = flag.Bool("no-jit", false, "Validate JIT ranges but run them in the interpreter")
		dumpCode    = flag.Bool("dump-code", false, "Hex-dump every emitted translation")
		configPath  = flag.String("config", "", "Config file path (default: platform config dir)")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("IMPS Emulator %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp || flag.NArg() != 1 {
		printHelp()
		if *showHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override config file values
	if *maxCycles != 0 {
		cfg.Execution.MaxCycles = *maxCycles
	}
	if *enableTrace {
		cfg.Execution.EnableTrace = true
	}
	if *traceFile != "" {
		cfg.Trace.OutputFile = *traceFile
	}
	if *noJIT {
		cfg.JIT.Enabled = false
	}
	if *dumpCode {
		cfg.JIT.DumpCode = true
	}

	machine := vm.NewVM()
	machine.MaxCycles = cfg.Execution.MaxCycles

	if cfg.Execution.EnableTrace {
		w := os.Stdout
		if cfg.Trace.OutputFile != "" {
			f, err := os.Create(cfg.Trace.OutputFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: creating trace file: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			w = f
		}
		machine.Trace = vm.NewExecutionTrace(w)
	}

	if cfg.JIT.Enabled {
		dispatcher, err := jit.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.JIT.DumpCode {
			dispatcher.DumpWriter = os.Stdout
		}
		machine.Backend = dispatcher
	}

	if err := loader.LoadImageIntoVM(machine, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *debugMode {
		dbg := debugger.New(machine)
		if err := dbg.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := machine.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func printHelp() {
	fmt.Println("IMPS Emulator - a 32-bit register machine with a dynamic binary translator")
	fmt.Println()
	fmt.Println("Usage: imps [options] PROGRAM_FILE")
	fmt.Println()
	fmt.Println("PROGRAM_FILE is a raw little-endian image, at most 64KB, loaded at address 0.")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}
