package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentwarden/agentwarden/internal/api"
	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/fileutil"
	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/report"
	"github.com/agentwarden/agentwarden/internal/types"
	"github.com/agentwarden/agentwarden/internal/validation"
	"github.com/agentwarden/agentwarden/internal/watch"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

// Exit codes: 0 config valid, 1 config invalid, 2 internal error.
const (
	exitValid    = 0
	exitInvalid  = 1
	exitInternal = 2
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "validate":
			runValidate(os.Args[2:])
			return
		case "stats":
			runStats(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "watch":
			runWatch(os.Args[2:])
			return
		case "cache":
			runCache(os.Args[2:])
			return
		case "help", "-h", "--help":
			printUsage()
			return
		case "version", "-v", "--version":
			fmt.Printf("agentwarden version %s\n", Version)
			return
		}
	}

	printUsage()
}

// mustSettings loads settings from the environment and applies CLI overrides.
func mustSettings(logLevel string, noColor bool) *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
	if logLevel != "" {
		settings.LogLevel = types.LogLevel(logLevel)
	}
	logger.SetGlobalLevelFromString(string(settings.LogLevel))
	if noColor || settings.NoColor {
		logger.SetColored(false)
	}
	return settings
}

func mustLoadConfig(path string) *config.PermissionConfig {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
	return cfg
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runValidate handles the validate subcommand.
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	format := fs.String("format", "text", "Output format: text, json, junit")
	strict := fs.Bool("strict", false, "Strict mode: timeouts and strict resolution")
	skipConflicts := fs.Bool("skip-conflicts", false, "Skip conflict detection passes")
	noCache := fs.Bool("no-cache", false, "Bypass the result cache")
	timeoutMs := fs.Int("timeout-ms", 0, "Per-run deadline in milliseconds (0 = none)")
	workers := fs.Int("workers", 0, "Detection worker count (0 = auto)")
	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	var customPatterns stringList
	fs.Var(&customPatterns, "probe", "Extra probe input for overlap analysis (repeatable)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentwarden validate [flags] <config.yaml|config.json>")
		os.Exit(exitInternal)
	}

	settings := mustSettings(*logLevel, *noColor)
	cfg := mustLoadConfig(fs.Arg(0))

	outFormat, err := report.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}

	engine := validation.NewEngine(settings)
	result := engine.Validate(context.Background(), cfg, validation.Options{
		StrictMode:            *strict,
		SkipConflictDetection: *skipConflicts,
		SkipCache:             *noCache,
		TimeoutMs:             *timeoutMs,
		Parallel:              *workers != 1,
		WorkerCount:           *workers,
		CustomPatterns:        customPatterns,
	})

	out, err := report.Render(result, outFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
	fmt.Print(out)

	if !result.IsValid {
		os.Exit(exitInvalid)
	}
}

// runStats handles the stats subcommand.
func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Emit statistics as JSON")
	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentwarden stats [--json] <config.yaml|config.json>")
		os.Exit(exitInternal)
	}

	mustSettings(*logLevel, false)
	cfg := mustLoadConfig(fs.Arg(0))
	stats := validation.GetRuleStatistics(cfg)

	if *asJSON {
		printJSON(stats)
		return
	}
	fmt.Printf("Rules:          %d\n", stats.TotalRules)
	for _, cat := range []string{"deny", "ask", "allow"} {
		if n, ok := stats.ByCategory[cat]; ok {
			fmt.Printf("  %-13s %d\n", cat+":", n)
		}
	}
	fmt.Printf("Avg complexity: %d\n", stats.AvgComplexity)
	fmt.Printf("Probe coverage: %d%%\n", stats.CoveragePercent)
}

// runServe handles the serve subcommand.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (default from WARDEN_LISTEN_ADDR)")
	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	_ = fs.Parse(args)

	settings := mustSettings(*logLevel, *noColor)
	if *addr != "" {
		settings.ListenAddr = *addr
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine := validation.NewEngine(settings)
	server := api.NewServer(engine, settings)
	if err := server.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
}

// runWatch handles the watch subcommand.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	strict := fs.Bool("strict", false, "Strict mode")
	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentwarden watch [flags] <config.yaml|config.json>")
		os.Exit(exitInternal)
	}

	settings := mustSettings(*logLevel, *noColor)

	ctx, cancel := signalContext()
	defer cancel()

	engine := validation.NewEngine(settings)
	watcher, err := watch.NewWatcher(engine, fs.Arg(0), validation.Options{StrictMode: *strict})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
	watcher.OnResult = func(r validation.Result) {
		if out, err := report.Render(r, report.FormatText); err == nil {
			fmt.Print(out)
		}
	}
	if err := watcher.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
}

// runCache handles the cache subcommand: export, import, stats.
func runCache(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: agentwarden cache <export|import|stats> [file]")
		os.Exit(exitInternal)
	}

	settings := mustSettings("", false)
	engine := validation.NewEngine(settings)

	switch args[0] {
	case "export":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: agentwarden cache export <file>")
			os.Exit(exitInternal)
		}
		data, err := engine.ExportCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitInternal)
		}
		if err := fileutil.WritePrivate(args[1], data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitInternal)
		}
		fmt.Printf("Cache exported to %s (%d bytes)\n", args[1], len(data))
	case "import":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: agentwarden cache import <file>")
			os.Exit(exitInternal)
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitInternal)
		}
		n, err := engine.ImportCache(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitInternal)
		}
		fmt.Printf("Imported %d cache entries\n", n)
	case "stats":
		printJSON(engine.CacheStats())
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache command %q\n", args[0])
		os.Exit(exitInternal)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Println(`agentwarden - Permission configuration validator for AI agents

Usage:
  agentwarden validate [flags] <config>   Validate a permission configuration
  agentwarden stats [--json] <config>     Summarize a configuration's rules
  agentwarden watch [flags] <config>      Re-validate on every file change
  agentwarden serve [flags]               Run the HTTP validation API
  agentwarden cache <export|import|stats> [file]

  agentwarden help                        Show this help message
  agentwarden version                     Show version

Validate Flags:
  --format string     Output format: text, json, junit (default "text")
  --strict            Treat timeouts as errors, prefer restrictive fixes
  --skip-conflicts    Skip conflict detection passes
  --no-cache          Bypass the result cache
  --timeout-ms int    Per-run deadline in milliseconds (0 = none)
  --workers int       Detection worker count (0 = auto, 1 = sequential)
  --probe string      Extra probe input for overlap analysis (repeatable)
  --log-level string  Log level: trace, debug, info, warn, error
  --no-color          Disable colored output

Environment Variables:
  WARDEN_SECURITY_LEVEL   strict, moderate, or permissive (default moderate)
  WARDEN_CACHE_ENTRIES    Result cache capacity (default 256)
  WARDEN_CACHE_TTL        Result cache TTL (default 1h)
  WARDEN_CACHE_MEMORY_MB  Result cache memory budget (default 64)
  WARDEN_TARGET_MS        Validation time target (default 100)
  WARDEN_LISTEN_ADDR      API listen address (default 127.0.0.1:9415)

Exit Codes:
  0  configuration is valid
  1  configuration is invalid
  2  internal error

Examples:
  agentwarden validate permissions.yaml
  agentwarden validate --format json --strict permissions.yaml
  agentwarden watch permissions.yaml
  WARDEN_SECURITY_LEVEL=strict agentwarden serve`)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
