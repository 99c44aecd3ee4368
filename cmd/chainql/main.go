// chainql CLI - evaluates CUE expressions through the execution bridge
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/chainql/bridge"
	"github.com/chazu/chainql/config"
	"github.com/chazu/chainql/eval/cueeval"
	"github.com/chazu/chainql/journal"
	"github.com/chazu/chainql/server"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// argFlags collects repeated -arg k=v flags.
type argFlags map[string]any

func (a argFlags) String() string { return fmt.Sprint(map[string]any(a)) }

func (a argFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	a[k] = parseArg(v)
	return nil
}

// parseArg reads v as a JSON literal, falling back to the raw string.
func parseArg(v string) any {
	var x any
	if err := json.Unmarshal([]byte(v), &x); err != nil {
		return v
	}
	return x
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run is the whole CLI. It returns the process exit code.
func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chainql", flag.ContinueOnError)
	fs.SetOutput(stderr)
	expr := fs.String("e", "", "Expression to evaluate")
	pretty := fs.Bool("pretty", false, "Pretty-print manifested JSON")
	logs := fs.Bool("logs", false, "Show evaluator logs")
	verbose := fs.Int("v", 0, "Log verbosity (0-3)")
	serveMode := fs.Bool("serve", false, "Start the bridge server (Connect HTTP/JSON)")
	servePort := fs.Int("port", 0, "Bridge server port (overrides [server] addr)")
	configDir := fs.String("config", "", "Directory containing chainql.toml (default: search upwards)")
	args := argFlags{}
	fs.Var(args, "arg", "Top-level argument key=value (repeatable; value parsed as JSON when possible)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: chainql [options] [file.cue]\n\n")
		fmt.Fprintf(stderr, "Evaluates a CUE file or expression and prints the result as JSON.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  chainql -e 'a + 1' -arg a=41\n")
		fmt.Fprintf(stderr, "  chainql -pretty ./chain.cue -arg network='\"kusama\"'\n")
		fmt.Fprintf(stderr, "  chainql -serve -port 8080\n")
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	commonlog.Configure(*verbose, nil)

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if *logs || cfg.Bridge.Logs {
		bridge.EnableLogs()
		defer bridge.DisableLogs()
	}

	opts := cfg.DispatcherOptions()
	if path := cfg.JournalPath(); path != "" {
		j, err := journal.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error opening journal: %v\n", err)
			return exitError
		}
		defer j.Close()
		opts = append(opts, bridge.WithObserver(j))
	}

	if *serveMode {
		return serve(ctx, cfg, opts, *servePort, stderr)
	}

	source, filename, err := input(cfg, *expr, fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return exitUsage
	}

	ev := cueeval.New()
	if filename != "" {
		ev = ev.WithFilename(filename)
	}
	disp := bridge.New(ev, opts...)

	merged := maps.Clone(cfg.Args)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, args)

	v, err := disp.Evaluate(ctx, source, merged)
	if err == nil {
		err = printResult(ctx, stdout, v, !*pretty)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if bridge.IsInterrupted(err) {
			return exitInterrupted
		}
		return exitError
	}
	return exitOK
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

// input picks the source to evaluate: -e, then a file argument, then the
// configured entry file.
func input(cfg *config.Config, expr string, paths []string) (source, filename string, err error) {
	if expr != "" {
		if len(paths) > 0 {
			return "", "", fmt.Errorf("-e and a file argument are mutually exclusive")
		}
		return expr, "", nil
	}
	if len(paths) > 1 {
		return "", "", fmt.Errorf("expected one file, got %d", len(paths))
	}
	path := cfg.EntryPath()
	if len(paths) > 0 {
		path = paths[0]
	}
	if path == "" {
		return "", "", fmt.Errorf("nothing to evaluate")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return string(data), filepath.Base(path), nil
}

func printResult(ctx context.Context, w io.Writer, v any, minified bool) error {
	var out string
	var err error
	switch x := v.(type) {
	case *bridge.Object:
		out, err = x.ManifestJSON(ctx, minified)
	case *bridge.Array:
		out, err = x.ManifestJSON(ctx, minified)
	case *bridge.Function:
		params, perr := x.Params(ctx)
		if perr != nil {
			return perr
		}
		out = fmt.Sprintf("<function(%s)>", strings.Join(params, ", "))
	case *big.Int:
		out = x.String()
	default:
		var b []byte
		b, err = json.Marshal(x)
		out = string(b)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, opts []bridge.Option, port int, stderr io.Writer) int {
	addr := cfg.Server.Addr
	if port != 0 {
		addr = fmt.Sprintf(":%d", port)
	}

	srv := server.New(bridge.New(cueeval.New(), opts...),
		server.WithHandleTTL(cfg.HandleTTL(), cfg.SweepInterval()))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return exitError
	}
	return exitOK
}
