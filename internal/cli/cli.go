package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"personactl/internal/config"
	"personactl/internal/host"
	"personactl/internal/installer"
	"personactl/internal/pipeline"
	"personactl/internal/profile"
	"personactl/internal/resolve"
	"personactl/internal/status"
)

// app carries the process-wide state shared by commands.
type app struct {
	stdout io.Writer
	stderr io.Writer
	lookup config.Lookup
	log    zerolog.Logger

	logLevel   string
	configFile string
}

func newApp(stdout, stderr io.Writer, lookup config.Lookup) *app {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	level, _ := lookup(config.EnvLogLevel)
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		lookup:   lookup,
		log:      newLogger(stderr, level),
		logLevel: level,
	}
}

func (a *app) setLevel(level string) {
	if level != "" {
		a.log = a.log.Level(parseLevel(level))
	}
}

// install resolves tokens and configuration, then runs the pipeline.
func (a *app) install(ctx context.Context, tokens []string) error {
	// The first pass validates tokens and finds --config before any
	// configuration is read; the second applies configured defaults.
	pre, err := resolve.Parse(tokens, resolve.Defaults{Root: "."})
	if errors.Is(err, resolve.ErrHelp) {
		resolve.WriteUsage(a.stdout)
		return nil
	}
	if err != nil {
		return err
	}
	file := pre.Options.ConfigFile
	if file == "" {
		file = a.configFile
	}
	cfg, err := fnResolveConfig(file, a.lookup)
	if err != nil {
		return err
	}
	req, err := resolve.Parse(tokens, resolve.Defaults{Root: cfg.Root, Model: cfg.Model})
	if err != nil {
		return err
	}
	a.setLevel(cfg.LogLevel)
	a.setLevel(req.Options.LogLevel)

	dry := cfg.DryRun || req.Options.DryRun
	if dry {
		a.log.Warn().Msg("dry run: host commands are logged, not executed")
	}
	h := fnNewHost(host.Options{UnitDir: cfg.UnitDir, Python: cfg.Python, DryRun: dry, Logger: a.log})
	in := &installer.Installer{Host: h, Config: cfg, Log: a.log, Metrics: pipeline.NewMetrics()}
	out, err := in.Install(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s installed in %s (service %s: %s)\n", out.Label, req.InstallDir, req.Profile.ServiceName(), out.State)
	return nil
}

type statusOptions struct {
	json        bool
	listen      string
	root        string
	corsOrigins []string
}

func (a *app) status(ctx context.Context, o statusOptions) error {
	cfg, err := fnResolveConfig(a.configFile, a.lookup)
	if err != nil {
		return err
	}
	a.setLevel(cfg.LogLevel)
	a.setLevel(a.logLevel)
	root := cfg.Root
	if o.root != "" {
		root = o.root
	}
	c := &status.Collector{
		Root:    root,
		UnitDir: cfg.UnitDir,
		Host:    fnNewHost(host.Options{UnitDir: cfg.UnitDir, Python: cfg.Python, Logger: a.log}),
	}
	if o.listen != "" {
		h := status.NewRouter(c, status.ServerOptions{CORSOrigins: o.corsOrigins, Log: a.log})
		return fnServeStatus(ctx, o.listen, h, a.log)
	}
	entries := c.Collect(ctx)
	if o.json {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"profiles": entries})
	}
	return status.WriteTable(a.stdout, entries)
}

// profiles prints the catalog.
func (a *app) profiles() error {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tVARIANTS\tPARAMS\tSERVICE\tDESCRIPTION")
	for _, p := range profile.All() {
		variants := "-"
		if p.HasVariants() {
			variants = strings.Join(p.VariantNames(), ",")
		}
		params := "-"
		if names := p.ParamNames(); len(names) > 0 {
			params = strings.Join(names, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, variants, params, p.ServiceName(), p.Description)
	}
	return tw.Flush()
}

// exitCode maps a command error to the process exit status and reports it.
func (a *app) exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *resolve.UsageError
	var fail *pipeline.Failure
	switch {
	case errors.As(err, &usage):
		fmt.Fprintf(a.stderr, "error: %s\n\n", usage.Msg)
		resolve.WriteUsage(a.stderr)
		return 1
	case errors.As(err, &fail):
		fail.Log(a.log)
		if fail.ExitStatus == 0 {
			return 1
		}
		return fail.ExitStatus
	default:
		a.log.Error().Err(err).Msg("personactl failed")
		return 1
	}
}

// routeArgs sends anything that is not a known command to install, so
// "personactl bu default" and "personactl --profile=bu" both work.
func routeArgs(root *cobra.Command, args []string) []string {
	if len(args) == 0 {
		return args
	}
	switch args[0] {
	case "-h", "--help", "help":
		return args
	}
	if c, _, err := root.Find(args); err == nil && c != root {
		return args
	}
	return append([]string{"install"}, args...)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := buildRootCmd(a)
	root.SetArgs(routeArgs(root, args))
	return a.exitCode(root.ExecuteContext(ctx))
}

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns an exit code (0 for success, non-zero on error).
func MainWithArgs(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newApp(os.Stdout, os.Stderr, os.LookupEnv).run(ctx, args)
}

// Main returns an exit code (0 for success, non-zero on error) for use by cmd/personactl.
func Main() int { return MainWithArgs(os.Args[1:]) }
