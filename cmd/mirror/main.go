package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/mirror/internal/config"
	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/filter"
	"github.com/bamsammich/mirror/internal/location"
	"github.com/bamsammich/mirror/internal/mirror"
	"github.com/bamsammich/mirror/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

//nolint:gocyclo,revive // cyclomatic,cognitive-complexity: main CLI entry point orchestrates all flag parsing and mode selection
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	chain := filter.NewChain()

	rootCmd := &cobra.Command{
		Use:   "mirror [flags] <source> <destination>",
		Short: "Make a destination drive match a source drive, streaming every difference",
		Args: func(cmd *cobra.Command, args []string) error {
			if f.showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.showVersion {
				fmt.Fprintf(stdout, "mirror %s\n", version)
				return nil
			}

			// Configure logging.
			logLevel := slog.LevelWarn
			switch {
			case f.quiet:
				logLevel = slog.LevelError
			case f.verbose >= 2:
				logLevel = slog.LevelDebug
			case f.verbose == 1:
				logLevel = slog.LevelInfo
			}
			textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{
				Level: logLevel,
			})
			var logHandler slog.Handler = textHandler
			if f.logFile != "" {
				lf, lfErr := os.Create(f.logFile)
				if lfErr != nil {
					return fmt.Errorf("open log file: %w", lfErr)
				}
				defer lf.Close()
				jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})
				logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
			}
			logger := slog.New(logHandler)
			slog.SetDefault(logger)

			// Load optional config file.
			var cfg config.Config
			var err error
			if f.configFile != "" {
				cfg, err = config.LoadFile(f.configFile)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults, &f)
			ui.ApplyTheme(cfg.Theme)

			opts := mirror.Options{
				Prefixes:      f.prefixes,
				DryRun:        f.dryRun,
				NoPrune:       f.noPrune,
				IncludeEquals: f.includeEquals,
				Batch:         f.batch,
				Logger:        logger,
			}

			if f.rebase != "" {
				opts.Rebase, err = parseRebase(f.rebase)
				if err != nil {
					return err
				}
			}

			// Load filter file if specified.
			if f.filterFile != "" {
				if err := chain.LoadFile(f.filterFile); err != nil {
					return err
				}
			}
			// Only set filter if it has rules.
			if !chain.Empty() {
				opts.Filter = chain.MatchKey
			}
			if len(f.ignore) > 0 {
				opts.Ignore = drive.IgnorePaths(f.ignore...)
			}

			if f.entriesFile != "" {
				opts.Entries, err = readEntries(f.entriesFile)
				if err != nil {
					return err
				}
			}

			opts.Transforms, err = buildPipeline(f.transforms, cfg.Transforms)
			if err != nil {
				return err
			}
			if f.alwaysWrite {
				opts.TransformPolicy = mirror.AlwaysWrite
			}

			// Parse bandwidth limit.
			if f.bwLimit != "" {
				n, err := mirror.ParseRate(f.bwLimit)
				if err != nil {
					if errors.Is(err, mirror.ErrNonPositiveRate) {
						return errors.New("invalid --bwlimit: must be positive")
					}
					return fmt.Errorf("invalid --bwlimit: %w", err)
				}
				opts.Limiter, err = mirror.NewBWLimiter(n)
				if err != nil {
					return fmt.Errorf("invalid --bwlimit: %w", err)
				}
			}

			var interval time.Duration
			if f.progress != "" {
				interval, err = time.ParseDuration(f.progress)
				if err != nil || interval <= 0 {
					return fmt.Errorf("invalid --progress %q: want a positive duration", f.progress)
				}
			}

			srcLoc := location.Parse(args[0])
			dstLoc := location.Parse(args[1])

			src, srcCloser, err := location.Open(srcLoc)
			if err != nil {
				return fmt.Errorf("source %s: %w", srcLoc, err)
			}
			defer srcCloser.Close()

			dst, dstCloser, err := location.Open(dstLoc)
			if err != nil {
				return fmt.Errorf("destination %s: %w", dstLoc, err)
			}
			defer dstCloser.Close()

			m, err := mirror.New(src, dst, opts)
			if err != nil {
				return err
			}
			defer m.Close()

			if f.dryRun {
				slog.Info("dry run mode")
			}
			slog.Debug("starting mirror",
				"src", srcLoc.String(),
				"dst", dstLoc.String(),
				"prefixes", f.prefixes,
				"prune", !f.noPrune,
				"batch", f.batch,
			)

			// Set up context with signal handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errTerm, outTerm := ui.Detect(stderr), ui.Detect(stdout)

			var progress *ui.ProgressLine
			var progressWg sync.WaitGroup
			if interval > 0 && !f.quiet {
				progress = errTerm.NewProgressLine(stderr)
				mon := m.Monitor(interval)
				progressWg.Add(1)
				go func() {
					defer progressWg.Done()
					progress.Run(mon.Updates())
				}()
			}

			presenter := ui.NewPresenter(ui.Config{
				Writer: stdout,
				Color:  outTerm.TTY,
				Quiet:  f.quiet,
				DryRun: f.dryRun,
				// Only share the line when both streams reach the same terminal.
				Progress: sharedProgress(progress, errTerm.TTY && outTerm.TTY),
			})

			runErr := presenter.Run(m.Diffs(ctx))
			closeErr := m.Close()
			progressWg.Wait()

			if err := errors.Join(runErr, closeErr); err != nil {
				slog.Error("mirror failed", "error", err, "state", m.State().String())
				return &exitError{code: 1}
			}

			if !f.quiet {
				summary := presenter.Summary(m.Count())
				if summary != "" {
					fmt.Fprintln(stderr, summary)
				}
			}
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	fl := rootCmd.Flags()
	fl.BoolVar(&f.showVersion, "version", false, "print version and exit")
	fl.BoolVarP(&f.dryRun, "dry-run", "n", false, "report differences without writing")
	fl.BoolVar(&f.noPrune, "no-prune", false, "keep destination keys missing from the source")
	fl.BoolVarP(&f.includeEquals, "include-equals", "e", false, "also report keys that are already equal")
	fl.BoolVar(&f.batch, "batch", false, "stage all writes and flush them once at the end")
	fl.BoolVar(&f.alwaysWrite, "always-write", false, "rewrite every key with a transform instead of comparing output")
	fl.StringArrayVar(&f.prefixes, "prefix", nil, "only mirror keys under PREFIX (repeatable)")
	fl.StringVar(&f.rebase, "rebase", "", "mirror source FROM onto destination TO (FROM:TO)")
	fl.StringArrayVar(&f.ignore, "ignore", nil, "skip KEY and everything under it (repeatable)")

	// Filter flags use a custom pflag.Value to preserve CLI ordering.
	fl.VarP(&filterFlag{chain: chain, include: false}, "exclude", "", "exclude keys matching PATTERN (repeatable)")
	fl.VarP(&filterFlag{chain: chain, include: true}, "include", "", "include keys matching PATTERN (repeatable)")
	fl.StringVar(&f.filterFile, "filter", "", "read include/exclude rules from FILE")
	fl.StringVar(&f.entriesFile, "entries", "", "only mirror the keys listed in FILE")
	fl.StringArrayVar(&f.transforms, "transform", nil, "apply a built-in transform to matching keys (GLOB=NAME, repeatable)")
	fl.StringVar(&f.bwLimit, "bwlimit", "", "bandwidth limit in bytes per second (e.g. 512K, 100M/s)")
	fl.StringVar(&f.progress, "progress", "", "print download/upload progress every DURATION (e.g. 500ms)")
	fl.StringVar(&f.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/mirror/config.toml)")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress all output except errors")
	fl.CountVarP(&f.verbose, "verbose", "v", "verbose output (repeat for debug)")
	fl.StringVar(&f.logFile, "log-file", "", "write structured JSON log to FILE")

	fl.VisitAll(func(pf *pflag.Flag) {
		if pf.Name == "exclude" || pf.Name == "include" {
			pf.NoOptDefVal = ""
		}
	})

	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func sharedProgress(p *ui.ProgressLine, shared bool) *ui.ProgressLine {
	if !shared {
		return nil
	}
	return p
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
