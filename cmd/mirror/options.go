package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bamsammich/mirror/internal/config"
	"github.com/bamsammich/mirror/internal/filter"
	"github.com/bamsammich/mirror/internal/mirror"
	"github.com/bamsammich/mirror/internal/transform"
)

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

// flags holds every command-line option.
type flags struct {
	dryRun        bool
	noPrune       bool
	includeEquals bool
	batch         bool
	alwaysWrite   bool
	prefixes      []string
	rebase        string
	ignore        []string
	filterFile    string
	entriesFile   string
	transforms    []string
	bwLimit       string
	progress      string
	configFile    string
	quiet         bool
	verbose       int
	logFile       string
	showVersion   bool
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, f *flags) {
	if !cmd.Flags().Changed("no-prune") && defaults.Prune != nil {
		f.noPrune = !*defaults.Prune
	}
	if !cmd.Flags().Changed("include-equals") && defaults.IncludeEquals != nil {
		f.includeEquals = *defaults.IncludeEquals
	}
	if !cmd.Flags().Changed("batch") && defaults.Batch != nil {
		f.batch = *defaults.Batch
	}
	if !cmd.Flags().Changed("always-write") && defaults.AlwaysWrite != nil {
		f.alwaysWrite = *defaults.AlwaysWrite
	}
	if !cmd.Flags().Changed("bwlimit") && defaults.BWLimit != nil {
		f.bwLimit = *defaults.BWLimit
	}
	if !cmd.Flags().Changed("progress") && defaults.ProgressInterval != nil {
		f.progress = *defaults.ProgressInterval
	}
	f.ignore = append(f.ignore, defaults.Ignore...)
}

// parseRebase parses FROM:TO.
func parseRebase(s string) (*mirror.Rebase, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok || from == "" || to == "" {
		return nil, fmt.Errorf("invalid --rebase %q: want FROM:TO", s)
	}
	return &mirror.Rebase{From: from, To: to}, nil
}

// buildPipeline turns GLOB=NAME flags and config rules into a transform
// pipeline. CLI rules come first.
func buildPipeline(specs []string, cfgRules []config.TransformConfig) (*transform.Pipeline, error) {
	rules := make([]config.TransformConfig, 0, len(specs)+len(cfgRules))
	for _, s := range specs {
		pattern, name, ok := strings.Cut(s, "=")
		if !ok || pattern == "" || name == "" {
			return nil, fmt.Errorf("invalid --transform %q: want GLOB=NAME", s)
		}
		rules = append(rules, config.TransformConfig{Pattern: pattern, Name: name})
	}
	rules = append(rules, cfgRules...)
	if len(rules) == 0 {
		return nil, nil
	}

	out := make([]transform.Rule, 0, len(rules))
	for _, r := range rules {
		factory, ok := transform.Builtin(r.Name)
		if !ok {
			return nil, fmt.Errorf("unknown transform %q (use one of %s)",
				r.Name, strings.Join(transform.Builtins(), ", "))
		}
		match, err := transform.Glob(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("transform pattern %q: %w", r.Pattern, err)
		}
		out = append(out, transform.Rule{Name: r.Name, Match: match, Factory: factory})
	}
	return transform.NewPipeline(out...)
}

// readEntries reads one key per line. Blank lines and # comments are skipped.
func readEntries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open entries file: %w", err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read entries file: %w", err)
	}
	// An empty file still means "only these keys".
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}
