// Package cli implements the command-line interface for bdf-merge.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/eunmann/bdf-merge/internal/config"
	"github.com/eunmann/bdf-merge/internal/logctx"
	"github.com/eunmann/bdf-merge/pkg/chantable"
	"github.com/eunmann/bdf-merge/pkg/header"
	"github.com/eunmann/bdf-merge/pkg/logging"
	"github.com/eunmann/bdf-merge/pkg/membudget"
	"github.com/eunmann/bdf-merge/pkg/memdiag"
	"github.com/eunmann/bdf-merge/pkg/merge"
	"github.com/eunmann/bdf-merge/pkg/source"
	"github.com/eunmann/bdf-merge/pkg/verify"
)

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	return RunContext(context.Background(), args)
}

// RunContext executes the CLI with ctx, which cancels a running merge.
func RunContext(ctx context.Context, args []string) error {
	if args == nil {
		args = []string{}
	}
	root := newRootCmd(os.Getenv)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type rootFlags struct {
	configPath string
	debug      bool
	human      bool
}

// app carries settings resolved before any subcommand runs.
type app struct {
	getenv func(string) string
	flags  rootFlags
	cfg    config.Config
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}

	root := &cobra.Command{
		Use:           "bdf-merge",
		Short:         "Concatenate BioSemi BDF recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("usage: bdf-merge <command> [options]\ncommands: merge, inspect, verify")
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "YAML config file (env "+config.EnvConfig+")")
	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&a.flags.human, "human", false, "human-readable console logs")

	root.AddCommand(newMergeCmd(a), newInspectCmd(), newVerifyCmd())
	return root
}

// setup loads the config file, applies the environment, then the root flags,
// and initializes logging.
func (a *app) setup(flags *pflag.FlagSet) error {
	path := a.flags.configPath
	if path == "" {
		path = a.getenv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(a.getenv); err != nil {
		return err
	}
	if flags.Changed("debug") {
		cfg.Log.Debug = a.flags.debug
	}
	if flags.Changed("human") {
		cfg.Log.Human = a.flags.human
	}
	logging.Init(cfg.Log.Debug, cfg.Log.Human)
	a.cfg = cfg
	return nil
}

type mergeFlags struct {
	out                string
	chunkSize          string
	disableConcurrency bool
	queueDepth         int
	memoryBudget       string
	atomic             bool
	verify             bool
}

func newMergeCmd(a *app) *cobra.Command {
	var f mergeFlags
	cmd := &cobra.Command{
		Use:   "merge --out <file> <input>...",
		Short: "Merge BDF files into one recording",
		Long: "Merge concatenates the data records of every input, in order, " +
			"behind a header whose record count and duration are the sums of the inputs'. " +
			"Inputs may be local paths or s3://bucket/key URIs.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMerge(cmd, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.out, "out", "o", "", "output BDF file")
	fl.StringVar(&f.chunkSize, "chunk-size", "", `read size: "record", "whole-file", or bytes such as 65536 or 64KiB`)
	fl.BoolVar(&f.disableConcurrency, "disable-concurrency", false, "read and write in a single goroutine")
	fl.IntVar(&f.queueDepth, "queue-depth", 0, "chunks buffered between reader and writer")
	fl.StringVar(&f.memoryBudget, "memory-budget", "", "bytes held by buffered chunks, e.g. 512MiB (default: 25% of RAM)")
	fl.BoolVar(&f.atomic, "atomic", false, "write to <out>.tmp and rename on success")
	fl.BoolVar(&f.verify, "verify", false, "checksum the output against the inputs after merging")
	return cmd
}

func (a *app) runMerge(cmd *cobra.Command, f mergeFlags, inputs []string) error {
	if f.out == "" {
		return errors.New("--out is required")
	}

	cfg := a.cfg
	fl := cmd.Flags()
	if fl.Changed("chunk-size") {
		cfg.ChunkSize = f.chunkSize
	}
	if fl.Changed("disable-concurrency") {
		cfg.Concurrent = !f.disableConcurrency
	}
	if fl.Changed("queue-depth") {
		cfg.QueueDepth = f.queueDepth
	}
	if fl.Changed("memory-budget") {
		cfg.SetMemoryBudget(f.memoryBudget, membudget.BudgetSourceCLI)
	}
	if fl.Changed("atomic") {
		cfg.Atomic = f.atomic
	}

	opts, err := cfg.MergeOptions()
	if err != nil {
		return err
	}

	ctx := logctx.WithLogger(cmd.Context(), *logging.L())
	stats := opts.Budget.Stats()
	log := logctx.FromContext(ctx)
	log.Debug().
		Int64("memory_budget", stats.TotalBytes).
		Str("memory_budget_source", string(stats.Source)).
		Msg("memory budget")

	mon := memdiag.NewMonitor(memdiag.ConfigFromEnv(a.getenv), opts.Budget, logctx.FromContext(ctx))
	mon.Start(ctx)
	res, err := merge.Merge(ctx, inputs, f.out, opts)
	peakHeap, peakBudget := mon.Stop()
	log.Debug().
		Uint64("peak_heap", peakHeap).
		Int64("peak_budget_inuse", peakBudget).
		Msg("memory peaks")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "merged %d inputs into %s: %d records, %s in %s\n",
		res.Inputs, res.Output, res.Records,
		humanize.IBytes(uint64(res.HeaderBytes+res.DataBytes)),
		res.Elapsed.Round(time.Millisecond))

	if f.verify {
		return runVerify(ctx, cmd.OutOrStdout(), opts.Opener, inputs, f.out)
	}
	return nil
}

func newVerifyCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "verify --out <merged> <input>...",
		Short: "Check a merged file against its inputs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			ctx := logctx.WithLogger(cmd.Context(), *logging.L())
			return runVerify(ctx, cmd.OutOrStdout(), source.NewRouter(), args, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "merged BDF file to check")
	return cmd
}

func runVerify(ctx context.Context, w io.Writer, opener source.Opener, inputs []string, out string) error {
	report, err := verify.Verify(ctx, opener, inputs, out)
	if report != nil {
		fmt.Fprintf(w, "verify %s: header match=%t, data %d/%d bytes, xxhash64 %016x/%016x\n",
			out, report.HeaderMatches, report.ActualBytes, report.ExpectedBytes,
			report.ActualSum, report.ExpectedSum)
	}
	return err
}

func newInspectCmd() *cobra.Command {
	var parquetOut string
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print a BDF header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logctx.WithLogger(cmd.Context(), *logging.L())
			return runInspect(ctx, cmd.OutOrStdout(), source.NewRouter(), args[0], parquetOut)
		},
	}
	cmd.Flags().StringVar(&parquetOut, "parquet", "", "also write the channel table to this Parquet file")
	return cmd
}

// headerView is the printed form of a header.
type headerView struct {
	File           string        `yaml:"file"`
	Valid          bool          `yaml:"valid"`
	Problem        string        `yaml:"problem,omitempty"`
	SubjectID      string        `yaml:"subject_id"`
	RecordingID    string        `yaml:"recording_id"`
	StartDate      string        `yaml:"start_date"`
	StartTime      string        `yaml:"start_time"`
	HeaderBytes    int           `yaml:"header_bytes"`
	FormatVersion  string        `yaml:"format_version"`
	RecordCount    int           `yaml:"record_count"`
	RecordDuration int           `yaml:"record_duration"`
	ChannelCount   int           `yaml:"channel_count"`
	Channels       []channelView `yaml:"channels"`
}

type channelView struct {
	Label     string `yaml:"label"`
	Dimension string `yaml:"dimension"`
	Samples   int32  `yaml:"samples_per_record"`
	Physical  string `yaml:"physical"`
	Digital   string `yaml:"digital"`
}

func runInspect(ctx context.Context, w io.Writer, opener source.Opener, name, parquetOut string) error {
	ctx = logctx.WithInput(ctx, 0, name)

	rc, err := opener.Open(ctx, name, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	h, err := header.Load(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("load header %s: %w", name, err)
	}

	view := headerView{File: name, Valid: true}
	if verr := h.Validate(); verr != nil {
		view.Valid = false
		view.Problem = verr.Error()
		l := logctx.FromContext(ctx)
		l.Warn().Err(verr).Msg("header failed validation")
	}

	s, err := h.Summarize()
	if err != nil && view.Valid {
		return err
	}
	view.SubjectID = s.SubjectID
	view.RecordingID = s.RecordingID
	view.StartDate = s.StartDate.Format("02.01.06")
	view.StartTime = s.StartTime.Format("15.04.05")
	view.HeaderBytes = s.HeaderBytes
	view.FormatVersion = s.FormatVersion
	view.RecordCount = s.RecordCount
	view.RecordDuration = s.RecordDuration
	view.ChannelCount = s.ChannelCount

	channels, cerr := chantable.FromHeader(h)
	if cerr == nil {
		for _, c := range channels {
			view.Channels = append(view.Channels, channelView{
				Label:     c.Label,
				Dimension: c.Dimension,
				Samples:   c.SamplesPerRecord,
				Physical:  fmt.Sprintf("%d..%d", c.PhysicalMin, c.PhysicalMax),
				Digital:   fmt.Sprintf("%d..%d", c.DigitalMin, c.DigitalMax),
			})
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("print header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if parquetOut == "" {
		return nil
	}
	if cerr != nil {
		return fmt.Errorf("channel table: %w", cerr)
	}
	if err := chantable.WriteFile(parquetOut, channels); err != nil {
		return fmt.Errorf("write channel table: %w", err)
	}
	l := logctx.FromContext(ctx)
	l.Info().Str("parquet", parquetOut).Int("channels", len(channels)).Msg("wrote channel table")
	return nil
}
