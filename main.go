package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/btree-query-bench/gbptree/dbms/index/kv"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every command needs once flags and config are resolved.
type app struct {
	configPath string
	cfg        Config
	logger     *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		indexPath string
		logLevel  string
		layout    string
	)
	root := &cobra.Command{
		Use:           "gbptree",
		Short:         "Build, inspect and benchmark generation-safe B+ tree indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("index") {
				cfg.Index.Path = indexPath
			}
			if flags.Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if flags.Changed("layout") {
				cfg.Index.NodeLayout = layout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger, err = newLogger(cfg.Logging)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&indexPath, "index", "", "index file (overrides index.path)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&layout, "layout", "", "node layout for new files: sorted or indirect")

	root.AddCommand(
		newBenchCmd(a),
		newLoadCmd(a),
		newScanCmd(a),
		newCheckCmd(a),
		newDotCmd(a),
	)
	return root
}

func (a *app) openStore(reg prometheus.Registerer) (*kv.Store, error) {
	return kv.Open(a.cfg.Index.Path, a.cfg.Index.kvOptions(a.logger, reg))
}

// ─── bench ────────────────────────────────────────────────────────────────────

func newBenchCmd(a *app) *cobra.Command {
	var (
		keys    int
		readers int
		engines []string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the workload suite against each engine and write CSV and plot results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("keys") {
				cfg.Bench.Keys = keys
			}
			if flags.Changed("readers") {
				cfg.Bench.Readers = readers
			}
			if flags.Changed("engines") {
				cfg.Bench.Engines = engines
			}
			if flags.Changed("out") {
				cfg.Bench.OutputDir = out
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBench(cmd.Context(), cfg, a.logger)
		},
	}
	cmd.Flags().IntVarP(&keys, "keys", "n", 0, "keys to load per engine")
	cmd.Flags().IntVar(&readers, "readers", 0, "concurrent readers in the mixed phase")
	cmd.Flags().StringSliceVar(&engines, "engines", nil, "engines to run: bptree, lsm")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory")
	return cmd
}

func runBench(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.Bench.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "bench: output directory")
	}
	f, err := os.Create(filepath.Join(cfg.Bench.OutputDir, "results.csv"))
	if err != nil {
		return errors.Wrap(err, "bench: create csv")
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	var all []BenchResult
	for _, name := range cfg.Bench.Engines {
		idx, conf, err := openEngine(name, cfg.Bench.OutputDir, cfg, logger, reg)
		if err != nil {
			return err
		}
		logger.Info("benchmark started", zap.String("engine", name), zap.Int("keys", cfg.Bench.Keys))
		results, err := runSuite(ctx, name, conf, idx, cfg.Bench, logger)
		if cerr := idx.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "bench %s", name)
		}
		for _, r := range results {
			if err := Record(w, r); err != nil {
				return err
			}
		}
		all = append(all, results...)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "bench: write csv")
	}
	logMetrics(reg, logger)

	if cfg.Bench.Plot {
		path := filepath.Join(cfg.Bench.OutputDir, "latency.png")
		if err := plotLatencies(all, path); err != nil {
			return err
		}
		logger.Info("plot written", zap.String("path", path))
	}
	logger.Info("benchmark complete", zap.String("results", f.Name()))
	return nil
}

// logMetrics logs every gathered sample of the index collectors.
func logMetrics(reg prometheus.Gatherer, logger *zap.Logger) {
	families, err := reg.Gather()
	if err != nil {
		logger.Warn("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fields := []zap.Field{zap.String("metric", mf.GetName())}
			for _, l := range m.GetLabel() {
				fields = append(fields, zap.String(l.GetName(), l.GetValue()))
			}
			switch {
			case m.GetCounter() != nil:
				fields = append(fields, zap.Float64("value", m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				fields = append(fields, zap.Float64("value", m.GetGauge().GetValue()))
			}
			logger.Info("metric", fields...)
		}
	}
}

// ─── load ─────────────────────────────────────────────────────────────────────

func newLoadCmd(a *app) *cobra.Command {
	var (
		keys      int64
		valueSize int
		lookup    int64
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Insert keys 1..n, then verify a point lookup, a range scan and the tree structure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()
			log := a.logger.With(zap.String("index", a.cfg.Index.Path))

			value := make([]byte, valueSize)
			for i := range value {
				value[i] = 'X'
			}
			for k := int64(1); k <= keys; k++ {
				if err := store.Insert(k, value); err != nil {
					return errors.Wrapf(err, "insert %d", k)
				}
			}
			log.Info("keys inserted", zap.Int64("keys", keys),
				zap.Int64("root", store.Tree().RootID()))

			if lookup == 0 {
				lookup = (keys + 1) / 2
			}
			v, err := store.Get(lookup)
			if err != nil {
				return err
			}
			if len(v) != valueSize {
				return errors.Newf("lookup %d: value size %d, want %d", lookup, len(v), valueSize)
			}

			n, err := scan(store, 1, keys+1)
			if err != nil {
				return err
			}
			if int64(n) != keys {
				return errors.Newf("range scan found %d keys, want %d", n, keys)
			}
			if err := store.Tree().CheckConsistency(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d keys, lookup %d ok, scan found %d keys\n", keys, lookup, n)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&keys, "keys", "n", 60, "number of keys to insert")
	cmd.Flags().IntVar(&valueSize, "value-size", 16, "value size in bytes")
	cmd.Flags().Int64Var(&lookup, "lookup", 0, "key to verify (default: the middle key)")
	return cmd
}

// ─── scan / check / dot ───────────────────────────────────────────────────────

func newScanCmd(a *app) *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the entries with from <= key < to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()
			it, err := store.Range(from, to)
			if err != nil {
				return err
			}
			defer it.Close()
			out := cmd.OutOrStdout()
			for it.Next() {
				fmt.Fprintf(out, "%d\t%x\n", it.Key(), it.Value())
			}
			return it.Error()
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first key")
	cmd.Flags().Int64Var(&to, "to", 1<<62, "end key, exclusive")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the structure of the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Tree().CheckConsistency(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newDotCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Write the tree as a Graphviz digraph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()
			if out == "" {
				return store.Tree().PrintDOT(cmd.OutOrStdout())
			}
			f, err := os.Create(out)
			if err != nil {
				return errors.Wrap(err, "dot: create")
			}
			if err := store.Tree().PrintDOT(f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
