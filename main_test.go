package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btree-query-bench/gbptree/dbms/index"
	"github.com/btree-query-bench/gbptree/dbms/index/kv"
	"github.com/btree-query-bench/gbptree/dbms/index/lsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	require.NoError(t, cmd.ExecuteContext(context.Background()), "gbptree %v", args)
	return out.String()
}

func TestCommands_LoadScanCheckDot(t *testing.T) {
	for _, layout := range []string{"sorted", "indirect"} {
		t.Run(layout, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cli.gbp")

			out := run(t, "--index", path, "--layout", layout, "load", "-n", "500", "--value-size", "32")
			assert.Contains(t, out, "loaded 500 keys")

			assert.Equal(t, "ok\n", run(t, "--index", path, "check"))

			lines := strings.Split(strings.TrimSpace(run(t, "--index", path, "scan", "--from", "10", "--to", "13")), "\n")
			require.Len(t, lines, 3)
			assert.True(t, strings.HasPrefix(lines[0], "10\t5858"))

			dot := run(t, "--index", path, "dot")
			assert.True(t, strings.HasPrefix(dot, "digraph BPTree {"))
		})
	}
}

func TestCommands_Bench(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
bench:
  keys: 2000
  readers: 2
  range_scans: 10
  output_dir: `+dir+`
logging:
  level: error
`)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "bench"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	f, err := os.Open(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, csvHeader, rows[0])
	assert.Len(t, rows, 1+2*5)

	info, err := os.Stat(filepath.Join(dir, "latency.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestCommands_RejectBadFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--layout", "hashed", "check"})
	assert.Error(t, cmd.Execute())
}

func TestExecuteConcurrent(t *testing.T) {
	dir := t.TempDir()
	opts := kv.DefaultOptions()
	opts.Index.StoragePageSize = 512
	store, err := kv.Open(filepath.Join(dir, "c.gbp"), opts)
	require.NoError(t, err)
	defer store.Close()
	db, err := lsm.Open(filepath.Join(dir, "pebble"), lsm.Options{MemTableSize: 1 << 20, InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	wl := workload{keySpace: 1000, rangeWidth: 20, value: []byte("value")}
	for _, idx := range []index.Index{store, db} {
		for k := int64(0); k < wl.keySpace; k += 2 {
			require.NoError(t, idx.Insert(k, wl.value))
		}
		reads, err := ExecuteConcurrent(context.Background(), idx, 3, 2000, wl, 9)
		require.NoError(t, err)
		assert.Positive(t, reads)

		require.NoError(t, ExecuteWorkload(idx, OLTP, 200, wl, rand.New(rand.NewSource(1))))
		require.NoError(t, ExecuteWorkload(idx, Reporting, 20, wl, rand.New(rand.NewSource(2))))
		assert.Error(t, ExecuteWorkload(idx, WorkloadType("bogus"), 1, wl, rand.New(rand.NewSource(3))))
	}
	require.NoError(t, store.Tree().CheckConsistency())
}

func TestPlotLatencies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.png")
	results := []BenchResult{
		{Name: "bptree", Operation: "Workload_OLTP", LatencyNs: 900},
		{Name: "lsm", Operation: "Workload_OLTP", LatencyNs: 1200},
		{Name: "bptree", Operation: "Workload_Range", LatencyNs: 5000},
	}
	require.NoError(t, plotLatencies(results, path))
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Error(t, plotLatencies(nil, path))
}

func TestRunSuite(t *testing.T) {
	db, err := lsm.Open("mem", lsm.Options{MemTableSize: 1 << 20, InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	cfg := DefaultConfig().Bench
	cfg.Keys = 500
	cfg.RangeScans = 0
	results, err := runSuite(context.Background(), "lsm", "mem", db, cfg, zap.NewNop())
	require.NoError(t, err)
	ops := make([]string, len(results))
	for i, r := range results {
		ops[i] = r.Operation
	}
	assert.Equal(t, []string{"Footprint_SteadyState", "Workload_OLTP", "Workload_OLAP", "Workload_ConcurrentRead"}, ops)
}
