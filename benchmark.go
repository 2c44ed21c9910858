package main

import (
	"context"
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/btree-query-bench/gbptree/dbms/index"
	"github.com/btree-query-bench/gbptree/dbms/index/kv"
	"github.com/btree-query-bench/gbptree/dbms/index/lsm"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// BenchResult is one CSV row. Objects tracks GC pressure.
type BenchResult struct {
	Name      string
	Config    string
	Operation string
	LatencyNs int64
	MemMB     uint64
	Objects   uint64
}

var csvHeader = []string{"Structure", "Config", "TestType", "LatencyNs", "MemMB", "HeapObjects"}

type MemoryStats struct {
	AllocMB      uint64
	TotalAllocMB uint64
	HeapObjects  uint64
}

// GetDetailedMem measures live heap after a forced GC.
func GetDetailedMem() MemoryStats {
	var m runtime.MemStats
	// live data only
	runtime.GC()
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		HeapObjects:  m.HeapObjects,
	}
}

// Record writes one result as six CSV columns.
func Record(w *csv.Writer, res BenchResult) error {
	return w.Write([]string{
		res.Name,
		res.Config,
		res.Operation,
		strconv.FormatInt(res.LatencyNs, 10),
		strconv.FormatUint(res.MemMB, 10),
		strconv.FormatUint(res.Objects, 10),
	})
}

// openEngine opens a fresh instance of the named engine under dir.
func openEngine(name string, dir string, cfg Config, logger *zap.Logger, reg prometheus.Registerer) (index.Index, string, error) {
	switch name {
	case "bptree":
		path := filepath.Join(dir, "bench.gbp")
		if err := os.RemoveAll(path); err != nil {
			return nil, "", errors.Wrap(err, "bench: reset bptree file")
		}
		store, err := kv.Open(path, cfg.Index.kvOptions(logger, reg))
		if err != nil {
			return nil, "", err
		}
		conf := cfg.Index.NodeLayout + "/" + strconv.Itoa(cfg.Index.StoragePageSize)
		return store, conf, nil
	case "lsm":
		path := filepath.Join(dir, "pebble")
		if err := os.RemoveAll(path); err != nil {
			return nil, "", errors.Wrap(err, "bench: reset pebble directory")
		}
		opts := lsm.DefaultOptions()
		db, err := lsm.Open(path, opts)
		if err != nil {
			return nil, "", err
		}
		return db, "memtable/" + strconv.FormatUint(opts.MemTableSize>>20, 10) + "MB", nil
	default:
		return nil, "", errors.Newf("bench: unknown engine %q", name)
	}
}

// runSuite loads cfg.Bench.Keys keys into idx and runs the workloads
// against it, returning one result per phase.
func runSuite(ctx context.Context, name, conf string, idx index.Index, cfg BenchConfig, logger *zap.Logger) ([]BenchResult, error) {
	logger = logger.With(zap.String("engine", name), zap.String("config", conf))
	n := cfg.Keys
	wl := workload{
		keySpace:   int64(n),
		rangeWidth: cfg.RangeWidth,
		value:      make([]byte, cfg.ValueSize),
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	var results []BenchResult
	add := func(op string, elapsed time.Duration, ops int, mem MemoryStats) {
		r := BenchResult{
			Name:      name,
			Config:    conf,
			Operation: op,
			LatencyNs: elapsed.Nanoseconds() / int64(max(ops, 1)),
			MemMB:     mem.AllocMB,
			Objects:   mem.HeapObjects,
		}
		results = append(results, r)
		logger.Info("phase done", zap.String("phase", op), zap.Int64("latency_ns", r.LatencyNs))
	}

	// 1. Pure Insert (Initial Load)
	start := time.Now()
	for k := 0; k < n; k++ {
		if err := idx.Insert(int64(k), wl.value); err != nil {
			return results, errors.Wrapf(err, "load key %d", k)
		}
	}
	add("Footprint_SteadyState", time.Since(start), n, GetDetailedMem())

	// 2. Scenario: OLTP (Read Heavy)
	start = time.Now()
	if err := ExecuteWorkload(idx, OLTP, n/2, wl, rng); err != nil {
		return results, err
	}
	add("Workload_OLTP", time.Since(start), n/2, GetDetailedMem())

	// 3. Scenario: OLAP (Write Heavy)
	start = time.Now()
	if err := ExecuteWorkload(idx, OLAP, n/2, wl, rng); err != nil {
		return results, err
	}
	add("Workload_OLAP", time.Since(start), n/2, GetDetailedMem())

	// 4. Basic: Range Scan
	if cfg.RangeScans > 0 {
		start = time.Now()
		if err := ExecuteWorkload(idx, Reporting, cfg.RangeScans, wl, rng); err != nil {
			return results, err
		}
		add("Workload_Range", time.Since(start), cfg.RangeScans, GetDetailedMem())
	}

	// 5. Readers racing one writer.
	start = time.Now()
	reads, err := ExecuteConcurrent(ctx, idx, cfg.Readers, n/4, wl, cfg.Seed)
	if err != nil {
		return results, err
	}
	add("Workload_ConcurrentRead", time.Since(start), int(reads), GetDetailedMem())
	return results, nil
}
