package main

import (
	"context"
	"math/rand"
	"sync/atomic"

	"github.com/btree-query-bench/gbptree/dbms/index"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

type WorkloadType string

const (
	OLTP      WorkloadType = "OLTP (90/10)"
	OLAP      WorkloadType = "OLAP (10/90)"
	Reporting WorkloadType = "Reporting (Range)"
)

// workload is the shape of the generated operations.
type workload struct {
	keySpace   int64
	rangeWidth int64
	value      []byte
}

// ExecuteWorkload runs a mixed distribution of ops on the calling goroutine.
func ExecuteWorkload(idx index.Index, wType WorkloadType, ops int, wl workload, rng *rand.Rand) error {
	for i := 0; i < ops; i++ {
		choice := rng.Intn(100)
		key := rng.Int63n(wl.keySpace)

		var err error
		switch wType {
		case OLTP:
			if choice < 90 {
				_, err = idx.Get(key)
			} else {
				err = idx.Insert(key, wl.value)
			}
		case OLAP:
			if choice < 10 {
				_, err = idx.Get(key)
			} else {
				err = idx.Insert(key, wl.value)
			}
		case Reporting:
			_, err = scan(idx, key, key+wl.rangeWidth)
		default:
			return errors.Newf("workload: unknown type %q", wType)
		}
		if err != nil {
			return errors.Wrapf(err, "workload %s op %d", wType, i)
		}
	}
	return nil
}

// ExecuteConcurrent runs writes inserts on one goroutine while readers
// goroutines run point lookups and range scans until the writer is done.
// It returns the number of read operations completed.
func ExecuteConcurrent(ctx context.Context, idx index.Index, readers, writes int, wl workload, seed int64) (int64, error) {
	g, ctx := errgroup.WithContext(ctx)
	var (
		done  atomic.Bool
		reads atomic.Int64
	)

	g.Go(func() error {
		defer done.Store(true)
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < writes; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := idx.Insert(rng.Int63n(wl.keySpace), wl.value); err != nil {
				return errors.Wrap(err, "concurrent insert")
			}
		}
		return nil
	})
	for r := 0; r < readers; r++ {
		rng := rand.New(rand.NewSource(seed + int64(r) + 1))
		g.Go(func() error {
			for !done.Load() {
				if err := ctx.Err(); err != nil {
					return err
				}
				key := rng.Int63n(wl.keySpace)
				var err error
				if rng.Intn(10) == 0 {
					_, err = scan(idx, key, key+wl.rangeWidth)
				} else {
					_, err = idx.Get(key)
				}
				if err != nil {
					return errors.Wrap(err, "concurrent read")
				}
				reads.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return reads.Load(), err
}

// scan drains the range [from, to) and returns the number of entries.
func scan(idx index.Index, from, to int64) (int, error) {
	it, err := idx.Range(from, to)
	if err != nil {
		return 0, err
	}
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		_ = it.Close()
		return n, err
	}
	return n, it.Close()
}
