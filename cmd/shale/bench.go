// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

var (
	benchConcurrency int
	benchOps         uint64
	benchValueSize   int
	benchSeed        uint64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "benchmarks",
}

var benchWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "run a random-key write benchmark",
	Args:  cobra.NoArgs,
	RunE:  runBenchWrite,
}

func runBenchWrite(cmd *cobra.Command, args []string) error {
	d, err := openDB()
	if err != nil {
		return err
	}
	defer d.Close()

	// Latencies from 1us to 100s, recorded to 3 significant figures.
	hist := hdrhistogram.New(1, 100*time.Second.Microseconds(), 3)
	var histMu sync.Mutex

	opts := writeOpts()
	start := time.Now()

	var g errgroup.Group
	for i := 0; i < benchConcurrency; i++ {
		rng := rand.New(rand.NewSource(benchSeed + uint64(i)))
		g.Go(func() error {
			key := make([]byte, 24)
			value := make([]byte, benchValueSize)
			local := hdrhistogram.New(1, 100*time.Second.Microseconds(), 3)
			for n := uint64(0); n < benchOps; n++ {
				binary.BigEndian.PutUint64(key[16:], rng.Uint64())
				rng.Read(value)
				opStart := time.Now()
				if err := d.Set(key, value, opts); err != nil {
					return err
				}
				_ = local.RecordValue(time.Since(opStart).Microseconds())
			}
			histMu.Lock()
			hist.Merge(local)
			histMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	totalOps := benchOps * uint64(benchConcurrency)
	fmt.Fprintf(os.Stdout, "wrote %d keys in %.1fs (%.0f ops/sec)\n",
		totalOps, elapsed.Seconds(), float64(totalOps)/elapsed.Seconds())
	fmt.Fprintf(os.Stdout, "latency (us): p50=%d p95=%d p99=%d max=%d\n",
		hist.ValueAtQuantile(50), hist.ValueAtQuantile(95),
		hist.ValueAtQuantile(99), hist.Max())
	return nil
}
