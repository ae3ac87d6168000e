// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"fmt"
	"os"

	"github.com/shaledb/shale"
	"github.com/shaledb/shale/bloom"
	"github.com/spf13/cobra"
)

func openDB() (*shale.DB, error) {
	if dbDir == "" {
		return nil, fmt.Errorf("--db is required")
	}
	opts := &shale.Options{
		FilterPolicy: bloom.FilterPolicy(10),
	}
	if verbose {
		opts.EventListener = shale.MakeLoggingEventListener(nil)
	}
	return shale.Open(dbDir, opts)
}

func writeOpts() *shale.WriteOptions {
	if noSync {
		return shale.NoSync
	}
	return shale.Sync
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "print the value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()
		v, err := d.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\n", v)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "set a key to a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()
		return d.Set([]byte(args[0]), []byte(args[1]), writeOpts())
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()
		return d.Delete([]byte(args[0]), writeOpts())
	},
}

var (
	scanStart   string
	scanEnd     string
	scanCount   int
	scanReverse bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "print keys and values in key order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		var iterOpts shale.IterOptions
		if scanStart != "" {
			iterOpts.LowerBound = []byte(scanStart)
		}
		if scanEnd != "" {
			iterOpts.UpperBound = []byte(scanEnd)
		}
		iter := d.NewIter(&iterOpts)
		n := 0
		if scanReverse {
			for valid := iter.Last(); valid; valid = iter.Prev() {
				if scanCount > 0 && n >= scanCount {
					break
				}
				fmt.Fprintf(os.Stdout, "%s: %s\n", iter.Key(), iter.Value())
				n++
			}
		} else {
			for valid := iter.First(); valid; valid = iter.Next() {
				if scanCount > 0 && n >= scanCount {
					break
				}
				fmt.Fprintf(os.Stdout, "%s: %s\n", iter.Key(), iter.Value())
				n++
			}
		}
		return iter.Close()
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "manually compact the whole database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		// Determine the key bounds of the stored data.
		iter := d.NewIter(nil)
		if !iter.First() {
			return iter.Close()
		}
		start := append([]byte(nil), iter.Key()...)
		iter.Last()
		end := append([]byte(nil), iter.Key()...)
		if err := iter.Close(); err != nil {
			return err
		}
		return d.Compact(start, end)
	},
}

var lsmCmd = &cobra.Command{
	Use:   "lsm",
	Short: "print the per-level table metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()
		fmt.Fprint(os.Stdout, d.Metrics().String())
		return nil
	},
}
