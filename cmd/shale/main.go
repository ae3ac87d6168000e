// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Command shale is an introspection and benchmarking tool for shale
// databases.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	dbDir   string
	noSync  bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "shale [command] (flags)",
	Short: "shale benchmarking/introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		getCmd,
		setCmd,
		delCmd,
		scanCmd,
		compactCmd,
		lsmCmd,
		benchCmd,
	)
	rootCmd.PersistentFlags().StringVarP(
		&dbDir, "db", "d", "", "database directory")
	rootCmd.PersistentFlags().BoolVar(
		&noSync, "no-sync", false, "do not sync WAL writes")
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable verbose event logging")

	scanCmd.Flags().StringVar(
		&scanStart, "start", "", "start key (inclusive)")
	scanCmd.Flags().StringVar(
		&scanEnd, "end", "", "end key (exclusive)")
	scanCmd.Flags().IntVarP(
		&scanCount, "count", "n", 0, "maximum number of rows to print (0, unlimited)")
	scanCmd.Flags().BoolVarP(
		&scanReverse, "reverse", "r", false, "reverse scan")

	benchCmd.AddCommand(benchWriteCmd)
	benchWriteCmd.Flags().IntVarP(
		&benchConcurrency, "concurrency", "c", 1, "number of concurrent workers")
	benchWriteCmd.Flags().Uint64VarP(
		&benchOps, "num-ops", "n", 100000, "number of write operations per worker")
	benchWriteCmd.Flags().IntVar(
		&benchValueSize, "value", 100, "size of values to write")
	benchWriteCmd.Flags().Uint64Var(
		&benchSeed, "seed", 1, "random seed for key generation")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
