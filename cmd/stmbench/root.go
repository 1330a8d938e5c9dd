package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stmbench",
	Short: "Benchmark and exercise the swisstm-style transaction engine",
	Long: `stmbench drives the transaction engine under github.com/go-swisstm/stm
outside of a test binary: hammer runs a concurrent conservative-transfer
workload and checks the transferred total is conserved, serve exposes
the process's commit/abort counters as Prometheus metrics (serve runs no
transactions itself, so only hammer workloads in the same process move
them).`,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
