// Command stmbench exercises the swisstm-style transaction engine from
// the outside: a hammer-test subcommand that runs concurrent
// conservative-transfer workers and checks the invariant holds, and a
// serve subcommand that exposes the process's commit/abort counters as
// Prometheus metrics. Only the hammer workload updates those counters;
// serve runs no transactions of its own.
package main

func main() {
	execute()
}
