// Package cmd implements the command-line interface of prometheus, the data
// layer of the Pyro community bot.
//
// The package is organized into several subpackages:
//
//   - serve: Runs the stores, the background tasks and the admin endpoint
//   - db: Offline tools working on the store files (dump, verify, convert, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through the environment as PROMETHEUS_<FLAG>,
// e.g. PROMETHEUS_DATA_DIR=/var/lib/bot. See prometheus -help for a list of all
// commands.
package cmd
