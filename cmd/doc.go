// Package cmd implements the command-line interface of dStudy.
//
// The package is organized into several subpackages:
//
//   - run: Optimizes a demo study and replicates it into a destination
//   - show: Prints the studies and trials stored in a destination
//   - util: Shared utilities for flags, configuration and opening destinations (internal use)
//
// See dstudy -help for a list of all commands.
package cmd
