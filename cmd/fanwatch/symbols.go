//go:build linux
// +build linux

package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/fanwatch/fanotify/internal/sidebar"
	"github.com/google/subcommands"
)

// Symbols implements subcommands.Command for the "symbols" command.
type Symbols struct {
	format string
}

// Name implements subcommands.Command.
func (*Symbols) Name() string {
	return "symbols"
}

// Synopsis implements subcommands.Command.
func (*Symbols) Synopsis() string {
	return "print the symbol index of the fanotify binding"
}

// Usage implements subcommands.Command.
func (*Symbols) Usage() string {
	return `symbols [-format json|script]
`
}

// SetFlags implements subcommands.Command.
func (s *Symbols) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", "json", "output format: json or script.")
}

// Execute implements subcommands.Command.Execute.
func (s *Symbols) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	ix := sidebar.Fanotify()
	if err := ix.Validate(); err != nil {
		fatalf("invalid symbol index: %v", err)
	}
	switch s.format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ix); err != nil {
			fatalf("%v", err)
		}
	case "script":
		if err := ix.WriteScript(os.Stdout); err != nil {
			fatalf("%v", err)
		}
		os.Stdout.WriteString("\n")
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	return subcommands.ExitSuccess
}
