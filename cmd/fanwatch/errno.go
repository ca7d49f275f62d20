//go:build linux
// +build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/fanwatch/fanotify"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
)

// maxErrno bounds the search for an errno by name.
const maxErrno = 255

// Errno implements subcommands.Command for the "errno" command.
type Errno struct {
	op string
}

// Name implements subcommands.Command.
func (*Errno) Name() string {
	return "errno"
}

// Synopsis implements subcommands.Command.
func (*Errno) Synopsis() string {
	return "explain what an errno means for a fanotify call"
}

// Usage implements subcommands.Command.
func (*Errno) Usage() string {
	return `errno -op init|mark|read|write|close <ERRNO|number>
`
}

// SetFlags implements subcommands.Command.
func (e *Errno) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.op, "op", "init", "the call that failed: init, mark, read, write or close.")
}

var ops = map[string]fanotify.Op{
	"init":  fanotify.OpInit,
	"mark":  fanotify.OpMark,
	"read":  fanotify.OpRead,
	"write": fanotify.OpWrite,
	"close": fanotify.OpClose,
}

func parseErrno(s string) (unix.Errno, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return unix.Errno(n), nil
	}
	for i := 1; i <= maxErrno; i++ {
		if unix.ErrnoName(unix.Errno(i)) == s {
			return unix.Errno(i), nil
		}
	}
	return 0, fmt.Errorf("unknown errno %q", s)
}

// Execute implements subcommands.Command.Execute.
func (e *Errno) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	op, ok := ops[e.op]
	if !ok || f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	errno, err := parseErrno(f.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(&fanotify.Error{Op: op, Errno: errno})
	return subcommands.ExitSuccess
}
