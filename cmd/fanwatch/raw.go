//go:build linux
// +build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fanwatch/fanotify"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds how long raw waits before checking for cancellation.
const pollTimeoutMs = 500

// Raw implements subcommands.Command for the "raw" command. It drives the
// raw Init/Mark/Read/Close calls directly and prints every open event.
type Raw struct {
	path      string
	mount     bool
	bufferLen int
}

// Name implements subcommands.Command.
func (*Raw) Name() string {
	return "raw"
}

// Synopsis implements subcommands.Command.
func (*Raw) Synopsis() string {
	return "print open events using the raw fanotify calls"
}

// Usage implements subcommands.Command.
func (*Raw) Usage() string {
	return `raw [flags] - print the metadata of every file opened under -path.
`
}

// SetFlags implements subcommands.Command.
func (r *Raw) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.path, "path", "/", "path to mark.")
	f.BoolVar(&r.mount, "mount", true, "mark the whole mount containing -path.")
	f.IntVar(&r.bufferLen, "buffer-len", fanotify.EventBufferLen, "number of events read at once.")
}

// Execute implements subcommands.Command.Execute.
func (r *Raw) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	fanotify.EventBufferLen = r.bufferLen
	fd, err := fanotify.Init(unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC|unix.FAN_NONBLOCK, unix.O_RDONLY)
	if err != nil {
		fatalf("%v", err)
	}
	defer fanotify.Close(fd)

	flags := uint(unix.FAN_MARK_ADD)
	if r.mount {
		flags |= unix.FAN_MARK_MOUNT
	}
	if err := fanotify.Mark(fd, flags, unix.FAN_OPEN|unix.FAN_EVENT_ON_CHILD, unix.AT_FDCWD, r.path); err != nil {
		fatalf("%v", err)
	}
	logrus.WithField("path", r.path).Info("marked")

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for ctx.Err() == nil {
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err == unix.EINTR || n == 0 {
			continue
		}
		if err != nil {
			logrus.WithError(err).Error("poll failed")
			return subcommands.ExitFailure
		}
		err = fanotify.ReadDo(fd, func(e unix.FanotifyEventMetadata) {
			fmt.Fprintf(os.Stdout, "pid=%d mask=%#x fd=%d\n", e.Pid, e.Mask, e.Fd)
			if e.Fd == unix.FAN_NOFD {
				return
			}
			if err := fanotify.Close(int(e.Fd)); err != nil {
				logrus.WithError(err).Warn("closing event fd")
			}
		})
		if err != nil {
			logrus.WithError(err).Error("read failed")
			return subcommands.ExitFailure
		}
	}
	return subcommands.ExitSuccess
}
