//go:build linux
// +build linux

package fanotify

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// EventBufferLen is the number of fanotify_event_metadata records the buffer
// allocated by Read can hold. Values below 1 are treated as 1. It is read on
// every call to Read and must not be changed concurrently with it.
var EventBufferLen = 250

// Path is anything that converts to a pathname for Mark. It is a plain byte
// string handed to the kernel, not a path/filepath value; no cleaning is done.
type Path interface {
	~string | ~[]byte
}

// Init initializes a new fanotify group and returns the file descriptor of its
// event queue.
//
// The descriptor is passed to Mark to select the files, directories, mounts or
// filesystems for which events are created. Events are received by reading
// from it with Read. Permission events are answered with Respond.
//
// flags holds the notification class (FAN_CLASS_*) and behavior bits such as
// FAN_CLOEXEC, FAN_NONBLOCK or FAN_REPORT_FID. eventFFlags are the open(2)
// flags of the file descriptors created for each event.
//
// The number of groups per user is limited to 128 and the call requires
// CAP_SYS_ADMIN.
func Init(flags, eventFFlags uint) (int, error) {
	fd, err := unix.FanotifyInit(flags, eventFFlags)
	if err != nil {
		return -1, newError(OpInit, err)
	}
	return fd, nil
}

// Mark adds, removes, or modifies a mark on a filesystem object. The caller
// must have read permission on the object being marked.
//
// The object is determined by dirfd and path:
//   - If path is empty, dirfd itself is marked; with AT_FDCWD that is the
//     current working directory.
//   - If path is absolute, dirfd is ignored.
//   - If path is relative, it is interpreted relative to dirfd, or relative to
//     the current working directory when dirfd is AT_FDCWD.
func Mark[P Path](fd int, flags uint, mask uint64, dirfd int, path P) error {
	if err := unix.FanotifyMark(fd, flags, mask, dirfd, string(path)); err != nil {
		return newError(OpMark, err)
	}
	return nil
}

// Read reads one buffer worth of events from the group fd. The buffer holds
// EventBufferLen metadata records. When the descriptor is non-blocking and no
// events are queued an empty slice is returned.
//
// Each returned record that carries an Fd other than FAN_NOFD owns that file
// descriptor; release it with Close.
func Read(fd int) ([]unix.FanotifyEventMetadata, error) {
	n := EventBufferLen
	if n < 1 {
		n = 1
	}
	buf := make([]byte, n*int(sizeOfFanotifyEventMetadata))
	for {
		nr, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return []unix.FanotifyEventMetadata{}, nil
		}
		if err != nil {
			return nil, newError(OpRead, err)
		}
		records, err := parseEvents(buf[:nr])
		if err != nil {
			for _, r := range records {
				if r.meta.Fd != unix.FAN_NOFD {
					unix.Close(int(r.meta.Fd))
				}
			}
			return nil, err
		}
		events := make([]unix.FanotifyEventMetadata, 0, len(records))
		for _, r := range records {
			events = append(events, r.meta)
		}
		return events, nil
	}
}

// ReadDo reads one buffer of events and calls fn for each of them in order.
func ReadDo(fd int, fn func(unix.FanotifyEventMetadata)) error {
	events, err := Read(fd)
	if err != nil {
		return err
	}
	for _, e := range events {
		fn(e)
	}
	return nil
}

// Respond answers a permission event read from a FAN_CLASS_CONTENT or
// FAN_CLASS_PRE_CONTENT group.
func Respond(fd int, eventFd int32, allow bool) error {
	resp := unix.FanotifyResponse{Fd: eventFd, Response: unix.FAN_DENY}
	if allow {
		resp.Response = unix.FAN_ALLOW
	}
	var b bytes.Buffer
	if err := binary.Write(&b, binary.NativeEndian, &resp); err != nil {
		return err
	}
	if _, err := unix.Write(fd, b.Bytes()); err != nil {
		return newError(OpWrite, err)
	}
	return nil
}

// Close closes a group fd returned by Init or an event fd returned by Read.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return newError(OpClose, err)
	}
	return nil
}
