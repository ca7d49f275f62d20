//go:build linux
// +build linux

package fanotify

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Op identifies the raw call that produced an Error.
type Op int

const (
	// OpInit is fanotify_init(2)
	OpInit Op = iota
	// OpMark is fanotify_mark(2)
	OpMark
	// OpRead is read(2) on the notification group
	OpRead
	// OpWrite is write(2) of a permission response
	OpWrite
	// OpClose is close(2) of the group or an event fd
	OpClose
)

func (op Op) String() string {
	switch op {
	case OpInit:
		return "fanotify_init"
	case OpMark:
		return "fanotify_mark"
	case OpRead:
		return "fanotify_read"
	case OpWrite:
		return "fanotify_write"
	case OpClose:
		return "fanotify_close"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Error is returned by the raw calls. It carries the errno and which call failed
// so the man page explanation for that call can be looked up.
type Error struct {
	Op    Op
	Errno unix.Errno
}

func newError(op Op, err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return &Error{Op: op, Errno: errno}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Errno, e.Description())
}

// Unwrap returns the errno so callers can match with errors.Is(err, unix.EPERM).
func (e *Error) Unwrap() error {
	return e.Errno
}

// Description explains what the errno means for the failed call.
func (e *Error) Description() string {
	var table map[unix.Errno]string
	switch e.Op {
	case OpInit:
		table = initErrors
	case OpMark:
		table = markErrors
	case OpRead:
		table = readErrors
	case OpWrite:
		table = writeErrors
	case OpClose:
		table = closeErrors
	}
	if desc, ok := table[e.Errno]; ok {
		return desc
	}
	return "unknown error"
}

var initErrors = map[unix.Errno]string{
	unix.EINVAL: "an invalid value was passed in flags or event_f_flags",
	unix.EMFILE: "the number of fanotify groups for this user exceeds 128 or the per-process limit on open file descriptors has been reached",
	unix.ENOMEM: "the allocation of memory for the notification group failed",
	unix.ENOSYS: "the kernel does not implement fanotify_init; it requires CONFIG_FANOTIFY",
	unix.EPERM:  "the caller lacks the CAP_SYS_ADMIN capability",
}

var markErrors = map[unix.Errno]string{
	unix.EBADF:      "an invalid file descriptor was passed in fd, or pathname is relative and dirfd is neither AT_FDCWD nor a valid file descriptor",
	unix.EINVAL:     "an invalid value was passed in flags or mask, or fd is not an fanotify file descriptor, or a permission event was requested on a group that is FAN_CLASS_NOTIF or reports file handles",
	unix.ENODEV:     "the filesystem object is not associated with a filesystem that supports fsid; returned only for groups that report file handles",
	unix.ENOENT:     "the filesystem object does not exist, or a mark was removed from an object which is not marked",
	unix.ENOMEM:     "the necessary memory could not be allocated",
	unix.ENOSPC:     "the number of marks exceeds the limit of 8192 and FAN_UNLIMITED_MARKS was not passed to fanotify_init",
	unix.ENOSYS:     "the kernel does not implement fanotify_mark; it requires CONFIG_FANOTIFY",
	unix.ENOTDIR:    "flags contains FAN_MARK_ONLYDIR and the path is not a directory",
	unix.EOPNOTSUPP: "the filesystem does not support the encoding of file handles; returned only for groups that report file handles",
	unix.EXDEV:      "the object resides within a filesystem subvolume that uses a different fsid than its root superblock; returned only for groups that report file handles",
}

var readErrors = map[unix.Errno]string{
	unix.EAGAIN: "the descriptor is non-blocking and no events are queued",
	unix.EBADF:  "fd is not a valid file descriptor or is not open for reading",
	unix.EFAULT: "buf is outside the accessible address space",
	unix.EINTR:  "the call was interrupted by a signal before any data was read",
	unix.EINVAL: "the buffer is too small to hold an event",
	unix.EIO:    "a low-level I/O error occurred",
	unix.EISDIR: "fd refers to a directory",
	unix.ENOMEM: "cannot allocate memory for the read buffer",
}

var writeErrors = map[unix.Errno]string{
	unix.EAGAIN: "the descriptor is non-blocking and the write would block",
	unix.EBADF:  "fd is not a valid file descriptor or is not open for writing",
	unix.EFAULT: "buf is outside the accessible address space",
	unix.EINTR:  "the call was interrupted by a signal before any data was written",
	unix.EINVAL: "the response is malformed, or the event fd is not pending a permission decision",
	unix.ENOENT: "no permission event is pending for the event fd",
	unix.EIO:    "a low-level I/O error occurred",
	unix.EPERM:  "the operation was prevented by a file seal",
}

var closeErrors = map[unix.Errno]string{
	unix.EBADF:  "fd is not a valid open file descriptor",
	unix.EINTR:  "the close was interrupted by a signal",
	unix.EIO:    "an I/O error occurred",
	unix.ENOSPC: "a deferred write failed for lack of space (NFS)",
	unix.EDQUOT: "a deferred write failed because the quota was exhausted (NFS)",
}
