//go:build linux
// +build linux

package fanotify

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Action is a bit set of the filesystem actions a watch is interested in,
// and of the actions reported by an Event.
type Action uint64

const (
	// FileAccessed event when a file is accessed
	FileAccessed Action = unix.FAN_ACCESS

	// FileOrDirectoryAccessed event when a file or directory is accessed
	FileOrDirectoryAccessed Action = unix.FAN_ACCESS | unix.FAN_ONDIR

	// FileModified event when a file is modified
	FileModified Action = unix.FAN_MODIFY

	// FileClosedAfterWrite event when a file is closed
	FileClosedAfterWrite Action = unix.FAN_CLOSE_WRITE

	// FileClosedWithNoWrite event when a file is closed without writing
	FileClosedWithNoWrite Action = unix.FAN_CLOSE_NOWRITE

	// FileClosed event when a file is closed after write or no write
	FileClosed Action = unix.FAN_CLOSE_WRITE | unix.FAN_CLOSE_NOWRITE

	// FileOpened event when a file is opened
	// BUG Using FileOpened flag with any OrDirectory actions
	// causes an event flood and complete stoppage of events. The flag
	// can be used with other file only flags or by itself
	// without any errors/issues.
	FileOpened Action = unix.FAN_OPEN

	// FileOrDirectoryOpened event when a file or directory is opened
	// BUG Using FileOrDirectoryOpened causes an event flood and complete
	// stoppage of events. The flag by itself without any errors/issues.
	FileOrDirectoryOpened Action = unix.FAN_OPEN | unix.FAN_ONDIR

	// FileOpenedForExec event when a file is opened with the intent to be executed.
	// Requires Linux kernel 5.0 or later
	FileOpenedForExec Action = unix.FAN_OPEN_EXEC

	// FileAttribChanged event when a file attribute has changed
	// Requires Linux kernel 5.1 or later (requires FID)
	FileAttribChanged Action = unix.FAN_ATTRIB

	// FileOrDirectoryAttribChanged event when a file or directory attribute has changed
	// Requires Linux kernel 5.1 or later (requires FID)
	FileOrDirectoryAttribChanged Action = unix.FAN_ATTRIB | unix.FAN_ONDIR

	// FileCreated event when file a has been created
	// Requires Linux kernel 5.1 or later (requires FID)
	// BUG FileCreated does not work with FileClosed, FileClosedAfterWrite or FileClosedWithNoWrite
	FileCreated Action = unix.FAN_CREATE

	// FileOrDirectoryCreated event when a file or directory has been created
	// Requires Linux kernel 5.1 or later (requires FID)
	FileOrDirectoryCreated Action = unix.FAN_CREATE | unix.FAN_ONDIR

	// FileDeleted event when file a has been deleted
	// Requires Linux kernel 5.1 or later (requires FID)
	FileDeleted Action = unix.FAN_DELETE

	// FileOrDirectoryDeleted event when a file or directory has been deleted
	// Requires Linux kernel 5.1 or later (requires FID)
	FileOrDirectoryDeleted Action = unix.FAN_DELETE | unix.FAN_ONDIR

	// WatchedFileDeleted event when a watched file has been deleted
	// Requires Linux kernel 5.1 or later (requires FID)
	WatchedFileDeleted Action = unix.FAN_DELETE_SELF

	// WatchedFileOrDirectoryDeleted event when a watched file or directory has been deleted
	// Requires Linux kernel 5.1 or later (requires FID)
	WatchedFileOrDirectoryDeleted Action = unix.FAN_DELETE_SELF | unix.FAN_ONDIR

	// FileMovedFrom event when a file has been moved from the watched directory
	// Requires Linux kernel 5.1 or later (requires FID)
	FileMovedFrom Action = unix.FAN_MOVED_FROM

	// FileOrDirectoryMovedFrom event when a file or directory has been moved from the watched directory
	// Requires Linux kernel 5.1 or later (requires FID)
	FileOrDirectoryMovedFrom Action = unix.FAN_MOVED_FROM | unix.FAN_ONDIR

	// FileMovedTo event when a file has been moved to the watched directory
	// Requires Linux kernel 5.1 or later (requires FID)
	FileMovedTo Action = unix.FAN_MOVED_TO

	// FileOrDirectoryMovedTo event when a file or directory has been moved to the watched directory
	// Requires Linux kernel 5.1 or later (requires FID)
	FileOrDirectoryMovedTo Action = unix.FAN_MOVED_TO | unix.FAN_ONDIR

	// WatchedFileMoved event when a watched file has moved
	// Requires Linux kernel 5.1 or later (requires FID)
	WatchedFileMoved Action = unix.FAN_MOVE_SELF

	// WatchedFileOrDirectoryMoved event when a watched file or directory has moved
	// Requires Linux kernel 5.1 or later (requires FID)
	WatchedFileOrDirectoryMoved Action = unix.FAN_MOVE_SELF | unix.FAN_ONDIR
)

// actionBits lists the single-bit actions in the order String prints them.
var actionBits = []struct {
	action Action
	name   string
}{
	{FileAccessed, "FileAccessed"},
	{FileModified, "FileModified"},
	{FileAttribChanged, "FileAttribChanged"},
	{FileClosedAfterWrite, "FileClosedAfterWrite"},
	{FileClosedWithNoWrite, "FileClosedWithNoWrite"},
	{FileOpened, "FileOpened"},
	{FileMovedFrom, "FileMovedFrom"},
	{FileMovedTo, "FileMovedTo"},
	{FileCreated, "FileCreated"},
	{FileDeleted, "FileDeleted"},
	{WatchedFileDeleted, "WatchedFileDeleted"},
	{WatchedFileMoved, "WatchedFileMoved"},
	{FileOpenedForExec, "FileOpenedForExec"},
	{unix.FAN_ONDIR, "OnDirectory"},
}

var actionsByName = map[string]Action{
	"FileAccessed":                  FileAccessed,
	"FileOrDirectoryAccessed":       FileOrDirectoryAccessed,
	"FileModified":                  FileModified,
	"FileClosedAfterWrite":          FileClosedAfterWrite,
	"FileClosedWithNoWrite":         FileClosedWithNoWrite,
	"FileClosed":                    FileClosed,
	"FileOpened":                    FileOpened,
	"FileOrDirectoryOpened":         FileOrDirectoryOpened,
	"FileOpenedForExec":             FileOpenedForExec,
	"FileAttribChanged":             FileAttribChanged,
	"FileOrDirectoryAttribChanged":  FileOrDirectoryAttribChanged,
	"FileCreated":                   FileCreated,
	"FileOrDirectoryCreated":        FileOrDirectoryCreated,
	"FileDeleted":                   FileDeleted,
	"FileOrDirectoryDeleted":        FileOrDirectoryDeleted,
	"WatchedFileDeleted":            WatchedFileDeleted,
	"WatchedFileOrDirectoryDeleted": WatchedFileOrDirectoryDeleted,
	"FileMovedFrom":                 FileMovedFrom,
	"FileOrDirectoryMovedFrom":      FileOrDirectoryMovedFrom,
	"FileMovedTo":                   FileMovedTo,
	"FileOrDirectoryMovedTo":        FileOrDirectoryMovedTo,
	"WatchedFileMoved":              WatchedFileMoved,
	"WatchedFileOrDirectoryMoved":   WatchedFileOrDirectoryMoved,
}

// ParseAction returns the action named by one of the exported action constants.
func ParseAction(name string) (Action, error) {
	if a, ok := actionsByName[name]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("unknown action %q", name)
}

// Has returns true if actions contains all the bits of a.
func (actions Action) Has(a Action) bool {
	return actions&a == a
}

// Or appends the specified action to the set of actions to watch for.
func (actions Action) Or(a Action) Action {
	return actions | a
}

// String prints the names of the set bits joined by "|".
func (actions Action) String() string {
	var names []string
	rest := actions
	for _, b := range actionBits {
		if actions.Has(b.action) {
			names = append(names, b.name)
			rest &^= b.action
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint64(rest)))
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

// minimum kernel version for actions that are not available everywhere.
var actionKernelVersion = []struct {
	action   Action
	maj, min int
}{
	{FileOpenedForExec, 5, 0},
	{FileAttribChanged, 5, 1},
	{FileCreated, 5, 1},
	{FileDeleted, 5, 1},
	{WatchedFileDeleted, 5, 1},
	{FileMovedFrom, 5, 1},
	{FileMovedTo, 5, 1},
	{WatchedFileMoved, 5, 1},
}

func checkActionsKernelSupport(actions Action, maj, min int) bool {
	for _, v := range actionKernelVersion {
		if actions&v.action != 0 && !kernelAtLeast(maj, min, v.maj, v.min) {
			return false
		}
	}
	return true
}
