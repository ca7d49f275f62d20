// Package fanotify provides a Go binding to the Linux fanotify API.
//
// Two layers are offered. The raw layer mirrors the system calls: Init creates
// a notification group, Mark adds or removes marks, Read reads a buffer of
// event metadata (sized by EventBufferLen), Respond answers permission events
// and Close releases descriptors. Failures are reported as *Error, which
// carries the errno and its meaning for the call that failed.
//
// The Listener builds on the raw layer to monitor a filesystem for events.
// It is initialized with flags automatically based on the kernel version. The
// actions passed to AddWatch are checked against the kernel version.
//
// fanotify system has features spanning different kernel versions:
//   - For Linux kernel version 5.0 and earlier no additional information about the underlying filesystem object is available.
//   - For Linux kernel versions 5.1 to 5.8 additional information about the underlying filesystem object is correlated to an event.
//   - For Linux kernel version 5.9 or later the modified file name is made available in the event.
package fanotify
