//go:build linux
// +build linux

package fanotify

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/moby/sys/capability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var kernelVersionRe = regexp.MustCompile(`([0-9]+)`)

// returns major, minor, patch version of the kernel
// upon error the values are zero and the error
// indicates the reason for failure
func kernelVersion() (maj, min, patch int, err error) {
	var sysinfo unix.Utsname
	err = unix.Uname(&sysinfo)
	if err != nil {
		return
	}
	return parseKernelRelease(unix.ByteSliceToString(sysinfo.Release[:]))
}

func parseKernelRelease(release string) (maj, min, patch int, err error) {
	version := kernelVersionRe.FindAllString(release, 3)
	if len(version) < 2 {
		return 0, 0, 0, fmt.Errorf("cannot parse kernel release %q", release)
	}
	if maj, err = strconv.Atoi(version[0]); err != nil {
		return
	}
	if min, err = strconv.Atoi(version[1]); err != nil {
		return
	}
	if len(version) > 2 {
		if patch, err = strconv.Atoi(version[2]); err != nil {
			return
		}
	}
	return maj, min, patch, nil
}

func kernelAtLeast(maj, min, wantMaj, wantMin int) bool {
	return maj > wantMaj || (maj == wantMaj && min >= wantMin)
}

// return true if process has CAP_SYS_ADMIN privilege
// else return false
func checkCapSysAdmin() (bool, error) {
	capabilities, err := capability.NewPid2(os.Getpid())
	if err != nil {
		return false, err
	}
	if err := capabilities.Load(); err != nil {
		return false, err
	}
	capSysAdmin := capabilities.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN)
	return capSysAdmin, nil
}

func flagsValid(flags uint) error {
	isSet := func(n, k uint) bool {
		return n&k == k
	}
	class := flags & (unix.FAN_CLASS_NOTIF | unix.FAN_CLASS_CONTENT | unix.FAN_CLASS_PRE_CONTENT)
	if isSet(flags, unix.FAN_REPORT_FID) && class == unix.FAN_CLASS_CONTENT {
		return errors.New("FAN_REPORT_FID cannot be set with FAN_CLASS_CONTENT")
	}
	if isSet(flags, unix.FAN_REPORT_FID) && class == unix.FAN_CLASS_PRE_CONTENT {
		return errors.New("FAN_REPORT_FID cannot be set with FAN_CLASS_PRE_CONTENT")
	}
	if isSet(flags, unix.FAN_REPORT_NAME) {
		if !isSet(flags, unix.FAN_REPORT_DIR_FID) {
			return errors.New("FAN_REPORT_NAME must be set with FAN_REPORT_DIR_FID")
		}
	}
	return nil
}

// Check if specified flags are supported for the given
// kernel version. If none of the gated flags are specified
// then the basic option works on any kernel version.
func checkFlagsKernelSupport(flags uint, maj, min int) bool {
	var flagPerKernelVersion = []struct {
		flag     uint
		maj, min int
	}{
		{unix.FAN_ENABLE_AUDIT, 4, 15},
		{unix.FAN_REPORT_FID, 5, 1},
		{unix.FAN_REPORT_DIR_FID, 5, 9},
		{unix.FAN_REPORT_NAME, 5, 9},
	}
	for _, v := range flagPerKernelVersion {
		if flags&v.flag == v.flag && !kernelAtLeast(maj, min, v.maj, v.min) {
			return false
		}
	}
	return true
}

func newListener(mountpointPath string, flags, eventFlags, maxEvents uint) (*Listener, error) {
	maj, min, _, err := kernelVersion()
	if err != nil {
		return nil, err
	}
	if err := flagsValid(flags); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlagCombination, err)
	}
	if !checkFlagsKernelSupport(flags, maj, min) {
		return nil, fmt.Errorf("%w: init flags %#x on kernel %d.%d", ErrUnsupportedOnKernelVersion, flags, maj, min)
	}
	mountpoint, err := os.Open(mountpointPath)
	if err != nil {
		return nil, fmt.Errorf("error opening mountpoint %s: %w", mountpointPath, err)
	}
	fd, err := Init(flags, eventFlags)
	if err != nil {
		mountpoint.Close()
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		Close(fd)
		mountpoint.Close()
		return nil, fmt.Errorf("error creating stopper pipe: %w", err)
	}
	listener := &Listener{
		fd:                 fd,
		flags:              flags,
		mountpoint:         mountpoint,
		kernelMajorVersion: maj,
		kernelMinorVersion: min,
		watches:            make(map[string]Action),
		buf:                make([]byte, 4096*sizeOfFanotifyEventMetadata),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		log:                logrus.WithField("mountpoint", mountpointPath),
		Events:             make(chan Event, maxEvents),
	}
	listener.stopper.r = r
	listener.stopper.w = w
	return listener, nil
}
