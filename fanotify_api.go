//go:build linux
// +build linux

package fanotify

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// ErrCapSysAdmin indicates caller is missing CAP_SYS_ADMIN permissions
	ErrCapSysAdmin = errors.New("require CAP_SYS_ADMIN capability")
	// ErrInvalidFlagCombination indicates the bit/combination of flags are invalid
	ErrInvalidFlagCombination = errors.New("invalid flag bits")
	// ErrNilListener indicates the listener is nil
	ErrNilListener = errors.New("nil listener")
	// ErrUnsupportedOnKernelVersion indicates the feature/flag is unavailable for the current kernel version
	ErrUnsupportedOnKernelVersion = errors.New("feature unsupported on current kernel version")
	// ErrNothingToWatch indicates Start was called before any watch was added
	ErrNothingToWatch = errors.New("nothing to watch")
	// ErrListenerStopped indicates the listener was already started or stopped
	ErrListenerStopped = errors.New("listener already started or stopped")

	errListenerStopping = errors.New("listener stopping")
)

// Event represents a notification from the kernel for the file, directory
// or a filesystem marked for watching.
type Event struct {
	// Fd is the open file descriptor for the file/directory being watched.
	// The receiver owns it; release it with Close.
	Fd int
	// Path holds the name of the parent directory
	Path string
	// FileName holds the name of the file under the watched parent. The value is only available
	// when NewListener is created by passing `true` with `withName` argument. The feature is available
	// only with kernels 5.9 or higher.
	FileName string
	// Actions holds bit mask representing the operation
	Actions Action
	// Pid Process ID of the process that caused the event
	Pid int
}

// Close releases the event file descriptor. The zero Event, such as one
// received from a closed Events channel, owns no descriptor.
func (e Event) Close() error {
	if e.Fd <= 0 {
		return nil
	}
	return Close(e.Fd)
}

func (e Event) String() string {
	return fmt.Sprintf("Fd:(%d), Pid:(%d), Action:(%s), Path:(%s), Filename:(%s)", e.Fd, e.Pid, e.Actions, e.Path, e.FileName)
}

const (
	stateIdle = iota
	stateRunning
	stateStopped
)

// Listener represents a fanotify notification group that holds a list of files,
// directories and filesystems under a given mountpoint for which events shall be created.
type Listener struct {
	// fd returned by fanotify_init
	fd int
	// flags passed to fanotify_init
	flags uint
	// mount fd is the file descriptor of the mountpoint
	mountpoint         *os.File
	kernelMajorVersion int
	kernelMinorVersion int
	buf                []byte
	mu                 sync.Mutex
	state              int
	watches            map[string]Action
	stopper            struct {
		r *os.File
		w *os.File
	}
	stop chan struct{}
	done chan struct{}
	log  logrus.FieldLogger
	// Events a buffered channel holding fanotify notifications for the watched file/directory.
	Events chan Event
}

// NewListener returns a fanotify listener from which events
// can be read. Each listener supports listening to events
// under a single mount point.
//
// For cases where multiple mountpoints need to be monitored
// multiple listener instances need to be used.
//
// `mountpointPath` can be any file/directory under the mount point being watched.
// `maxEvents` defines the length of the buffered channel which holds the notifications. The minimum length is 4096.
// `withName` setting this to true populates the file name under the watched parent.
//
// NOTE that this call requires CAP_SYS_ADMIN privilege
func NewListener(mountpointPath string, maxEvents uint, withName bool) (*Listener, error) {
	capSysAdmin, err := checkCapSysAdmin()
	if err != nil {
		return nil, err
	}
	if !capSysAdmin {
		return nil, ErrCapSysAdmin
	}
	if maxEvents < 4096 {
		maxEvents = 4096
	}
	var flags, eventFlags uint
	if withName {
		flags = unix.FAN_CLASS_NOTIF | unix.FAN_CLOEXEC | unix.FAN_NONBLOCK | unix.FAN_REPORT_DFID_NAME
	} else {
		flags = unix.FAN_CLASS_NOTIF | unix.FAN_CLOEXEC | unix.FAN_NONBLOCK | unix.FAN_REPORT_FID
	}

	eventFlags = unix.O_RDONLY | unix.O_LARGEFILE | unix.O_CLOEXEC
	return newListener(mountpointPath, flags, eventFlags, maxEvents)
}

// SetLogger replaces the logger used to report skipped events and poll errors.
func (l *Listener) SetLogger(log logrus.FieldLogger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log = log
}

func (l *Listener) logger() logrus.FieldLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.log
}

// Start starts the listener and polls the fanotify event notification group for marked events.
// The events are pushed into the Listener's `Events` buffered channel.
// Start blocks until Stop is called or polling fails.
func (l *Listener) Start() error {
	if l == nil {
		return ErrNilListener
	}
	l.mu.Lock()
	if l.state != stateIdle {
		l.mu.Unlock()
		return ErrListenerStopped
	}
	if len(l.watches) == 0 {
		l.mu.Unlock()
		return ErrNothingToWatch
	}
	l.state = stateRunning
	l.mu.Unlock()
	defer close(l.done)

	var fds [2]unix.PollFd
	// Fanotify Fd
	fds[0].Fd = int32(l.fd)
	fds[0].Events = unix.POLLIN
	// Stopper/Cancellation Fd
	fds[1].Fd = int32(l.stopper.r.Fd())
	fds[1].Events = unix.POLLIN
	for {
		n, err := unix.Poll(fds[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.log.WithError(err).Error("poll failed")
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents&unix.POLLIN == unix.POLLIN {
			// found data on the stopper
			return nil
		}
		if fds[0].Revents&unix.POLLIN == unix.POLLIN {
			if err := l.readEvents(); err != nil {
				if err == errListenerStopping {
					return nil
				}
				l.log.WithError(err).Error("reading events failed")
				return err
			}
		}
	}
}

// Stop stops the listener and closes the notification group and the events channel.
// It waits for a running Start to return. Calling Stop more than once is a no-op.
// Once stopped, the watch methods return ErrListenerStopped.
func (l *Listener) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.state == stateStopped {
		l.mu.Unlock()
		return
	}
	wasRunning := l.state == stateRunning
	l.state = stateStopped
	log := l.log
	l.mu.Unlock()

	close(l.stop)
	if _, err := l.stopper.w.Write([]byte("stop")); err != nil {
		log.WithError(err).Warn("cannot signal stopper")
	}
	if wasRunning {
		<-l.done
	}
	l.mu.Lock()
	fd := l.fd
	l.fd = -1
	l.watches = make(map[string]Action)
	l.mu.Unlock()
	if err := Close(fd); err != nil {
		log.WithError(err).Warn("closing notification group")
	}
	l.mountpoint.Close()
	l.stopper.r.Close()
	l.stopper.w.Close()
	close(l.Events)
}

// AddWatch adds or modifies the fanotify mark for the specified path.
// The events are only raised for the specified directory and do not raise events
// for subdirectories. Actions newer than the running kernel are rejected with
// ErrUnsupportedOnKernelVersion.
func (l *Listener) AddWatch(path string, eventTypes Action) error {
	if l == nil {
		return ErrNilListener
	}
	if !checkActionsKernelSupport(eventTypes, l.kernelMajorVersion, l.kernelMinorVersion) {
		return fmt.Errorf("%w: %s on kernel %d.%d", ErrUnsupportedOnKernelVersion, eventTypes, l.kernelMajorVersion, l.kernelMinorVersion)
	}
	return l.fanotifyMark(path, unix.FAN_MARK_ADD|unix.FAN_MARK_ONLYDIR, uint64(eventTypes), false)
}

// DeleteWatch removes or modifies the fanotify mark for the specified path.
// Removing a path that is not watched is a no-op.
func (l *Listener) DeleteWatch(parentDir string, eventTypes Action) error {
	return l.fanotifyMark(parentDir, unix.FAN_MARK_REMOVE|unix.FAN_MARK_ONLYDIR, uint64(eventTypes), true)
}

// ClearWatch stops watching for all event types
func (l *Listener) ClearWatch() error {
	if l == nil {
		return ErrNilListener
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateStopped {
		return ErrListenerStopped
	}
	if err := Mark(l.fd, unix.FAN_MARK_FLUSH, 0, -1, ""); err != nil {
		return err
	}
	l.watches = make(map[string]Action)
	return nil
}

// Watches returns a copy of the watched paths and their actions.
func (l *Listener) Watches() map[string]Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	watches := make(map[string]Action, len(l.watches))
	for path, actions := range l.watches {
		watches[path] = actions
	}
	return watches
}
