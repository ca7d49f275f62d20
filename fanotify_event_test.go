//go:build linux
// +build linux

package fanotify

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func encodeEvent(t *testing.T, meta unix.FanotifyEventMetadata, info []byte) []byte {
	t.Helper()
	meta.Vers = unix.FANOTIFY_METADATA_VERSION
	meta.Metadata_len = uint16(sizeOfFanotifyEventMetadata)
	meta.Event_len = sizeOfFanotifyEventMetadata + uint32(len(info))
	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.NativeEndian, &meta))
	b.Write(info)
	return b.Bytes()
}

func encodeFID(infoType uint8, handleType int32, handle []byte, name string) []byte {
	length := sizeOfFanotifyEventInfoHeader + sizeOfKernelFSID + sizeOfFileHandleHeader + len(handle)
	if infoType == unix.FAN_EVENT_INFO_TYPE_DFID_NAME {
		length += len(name) + 1
	}
	padded := (length + 3) &^ 3
	var b bytes.Buffer
	b.WriteByte(infoType)
	b.WriteByte(0)
	binary.Write(&b, binary.NativeEndian, uint16(padded))
	b.Write(make([]byte, sizeOfKernelFSID))
	binary.Write(&b, binary.NativeEndian, uint32(len(handle)))
	binary.Write(&b, binary.NativeEndian, handleType)
	b.Write(handle)
	if infoType == unix.FAN_EVENT_INFO_TYPE_DFID_NAME {
		b.WriteString(name)
		b.WriteByte(0)
	}
	b.Write(make([]byte, padded-length))
	return b.Bytes()
}

func TestParseEventsFdRecords(t *testing.T) {
	var buf []byte
	buf = append(buf, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: 7, Pid: 100}, nil)...)
	buf = append(buf, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_MODIFY, Fd: 8, Pid: 101}, nil)...)
	// trailing partial record
	buf = append(buf, 1, 2, 3)

	records, err := parseEvents(buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int32(7), records[0].meta.Fd)
	assert.Equal(t, uint64(unix.FAN_OPEN), records[0].meta.Mask)
	assert.Equal(t, int32(101), records[1].meta.Pid)
	assert.Nil(t, records[1].handle)
}

func TestParseEventsFID(t *testing.T) {
	handle := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_CREATE, Fd: unix.FAN_NOFD, Pid: 1},
		encodeFID(unix.FAN_EVENT_INFO_TYPE_FID, 1, handle, ""))

	records, err := parseEvents(buf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, uint8(unix.FAN_EVENT_INFO_TYPE_FID), rec.infoType)
	require.NotNil(t, rec.handle)
	assert.Equal(t, int32(1), rec.handle.Type())
	assert.Equal(t, handle, rec.handle.Bytes())
	assert.Empty(t, rec.name)
}

func TestParseEventsDFIDName(t *testing.T) {
	handle := []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	var buf []byte
	buf = append(buf, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_CREATE, Fd: unix.FAN_NOFD},
		encodeFID(unix.FAN_EVENT_INFO_TYPE_DFID_NAME, 2, handle, "test.dat"))...)
	buf = append(buf, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_DELETE, Fd: unix.FAN_NOFD},
		encodeFID(unix.FAN_EVENT_INFO_TYPE_DFID_NAME, 2, handle, "other"))...)

	records, err := parseEvents(buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "test.dat", records[0].name)
	assert.Equal(t, "other", records[1].name)
	assert.Equal(t, handle, records[1].handle.Bytes())
}

func TestParseEventsUnknownInfoType(t *testing.T) {
	info := []byte{unix.FAN_EVENT_INFO_TYPE_PIDFD, 0, 8, 0, 0, 0, 0, 0}
	binary.NativeEndian.PutUint16(info[2:], 8)
	buf := encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: unix.FAN_NOFD}, info)

	records, err := parseEvents(buf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint8(unix.FAN_EVENT_INFO_TYPE_PIDFD), records[0].infoType)
	assert.Nil(t, records[0].handle)
}

func TestParseEventsVersionMismatch(t *testing.T) {
	buf := encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: 3}, nil)
	buf[4] = unix.FANOTIFY_METADATA_VERSION - 1
	_, err := parseEvents(buf)
	assert.True(t, errors.Is(err, ErrMetadataVersion))
}

func TestParseEventsMalformedHandle(t *testing.T) {
	info := encodeFID(unix.FAN_EVENT_INFO_TYPE_FID, 1, []byte{1, 2, 3, 4}, "")
	// claim a handle larger than the record
	binary.NativeEndian.PutUint32(info[sizeOfFanotifyEventInfoHeader+sizeOfKernelFSID:], 64)
	buf := encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_CREATE, Fd: unix.FAN_NOFD}, info)
	_, err := parseEvents(buf)
	assert.True(t, errors.Is(err, ErrMalformedEvent))
}

func TestParseEventsTruncated(t *testing.T) {
	buf := encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: 3}, nil)
	records, err := parseEvents(buf[:len(buf)-1])
	assert.NoError(t, err)
	assert.Empty(t, records)
}

// newPipeListener returns a listener whose group fd is the read end of a
// non-blocking pipe; synthetic events written to the returned fd are
// delivered as if they came from the kernel.
func newPipeListener(t *testing.T) (*Listener, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() { unix.Close(p[1]) })
	mountpoint, err := os.Open(t.TempDir())
	require.NoError(t, err)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := &Listener{
		fd:         p[0],
		mountpoint: mountpoint,
		watches:    map[string]Action{"/": FileOpened},
		buf:        make([]byte, 16*sizeOfFanotifyEventMetadata),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        logger,
		Events:     make(chan Event, 16),
	}
	l.stopper.r = r
	l.stopper.w = w
	return l, p[1]
}

func TestListenerDeliversEvents(t *testing.T) {
	l, w := newPipeListener(t)
	f, err := os.CreateTemp(t.TempDir(), "event")
	require.NoError(t, err)
	defer f.Close()
	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(f.Name())
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_Q_OVERFLOW, Fd: unix.FAN_NOFD}, nil)...)
	buf = append(buf, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: int32(fd), Pid: 42}, nil)...)
	_, err = unix.Write(w, buf)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- l.Start() }()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout Error: event not received")
	case event := <-l.Events:
		assert.Equal(t, expected, event.Path)
		assert.Equal(t, 42, event.Pid)
		assert.True(t, event.Actions.Has(FileOpened))
		assert.NoError(t, event.Close())
	}
	l.Stop()
	assert.NoError(t, <-errc)
	_, ok := <-l.Events
	assert.False(t, ok)
}

func TestListenerStopUnblocksFullChannel(t *testing.T) {
	l, w := newPipeListener(t)
	l.Events = make(chan Event) // unbuffered and never read
	dir := t.TempDir()
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	_, err = unix.Write(w, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: int32(fd)}, nil))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- l.Start() }()
	time.Sleep(50 * time.Millisecond)
	l.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestListenerResolveSkips(t *testing.T) {
	l, _ := newPipeListener(t)
	defer l.Stop()
	_, ok := l.resolve(eventRecord{meta: unix.FanotifyEventMetadata{Mask: unix.FAN_Q_OVERFLOW, Fd: unix.FAN_NOFD}})
	assert.False(t, ok)
	_, ok = l.resolve(eventRecord{meta: unix.FanotifyEventMetadata{Mask: unix.FAN_OPEN, Fd: unix.FAN_NOFD}, infoType: unix.FAN_EVENT_INFO_TYPE_PIDFD})
	assert.False(t, ok)
}

func TestListenerSetLoggerWhileRunning(t *testing.T) {
	l, w := newPipeListener(t)
	started := make(chan error, 1)
	go func() { started <- l.Start() }()

	logger, hook := logrustest.NewNullLogger()
	l.SetLogger(logger)
	_, err := unix.Write(w, encodeEvent(t, unix.FanotifyEventMetadata{Mask: unix.FAN_Q_OVERFLOW, Fd: unix.FAN_NOFD}, nil))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && entry.Message == "fanotify event queue overflowed"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	l.Stop()
	assert.NoError(t, <-started)
}

func TestWatchAfterStop(t *testing.T) {
	l, _ := newPipeListener(t)
	l.Stop()
	assert.Equal(t, -1, l.fd)
	assert.Equal(t, ErrListenerStopped, l.AddWatch("/", FileOpened))
	assert.Equal(t, ErrListenerStopped, l.DeleteWatch("/", FileOpened))
	assert.Equal(t, ErrListenerStopped, l.ClearWatch())
	assert.Empty(t, l.Watches())
}

func TestStartStoppedWithoutWatches(t *testing.T) {
	l, _ := newPipeListener(t)
	l.Stop()
	assert.Equal(t, ErrListenerStopped, l.Start())

	l = &Listener{state: stateStopped}
	assert.Equal(t, ErrListenerStopped, l.Start())
}

func TestEventCloseZeroValue(t *testing.T) {
	if _, err := unix.FcntlInt(0, unix.F_GETFD, 0); err != nil {
		t.Skip("stdin is not open")
	}
	l, _ := newPipeListener(t)
	l.Stop()
	event, ok := <-l.Events
	require.False(t, ok)
	assert.NoError(t, event.Close())
	assert.NoError(t, Event{}.Close())
	_, err := unix.FcntlInt(0, unix.F_GETFD, 0)
	assert.NoError(t, err)
}
