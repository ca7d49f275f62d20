//go:build linux
// +build linux

package fanotify

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	sizeOfFanotifyEventMetadata   = uint32(unsafe.Sizeof(unix.FanotifyEventMetadata{}))
	sizeOfFanotifyEventInfoHeader = int(unsafe.Sizeof(fanotifyEventInfoHeader{}))
	sizeOfKernelFSID              = int(unsafe.Sizeof(kernelFSID{}))
	// unsigned int handle_bytes + int handle_type
	sizeOfFileHandleHeader = 8
)

var (
	// ErrMetadataVersion indicates the kernel metadata structure does not match the compiled definition
	ErrMetadataVersion = errors.New("fanotify metadata version mismatch")
	// ErrMalformedEvent indicates an event record whose lengths do not fit the buffer
	ErrMalformedEvent = errors.New("malformed fanotify event")
)

type fanotifyEventInfoHeader struct {
	InfoType uint8
	pad      uint8
	Len      uint16
}

type kernelFSID struct {
	val [2]int32
}

// eventRecord is one decoded event from the group fd. For groups reporting
// file identifiers handle is set and, for FAN_EVENT_INFO_TYPE_DFID_NAME, name
// holds the entry name under the directory identified by handle.
type eventRecord struct {
	meta     unix.FanotifyEventMetadata
	infoType uint8
	handle   *unix.FileHandle
	name     string
}

func fanotifyEventOK(meta *unix.FanotifyEventMetadata, n int) bool {
	return (n >= int(sizeOfFanotifyEventMetadata) &&
		meta.Event_len >= sizeOfFanotifyEventMetadata &&
		int(meta.Event_len) <= n)
}

func decodeMetadata(buf []byte) (unix.FanotifyEventMetadata, error) {
	var meta unix.FanotifyEventMetadata
	err := binary.Read(bytes.NewReader(buf[:sizeOfFanotifyEventMetadata]), binary.NativeEndian, &meta)
	return meta, err
}

// parseEvents walks the records in buf using event_len. A trailing partial
// record is ignored.
func parseEvents(buf []byte) ([]eventRecord, error) {
	var records []eventRecord
	for len(buf) >= int(sizeOfFanotifyEventMetadata) {
		meta, err := decodeMetadata(buf)
		if err != nil {
			return records, err
		}
		if !fanotifyEventOK(&meta, len(buf)) {
			break
		}
		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			return records, ErrMetadataVersion
		}
		if uint32(meta.Metadata_len) < sizeOfFanotifyEventMetadata || uint32(meta.Metadata_len) > meta.Event_len {
			return records, fmt.Errorf("%w: metadata_len %d, event_len %d", ErrMalformedEvent, meta.Metadata_len, meta.Event_len)
		}
		rec := eventRecord{meta: meta}
		if meta.Fd == unix.FAN_NOFD && meta.Event_len > uint32(meta.Metadata_len) {
			rec.infoType, rec.handle, rec.name, err = parseFID(buf[meta.Metadata_len:meta.Event_len])
			if err != nil {
				return records, err
			}
		}
		records = append(records, rec)
		buf = buf[meta.Event_len:]
	}
	return records, nil
}

// parseFID decodes a fanotify_event_info_fid record: header, fsid, then a
// struct file_handle, followed by a NUL terminated name for DFID_NAME.
// Records of other info types are returned with a nil handle.
func parseFID(info []byte) (uint8, *unix.FileHandle, string, error) {
	if len(info) < sizeOfFanotifyEventInfoHeader {
		return 0, nil, "", fmt.Errorf("%w: short info header", ErrMalformedEvent)
	}
	infoType := info[0]
	recLen := int(binary.NativeEndian.Uint16(info[2:4]))
	if recLen < sizeOfFanotifyEventInfoHeader || recLen > len(info) {
		return infoType, nil, "", fmt.Errorf("%w: info length %d", ErrMalformedEvent, recLen)
	}
	info = info[:recLen]
	switch infoType {
	case unix.FAN_EVENT_INFO_TYPE_FID, unix.FAN_EVENT_INFO_TYPE_DFID, unix.FAN_EVENT_INFO_TYPE_DFID_NAME:
	default:
		return infoType, nil, "", nil
	}
	j := sizeOfFanotifyEventInfoHeader + sizeOfKernelFSID
	if len(info) < j+sizeOfFileHandleHeader {
		return infoType, nil, "", fmt.Errorf("%w: short file handle", ErrMalformedEvent)
	}
	handleBytes := int(binary.NativeEndian.Uint32(info[j:]))
	handleType := int32(binary.NativeEndian.Uint32(info[j+4:]))
	j += sizeOfFileHandleHeader
	if handleBytes > len(info)-j {
		return infoType, nil, "", fmt.Errorf("%w: handle_bytes %d", ErrMalformedEvent, handleBytes)
	}
	handle := unix.NewFileHandle(handleType, info[j:j+handleBytes])
	j += handleBytes
	var name string
	if infoType == unix.FAN_EVENT_INFO_TYPE_DFID_NAME {
		rest := info[j:]
		if i := bytes.IndexByte(rest, 0); i >= 0 {
			rest = rest[:i]
		}
		name = string(rest)
	}
	return infoType, &handle, name, nil
}

func fdPath(fd int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
}

// resolve turns a record into an Event. ok is false when the record
// should be skipped.
func (l *Listener) resolve(rec eventRecord) (event Event, ok bool) {
	log := l.logger().WithFields(logrus.Fields{"mask": fmt.Sprintf("%#x", rec.meta.Mask), "pid": rec.meta.Pid})
	if rec.meta.Mask&unix.FAN_Q_OVERFLOW != 0 {
		log.Warn("fanotify event queue overflowed")
		return Event{}, false
	}
	if rec.meta.Fd != unix.FAN_NOFD {
		fd := int(rec.meta.Fd)
		path, err := fdPath(fd)
		if err != nil {
			log.WithError(err).Debug("cannot resolve event fd")
			unix.Close(fd)
			return Event{}, false
		}
		return Event{
			Fd:      fd,
			Path:    path,
			Actions: Action(rec.meta.Mask),
			Pid:     int(rec.meta.Pid),
		}, true
	}
	if rec.handle == nil {
		log.WithField("infoType", rec.infoType).Debug("skipping event without file handle")
		return Event{}, false
	}
	fd, err := unix.OpenByHandleAt(int(l.mountpoint.Fd()), *rec.handle, unix.O_RDONLY)
	if err != nil {
		log.WithError(err).Debug("open_by_handle_at failed")
		return Event{}, false
	}
	path, err := fdPath(fd)
	if err != nil {
		log.WithError(err).Debug("cannot resolve handle fd")
		unix.Close(fd)
		return Event{}, false
	}
	return Event{
		Fd:       fd,
		Path:     path,
		FileName: rec.name,
		Actions:  Action(rec.meta.Mask),
		Pid:      int(rec.meta.Pid),
	}, true
}

// readEvents drains the non-blocking group fd. It returns errListenerStopping
// when Stop is called while an event is waiting for room in the channel.
func (l *Listener) readEvents() error {
	for {
		n, err := unix.Read(l.fd, l.buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return newError(OpRead, err)
		}
		if n < int(sizeOfFanotifyEventMetadata) {
			return nil
		}
		records, err := parseEvents(l.buf[:n])
		for _, rec := range records {
			event, ok := l.resolve(rec)
			if !ok {
				continue
			}
			select {
			case l.Events <- event: // blocks when the channel buffer is full
			case <-l.stop:
				event.Close()
				return errListenerStopping
			}
		}
		if err != nil {
			return err
		}
	}
}

func (l *Listener) fanotifyMark(path string, flags uint, mask uint64, remove bool) error {
	if l == nil {
		return ErrNilListener
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateStopped {
		return ErrListenerStopped
	}
	current, found := l.watches[path]
	if remove && !found {
		return nil
	}
	if err := Mark(l.fd, flags, mask, -1, path); err != nil {
		return err
	}
	if remove {
		current &^= Action(mask)
		if current == 0 {
			delete(l.watches, path)
		} else {
			l.watches[path] = current
		}
		return nil
	}
	l.watches[path] = current | Action(mask)
	return nil
}
