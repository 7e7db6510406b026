// Package linuxhci implements hci.Backend over a raw AF_BLUETOOTH/HCI
// socket on Linux, talking the kernel's H4-style packet framing (a
// one-byte packet-type prefix ahead of each command/event/ACL buffer).
package linuxhci

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hcierr"
)

// Bluetooth-specific address family/protocol/channel values, defined here
// with the same values the kernel headers use rather than taken from
// x/sys/unix.
const (
	afBluetooth = 31
	btprotoHCI  = 1

	hciChannelRaw  = 0
	hciChannelUser = 1

	solHCI    = 0
	hciFilter = 2
)

// H4 packet-type prefix bytes.
const (
	typCommand = 0x01
	typACLData = 0x02
	typSCOData = 0x03
	typEvent   = 0x04
)

type sockaddrHCI struct {
	Family  uint16
	Dev     uint16
	Channel uint16
}

// hciFilterVal mirrors the kernel's struct hci_filter, set permissive so
// every event and ACL packet this process is allowed to see reaches it;
// the host stack itself decides what to act on.
type hciFilterVal struct {
	TypeMask  uint32
	EventMask [2]uint32
	Opcode    uint16
}

// EventSink receives dispatched buffers; hci.Device satisfies this.
type EventSink interface {
	DispatchEvent(buf *buffer.Buffer)
	DispatchData(buf *buffer.Buffer)
}

// Backend is a raw HCI socket bound to one controller's device index.
type Backend struct {
	fd  int
	wmu sync.Mutex
	log logrus.FieldLogger

	sink EventSink
}

// Open binds a raw HCI socket to devID, preferring the exclusive
// HCI_CHANNEL_USER mode (Linux 3.14+, hands the controller fully to this
// process) and falling back to HCI_CHANNEL_RAW on older kernels that
// reject it.
func Open(devID int, log logrus.FieldLogger) (*Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fd, err := unix.Socket(afBluetooth, unix.SOCK_RAW, btprotoHCI)
	if err != nil {
		return nil, hcierr.Wrap("linuxhci.Open", hcierr.BackendError, err)
	}

	if err := bindHCI(fd, devID, hciChannelUser); err != nil {
		if err := bindHCI(fd, devID, hciChannelRaw); err != nil {
			unix.Close(fd)
			return nil, hcierr.Wrap("linuxhci.Open", hcierr.BackendError, err)
		}
	}

	f := hciFilterVal{TypeMask: ^uint32(0), EventMask: [2]uint32{^uint32(0), ^uint32(0)}}
	if err := setHCIFilter(fd, &f); err != nil {
		log.WithError(err).Warn("linuxhci: failed to set permissive HCI filter")
	}

	return &Backend{fd: fd, log: log}, nil
}

// Bind attaches the sink that HandleEvents delivers dispatched buffers
// to. Must be called before the first HandleEvents call.
func (b *Backend) Bind(sink EventSink) { b.sink = sink }

// Init satisfies hci.Backend; the socket is already open by the time
// Open returns, so there is nothing further to do here.
func (b *Backend) Init() error { return nil }

// HandleEvents polls the socket for pending packets, dispatching each as
// it is read, and returns the number dispatched. With wait set it blocks
// until at least one packet is ready or the socket errors.
func (b *Backend) HandleEvents(wait bool) (int, error) {
	timeout := 0
	if wait {
		timeout = -1
	}
	count := 0
	for {
		pfd := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return count, hcierr.Wrap("linuxhci.Backend.HandleEvents", hcierr.BackendError, err)
		}
		if n == 0 {
			return count, nil
		}

		buf := make([]byte, 4096)
		nr, err := unix.Read(b.fd, buf)
		if err != nil {
			return count, hcierr.Wrap("linuxhci.Backend.HandleEvents", hcierr.BackendError, err)
		}
		if nr > 0 {
			b.dispatch(buf[:nr])
			count++
		}
		timeout = 0 // only the first iteration blocks; drain the rest without waiting
	}
}

func (b *Backend) dispatch(raw []byte) {
	if len(raw) < 1 || b.sink == nil {
		return
	}
	typ, body := raw[0], raw[1:]

	head := buffer.AllocContiguous(len(body))
	w := buffer.NewWriter(head, 0)
	w.Write(body)

	switch typ {
	case typEvent:
		b.sink.DispatchEvent(head)
	case typACLData:
		b.sink.DispatchData(head)
	default:
		b.log.WithField("type", typ).Debug("linuxhci: dropping unsupported packet type")
	}
}

func (b *Backend) send(typ byte, buf *buffer.Buffer) error {
	body := buf.ContiguousData()
	out := make([]byte, 1+len(body))
	out[0] = typ
	copy(out[1:], body)

	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, err := unix.Write(b.fd, out)
	if err != nil {
		return hcierr.Wrap("linuxhci.Backend.send", hcierr.BackendError, err)
	}
	return nil
}

// SendCommand writes buf prefixed with the HCI command packet type.
func (b *Backend) SendCommand(buf *buffer.Buffer) error { return b.send(typCommand, buf) }

// SendData writes buf prefixed with the ACL data packet type.
func (b *Backend) SendData(buf *buffer.Buffer) error { return b.send(typACLData, buf) }

// Deinit closes the underlying socket.
func (b *Backend) Deinit() error {
	return unix.Close(b.fd)
}
