// Package acl implements ACL connection tracking and the fragmentation
// and reassembly of L2CAP traffic carried over HCI ACL Data packets: one
// Acl per connected peer, a Manager that owns the device-wide data
// handler and routes by connection handle.
package acl

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hci"
	"github.com/edgebt/bte/hcierr"
)

const (
	headerLen    = 4 // conn handle(12 bits)|pb(2)|bc(2), then length(2)
	lengthOffset = 2

	pbFirstNoFlush = 0
	pbContinuation = 1
	pbFirstFlush   = 2

	BroadcastPointToPoint = uint8(0)
	BroadcastActive       = uint8(1)
	BroadcastParked       = uint8(2)

	invalidHandle = uint16(0xffff)
)

// Acl tracks one baseband connection: its address, assigned connection
// handle once connected, and in-flight reassembly state for inbound
// L2CAP traffic.
type Acl struct {
	mgr            *Manager
	address        [6]byte
	connHandle     uint16
	encryptionMode uint8

	reassembling    []byte
	reassembledSize uint16

	ConnectedCb        func(status uint8)
	DisconnectedCb     func(reason uint8)
	DataReceivedCb     func(r *buffer.Reader)
	CompletedPacketsCb func(sent int)
}

// Address returns the peer's Bluetooth device address.
func (a *Acl) Address() [6]byte { return a.address }

// ConnHandle returns the current connection handle, or 0xffff if not
// connected.
func (a *Acl) ConnHandle() uint16 { return a.connHandle }

// SetConnHandle binds a to an already-established connection handle,
// registering it in the manager's handle-routing table. Used to adopt a
// connection this host did not itself initiate (e.g. an incoming page)
// once its handle is known from Connection Complete.
func (a *Acl) SetConnHandle(handle uint16) {
	a.connHandle = handle
	a.mgr.mu.Lock()
	a.mgr.byHandle[handle] = a
	a.mgr.mu.Unlock()
}

// Manager owns every Acl for one Device: it installs itself as the
// device's ACL data handler and routes inbound fragments by connection
// handle, and as an hci.Client to observe Disconnection Complete and
// Number-of-Completed-Packets.
type Manager struct {
	mu     sync.Mutex
	dev    *hci.Device
	client *hci.Client
	log    logrus.FieldLogger

	byAddress map[[6]byte]*Acl
	byHandle  map[uint16]*Acl
}

// NewManager creates a Manager bound to dev, registering an hci.Client
// for connection lifecycle events and installing the ACL data handler.
func NewManager(dev *hci.Device, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		dev:       dev,
		log:       log,
		byAddress: make(map[[6]byte]*Acl),
		byHandle:  make(map[uint16]*Acl),
	}
	client, err := hci.NewClient(dev, m)
	if err != nil {
		return nil, err
	}
	m.client = client
	client.OnDisconnectionComplete(m.onDisconnectionComplete)
	client.OnNumberOfCompletedPackets(m.onNumberOfCompletedPackets)
	dev.SetDataHandler(m.onDataReceived)
	return m, nil
}

// NewAcl registers a new Acl for address, replacing any prior
// registration for the same address - addresses are compared over the
// full 6 bytes, never by partial/prefix comparison.
func (m *Manager) NewAcl(address [6]byte) *Acl {
	a := &Acl{mgr: m, address: address, connHandle: invalidHandle}
	m.mu.Lock()
	m.byAddress[address] = a
	m.mu.Unlock()
	return a
}

// AclForAddress returns the Acl registered for address, if any.
func (m *Manager) AclForAddress(address [6]byte) *Acl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byAddress[address]
}

func (m *Manager) aclForHandle(handle uint16) *Acl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byHandle[handle]
}

func (m *Manager) onDisconnectionComplete(ev hci.DisconnectionComplete) bool {
	a := m.aclForHandle(ev.Handle)
	if a == nil {
		return false
	}
	m.mu.Lock()
	delete(m.byHandle, ev.Handle)
	a.connHandle = invalidHandle
	m.mu.Unlock()
	if a.DisconnectedCb != nil {
		a.DisconnectedCb(ev.Reason)
	}
	return true
}

func (m *Manager) onNumberOfCompletedPackets(entries []hci.NumberOfCompletedPackets) bool {
	handled := false
	for _, e := range entries {
		a := m.aclForHandle(e.Handle)
		if a == nil {
			continue
		}
		handled = true
		if a.CompletedPacketsCb != nil {
			a.CompletedPacketsCb(int(e.Count))
		}
	}
	return handled
}

// Connect issues Create Connection for a's address; ConnectedCb fires
// with the eventual status, whether that comes back as a Command
// Status failure or a completed Connection Complete event.
func (a *Acl) Connect(packetType uint16, pageScanRepMode, reserved uint8, clockOffset uint16, allowRoleSwitch uint8) error {
	return a.mgr.client.Session.CreateConnection(a.address, packetType, pageScanRepMode, reserved, clockOffset, allowRoleSwitch,
		func(status uint8) {
			if status != 0 && a.ConnectedCb != nil {
				a.ConnectedCb(status)
			}
		},
		func(cc hci.ConnectionComplete) {
			if cc.Status == 0 {
				a.connHandle = cc.Handle
				a.encryptionMode = cc.EncryptionMode
				a.mgr.mu.Lock()
				a.mgr.byHandle[cc.Handle] = a
				a.mgr.mu.Unlock()
			}
			if a.ConnectedCb != nil {
				a.ConnectedCb(cc.Status)
			}
		})
}

// Disconnect issues HCI Disconnect if connected; it is a no-op
// otherwise.
func (a *Acl) Disconnect(reason uint8) error {
	if a.connHandle == invalidHandle {
		return nil
	}
	return a.mgr.client.Session.Disconnect(a.connHandle, reason, nil)
}

// CreateMessage fragments an outgoing L2CAP SDU of size bytes into
// ACL-MTU-sized packets, returning the raw wire bytes of each fragment
// (header included, payload zeroed) ready for the caller to fill and
// hand to SendMessage.
func (a *Acl) CreateMessage(size uint16, broadcast uint8) ([][]byte, error) {
	packetSize := a.mgr.dev.AclMTU()
	if packetSize <= headerLen {
		return nil, hcierr.New("acl.Acl.CreateMessage", hcierr.ProtocolViolation)
	}
	maxPayload := packetSize - headerLen

	var fragments [][]byte
	remaining := size
	pb := uint8(pbFirstFlush)
	for {
		chunk := remaining
		if chunk > maxPayload {
			chunk = maxPayload
		}
		frag := make([]byte, headerLen+int(chunk))
		connAndFlags := a.connHandle
		connAndFlags |= uint16(pb) << 12
		connAndFlags |= uint16(broadcast) << 14
		binary.LittleEndian.PutUint16(frag[0:2], connAndFlags)
		binary.LittleEndian.PutUint16(frag[2:4], chunk)
		fragments = append(fragments, frag)

		remaining -= chunk
		pb = pbContinuation
		if remaining == 0 {
			break
		}
	}
	return fragments, nil
}

// SendMessage queues already-built fragments (with payload filled in
// past each header) for transmission, gated on the device's ACL credit
// count.
func (a *Acl) SendMessage(fragments [][]byte) int {
	return a.mgr.dev.EnqueueOutgoingACL(fragments)
}

// Fragment splits a complete SDU (L2CAP header and payload already
// assembled by the caller) into ACL-MTU-sized wire packets, ready for
// SendMessage.
func (a *Acl) Fragment(sdu []byte, broadcast uint8) ([][]byte, error) {
	fragments, err := a.CreateMessage(uint16(len(sdu)), broadcast)
	if err != nil {
		return nil, err
	}
	off := 0
	for _, f := range fragments {
		n := len(f) - headerLen
		copy(f[headerLen:], sdu[off:off+n])
		off += n
	}
	return fragments, nil
}

// onDataReceived is installed as the device's data handler: it parses
// the 4-byte ACL header, routes by connection handle, and reassembles
// fragments into full L2CAP SDUs.
func (m *Manager) onDataReceived(buf *buffer.Buffer) {
	raw := buf.ContiguousData()
	if len(raw) < headerLen {
		m.log.Warn("acl: short ACL packet dropped")
		return
	}
	handleAndFlags := binary.LittleEndian.Uint16(raw[0:2])
	connHandle := handleAndFlags & 0x0fff
	pb := uint8((handleAndFlags >> 12) & 0x3)
	packetLength := binary.LittleEndian.Uint16(raw[lengthOffset : lengthOffset+2])

	a := m.aclForHandle(connHandle)
	if a == nil {
		return
	}

	payload := raw[headerLen:]
	if int(packetLength) < len(payload) {
		payload = payload[:packetLength]
	}

	if len(a.reassembling) > 0 && pb != pbContinuation {
		// The previous fragment chain never completed; deliver what we
		// have rather than silently growing it forever.
		m.deliver(a)
	}

	if pb != pbContinuation {
		if len(payload) < 2 {
			m.log.Warn("acl: first-fragment packet too short for L2CAP length")
			return
		}
		l2capLen := binary.LittleEndian.Uint16(payload[0:2])
		a.reassembledSize = l2capLen + 4 // L2CAP header (length+cid) + payload
	}

	a.reassembling = append(a.reassembling, payload...)

	if uint16(len(a.reassembling)) >= a.reassembledSize {
		m.deliver(a)
	}
}

// deliver hands the accumulated fragment chain to the data-received
// callback, truncating to the expected size if fragments overshot it
// (logged, not dropped) and resetting reassembly state.
func (m *Manager) deliver(a *Acl) {
	data := a.reassembling
	a.reassembling = nil
	if len(data) == 0 {
		return
	}

	if a.reassembledSize > 0 && uint16(len(data)) > a.reassembledSize {
		m.log.WithFields(logrus.Fields{
			"expected": a.reassembledSize,
			"got":      len(data),
		}).Warn("acl: reassembled message overshot expected size, truncating")
		data = data[:a.reassembledSize]
	}
	a.reassembledSize = 0

	if a.DataReceivedCb == nil {
		return
	}
	head := buffer.AllocContiguous(len(data))
	w := buffer.NewWriter(head, 0)
	w.Write(data)
	a.DataReceivedCb(buffer.NewReader(head, 0))
}
