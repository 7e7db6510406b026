package hci

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hcierr"
	"github.com/edgebt/bte/matcher"
)

// InitStatus is the device's bring-up state.
type InitStatus int

const (
	Uninitialized InitStatus = iota
	Initialising
	Initialised
	Failed
)

// Backend is the platform transport contract: opaque to the core,
// responsible for moving bytes to and from the controller.
type Backend interface {
	Init() error
	// HandleEvents drains whatever the transport has ready, blocking if
	// wait is true and nothing is ready yet, and returns how many
	// buffers were delivered via Device.DispatchEvent/DispatchData.
	HandleEvents(wait bool) (int, error)
	SendCommand(buf *buffer.Buffer) error
	SendData(buf *buffer.Buffer) error
	Deinit() error
}

// Driver is the controller-specific initialisation contract: one entry
// point that issues the chip's startup command sequence and calls
// Device.SetStatus on completion.
type Driver interface {
	Init(dev *Device) error
}

const commandHeaderLen = 3 // opcode(2) | param_len(1)

type pendingSlot struct {
	used         bool
	opcode       Opcode
	async        bool
	matcher      *matcher.Matcher
	waitEvent    EventCode
	completionCb func(ret []byte)
	statusCb     func(status uint8)
	clientDone   func(status uint8, ret []byte)
}

// Config tunes the fixed-size resources of a Device: the pending-command
// table size, the client table size, and the event queue depth.
type Config struct {
	MaxPendingCommands int
	MaxClients         int
	EventQueueDepth    int
}

func defaultConfig() Config {
	return Config{MaxPendingCommands: 8, MaxClients: 4, EventQueueDepth: 128}
}

// Option configures a Device at construction time.
type Option func(*Device)

func WithMaxPendingCommands(n int) Option { return func(d *Device) { d.cfg.MaxPendingCommands = n } }
func WithMaxClients(n int) Option         { return func(d *Device) { d.cfg.MaxClients = n } }
func WithEventQueueDepth(n int) Option    { return func(d *Device) { d.cfg.EventQueueDepth = n } }
func WithLogger(l logrus.FieldLogger) Option { return func(d *Device) { d.log = l } }

// Device is the HCI command/event pipeline for one controller: pending
// commands, event dispatch, flow-control credits, and client fan-out.
// It is an ordinary struct passed by reference, not package-level state.
type Device struct {
	mu  sync.Mutex
	cfg Config
	log logrus.FieldLogger

	backend Backend

	initStatus        InitStatus
	supportedFeatures uint64
	address           [6]byte
	aclMTU            uint16
	scoMTU            uint8
	aclMaxPackets     uint16
	scoMaxPackets     uint16
	aclAvailable      uint16

	pending      []pendingSlot
	eventHandler [256]func(code EventCode, data []byte)
	clients      []*Client

	events chan *buffer.Buffer

	dataHandler func(buf *buffer.Buffer)

	outgoingACL [][]byte // raw fragment bytes awaiting credit; drained FIFO
}

// NewDevice constructs a Device bound to backend, ready to accept
// clients and a Driver.
func NewDevice(backend Backend, opts ...Option) *Device {
	d := &Device{
		cfg:     defaultConfig(),
		log:     logrus.StandardLogger(),
		backend: backend,
	}
	for _, o := range opts {
		o(d)
	}
	d.pending = make([]pendingSlot, d.cfg.MaxPendingCommands)
	d.events = make(chan *buffer.Buffer, d.cfg.EventQueueDepth)
	return d
}

// InitStatus returns the current bring-up state.
func (d *Device) InitStatus() InitStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initStatus
}

// SetStatus transitions the device's init status, notifying every
// registered client when the transition reaches Initialised or Failed.
func (d *Device) SetStatus(status InitStatus) {
	d.mu.Lock()
	d.initStatus = status
	clients := append([]*Client(nil), d.clients...)
	d.mu.Unlock()

	if status != Initialised && status != Failed {
		return
	}
	success := status == Initialised
	for _, c := range clients {
		if c.initializedCb != nil {
			c.initializedCb(success)
		}
	}
}

// AddClient registers a client for event fan-out, failing with
// ResourceExhausted once MaxClients are already registered. Clients
// registering after Initialised/Failed are notified immediately.
func (d *Device) AddClient(c *Client) error {
	d.mu.Lock()
	if len(d.clients) >= d.cfg.MaxClients {
		d.mu.Unlock()
		return hcierr.New("hci.Device.AddClient", hcierr.ResourceExhausted)
	}
	d.clients = append(d.clients, c)
	status := d.initStatus
	d.mu.Unlock()

	if status == Initialised || status == Failed {
		if c.initializedCb != nil {
			c.initializedCb(status == Initialised)
		}
	}
	return nil
}

// RemoveClient unregisters a client.
func (d *Device) RemoveClient(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cc := range d.clients {
		if cc == c {
			d.clients = append(d.clients[:i], d.clients[i+1:]...)
			return
		}
	}
}

// SetDataHandler installs the callback invoked for inbound ACL data;
// the acl package's Manager installs itself here.
func (d *Device) SetDataHandler(f func(buf *buffer.Buffer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dataHandler = f
}

// InstallEventHandler installs the single handler for a given event
// code (vendor-specific events share slot 0, i.e. EventCode(0)).
// Installing a second handler over an existing one is logged, not
// fatal.
func (d *Device) InstallEventHandler(code EventCode, f func(code EventCode, data []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eventHandler[code] != nil {
		d.log.WithField("event_code", code).Warn("hci: handler already installed for event")
	}
	d.eventHandler[code] = f
}

// SupportedFeatures returns the most recently learned LMP feature mask.
func (d *Device) SupportedFeatures() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.supportedFeatures
}

// SetBufferSizes records the controller's ACL/SCO buffer capacity, as
// reported by Read Buffer Size, and (re)initialises the available
// credit count.
func (d *Device) SetBufferSizes(aclMTU uint16, scoMTU uint8, aclMaxPackets, scoMaxPackets uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aclMTU = aclMTU
	d.scoMTU = scoMTU
	d.aclMaxPackets = aclMaxPackets
	d.scoMaxPackets = scoMaxPackets
	d.aclAvailable = aclMaxPackets
}

// AclMTU returns the controller's ACL data MTU.
func (d *Device) AclMTU() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aclMTU
}

// AddPendingCommand allocates a command buffer and registers a
// synchronous pending command (awaits Command Complete only). It
// rejects with ResourceExhausted if the table is full, and with
// NotAllowed if the same opcode is already pending - this stack does
// not attempt deep request/reply matching for identical opcodes.
func (d *Device) AddPendingCommand(ogf OGF, ocf uint16, paramLen int, completionCb func(ret []byte), clientDone func(status uint8, ret []byte)) (*buffer.Writer, error) {
	return d.addPendingCommand(ogf, ocf, paramLen, false, completionCb, nil, clientDone)
}

// AddPendingAsyncCommand additionally records a status callback fired on
// Command Status; on status-success the caller's statusCb is
// responsible for calling Device.ArmAsyncWaiter to install the
// DataMatcher that will complete the slot when the follow-up event
// arrives. On status failure the slot is freed and never armed.
func (d *Device) AddPendingAsyncCommand(ogf OGF, ocf uint16, paramLen int, statusCb func(status uint8), clientDone func(status uint8, ret []byte)) (*buffer.Writer, error) {
	return d.addPendingCommand(ogf, ocf, paramLen, true, nil, statusCb, clientDone)
}

func (d *Device) addPendingCommand(ogf OGF, ocf uint16, paramLen int, async bool, completionCb func(ret []byte), statusCb func(status uint8), clientDone func(status uint8, ret []byte)) (*buffer.Writer, error) {
	op := MakeOpcode(ogf, ocf)

	d.mu.Lock()
	defer d.mu.Unlock()

	freeIdx := -1
	for i := range d.pending {
		if !d.pending[i].used {
			if freeIdx == -1 {
				freeIdx = i
			}
			continue
		}
		if d.pending[i].opcode == op {
			return nil, hcierr.New("hci.Device.addPendingCommand", hcierr.NotAllowed)
		}
	}
	if freeIdx == -1 {
		return nil, hcierr.New("hci.Device.addPendingCommand", hcierr.ResourceExhausted)
	}

	buf := buffer.AllocContiguous(commandHeaderLen + paramLen)
	var hdr [commandHeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(op))
	hdr[2] = uint8(paramLen)
	buffer.NewWriter(buf, 0).Write(hdr[:])

	d.pending[freeIdx] = pendingSlot{
		used:         true,
		opcode:       op,
		async:        async,
		completionCb: completionCb,
		statusCb:     statusCb,
		clientDone:   clientDone,
	}
	return buffer.NewWriter(buf, commandHeaderLen), nil
}

// ArmAsyncWaiter installs the DataMatcher and event code an async
// pending command will complete on, called from within the command's
// status callback once Command Status reports success.
func (d *Device) ArmAsyncWaiter(opcode Opcode, waitEvent EventCode, m *matcher.Matcher, completionCb func(ret []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.pending {
		if d.pending[i].used && d.pending[i].opcode == opcode && d.pending[i].async {
			d.pending[i].waitEvent = waitEvent
			d.pending[i].matcher = m
			d.pending[i].completionCb = completionCb
			return
		}
	}
}

// ReleasePendingAsync frees an async pending slot directly, for commands
// whose completion is reported through repeated broadcast events rather
// than a single matched follow-up (e.g. Inquiry, terminated by Inquiry
// Complete rather than by a DataMatcher hit).
func (d *Device) ReleasePendingAsync(opcode Opcode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.pending {
		if d.pending[i].used && d.pending[i].async && d.pending[i].opcode == opcode {
			d.freeSlot(i)
			return
		}
	}
}

// ClearEventHandler removes a previously installed event handler.
func (d *Device) ClearEventHandler(code EventCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventHandler[code] = nil
}

func (d *Device) findPendingByOpcode(op Opcode) int {
	for i := range d.pending {
		if d.pending[i].used && d.pending[i].opcode == op {
			return i
		}
	}
	return -1
}

func (d *Device) freeSlot(i int) {
	d.pending[i] = pendingSlot{}
}

// Send submits buf to the backend. The Device does not retain buf
// afterwards.
func (d *Device) Send(buf *buffer.Buffer) error {
	if err := d.backend.SendCommand(buf); err != nil {
		return hcierr.Wrap("hci.Device.Send", hcierr.BackendError, err)
	}
	return nil
}

// DispatchEvent is called by the backend's producer context (interrupt
// handler, read-thread) to hand a fully-received event buffer to the
// core. It only enqueues; dispatch happens on the Pump/WaitEvents
// caller's goroutine, keeping a single driver thread for all dispatch.
// The channel send/receive pair is itself the synchronization point
// between the producer and the driver loop.
func (d *Device) DispatchEvent(buf *buffer.Buffer) {
	select {
	case d.events <- buf:
	default:
		d.log.Warn("hci: event queue overflow, dropping event")
	}
}

// DispatchData is called by the backend's producer context for inbound
// ACL data; it is forwarded synchronously to whatever SetDataHandler
// installed (normally the acl package's Manager).
func (d *Device) DispatchData(buf *buffer.Buffer) {
	d.mu.Lock()
	h := d.dataHandler
	d.mu.Unlock()
	if h != nil {
		h(buf)
	}
}

// Pump drains and dispatches every event currently queued, in arrival
// order, without blocking.
func (d *Device) Pump() {
	for {
		select {
		case buf := <-d.events:
			d.handleEvent(buf)
		default:
			return
		}
	}
}

// WaitEvents blocks until at least one event is queued (or ctx is
// cancelled), then drains exactly like Pump.
func (d *Device) WaitEvents(ctx context.Context) error {
	select {
	case buf := <-d.events:
		d.handleEvent(buf)
		d.Pump()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleEvent classifies an event and dispatches it: Command Complete,
// Command Status and Number-of-Completed-Packets are handled inline;
// everything else is offered to armed async waiters, then, if no waiter
// claimed it, fanned out to clients. Every event is then handed to any
// installed per-code handler.
func (d *Device) handleEvent(buf *buffer.Buffer) {
	data := buf.ContiguousData()
	if len(data) < 2 {
		d.log.Warn("hci: short event dropped")
		return
	}
	code := EventCode(data[0])
	body := data[2:]

	switch code {
	case EvtCommandComplete:
		d.handleCommandComplete(body)
	case EvtCommandStatus:
		d.handleCommandStatus(body)
	case EvtNumberOfCompletedPackets:
		d.handleNumberOfCompletedPackets(body)
	default:
		if !d.handleAsyncWaiters(code, body) {
			d.fanOutBroadcastEvents(code, body)
		}
	}

	d.mu.Lock()
	h := d.eventHandler[code]
	if h == nil && code == 0xFF { // vendor-specific share slot 0
		h = d.eventHandler[0]
	}
	d.mu.Unlock()
	if h != nil {
		h(code, body)
	}
}

func (d *Device) handleCommandComplete(body []byte) {
	if len(body) < 3 {
		return
	}
	numPackets := body[0]
	op := Opcode(binary.LittleEndian.Uint16(body[1:3]))
	ret := body[3:]

	d.mu.Lock()
	d.aclAvailable = uint16(numPackets)
	d.sideChannelUpdate(op, ret)
	idx := d.findPendingByOpcode(op)
	var cb func(ret []byte)
	if idx >= 0 && !d.pending[idx].async {
		cb = d.pending[idx].completionCb
		d.freeSlot(idx)
	}
	d.mu.Unlock()

	if cb != nil {
		cb(ret)
	}
}

// sideChannelUpdate updates device-wide state from certain Command
// Complete replies before the normal reply delivery. Caller holds d.mu.
func (d *Device) sideChannelUpdate(op Opcode, ret []byte) {
	switch op.OGF() {
	case OGFInfoParam:
		if op.OCF() == ocfReadLocalFeatures && len(ret) >= 9 && ret[0] == 0 {
			d.supportedFeatures = binary.LittleEndian.Uint64(ret[1:9])
		}
	}
}

func (d *Device) handleCommandStatus(body []byte) {
	if len(body) < 4 {
		return
	}
	status := body[0]
	numPackets := body[1]
	op := Opcode(binary.LittleEndian.Uint16(body[2:4]))

	d.mu.Lock()
	d.aclAvailable = uint16(numPackets)
	idx := d.findPendingByOpcode(op)
	var statusCb func(uint8)
	var clientDone func(uint8, []byte)
	if idx >= 0 && d.pending[idx].async {
		statusCb = d.pending[idx].statusCb
		if status != 0 {
			clientDone = d.pending[idx].clientDone
			d.freeSlot(idx)
		}
	}
	d.mu.Unlock()

	if statusCb != nil {
		statusCb(status)
	}
	if status != 0 && clientDone != nil {
		clientDone(status, nil)
	}
}

func (d *Device) handleNumberOfCompletedPackets(body []byte) {
	entries := ParseNumberOfCompletedPackets(body)
	d.mu.Lock()
	for _, e := range entries {
		d.aclAvailable += e.Count
	}
	d.mu.Unlock()
	d.sendQueuedDataLocked()
	d.fanOutBroadcastEvents(EvtNumberOfCompletedPackets, body)
}

// handleAsyncWaiters searches pending async slots whose armed matcher
// fires against this event's payload, completing and freeing the slot.
// It reports whether a waiter claimed the event.
func (d *Device) handleAsyncWaiters(code EventCode, body []byte) bool {
	d.mu.Lock()
	var cb func([]byte)
	idx := -1
	for i := range d.pending {
		p := &d.pending[i]
		if p.used && p.async && p.matcher != nil && p.waitEvent == code && p.matcher.Compare(body) {
			cb = p.completionCb
			idx = i
			break
		}
	}
	if idx >= 0 {
		d.freeSlot(idx)
	}
	d.mu.Unlock()
	if cb != nil {
		cb(body)
	}
	return idx >= 0
}

// fanOutBroadcastEvents walks registered clients in order for events
// that are inherently broadcast, stopping at the first client whose
// handler returns true ("consumed").
func (d *Device) fanOutBroadcastEvents(code EventCode, body []byte) {
	d.mu.Lock()
	clients := append([]*Client(nil), d.clients...)
	d.mu.Unlock()

	for _, c := range clients {
		if c.dispatchBroadcast(code, body) {
			return
		}
	}
}
