// Package l2cap implements channel bring-up and configuration
// negotiation over one ACL connection's signalling channel: dynamic CID
// allocation, Connection Request/Response, Configure Request/Response
// (with continuation-flagged fragmentation across multiple signalling
// PDUs in both directions), and Command Reject.
package l2cap

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/edgebt/bte/acl"
	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hcierr"
)

// Fixed channel identifiers.
const (
	CIDNull       uint16 = 0x0000
	CIDSignalling uint16 = 0x0001
	CIDReception  uint16 = 0x0002

	firstDynamicCID uint16 = 0x0040
)

// Well-known PSMs.
const (
	PSMSDP      uint16 = 0x0001
	PSMRFCOMM   uint16 = 0x0003
	PSMTelCord  uint16 = 0x0005
	PSMTCS      uint16 = 0x0007
	PSMBNEP     uint16 = 0x000f
	PSMHIDCtrl  uint16 = 0x0011
	PSMHIDIntr  uint16 = 0x0013
)

// Signalling command codes.
const (
	sigCommandReject     uint8 = 0x01
	sigConnectionRequest uint8 = 0x02
	sigConnectionResponse uint8 = 0x03
	sigConfigureRequest  uint8 = 0x04
	sigConfigureResponse uint8 = 0x05
	sigDisconnectRequest uint8 = 0x06
	sigDisconnectResponse uint8 = 0x07
	sigEchoRequest       uint8 = 0x08
	sigEchoResponse      uint8 = 0x09
	sigInfoRequest       uint8 = 0x0A
	sigInfoResponse      uint8 = 0x0B
)

// Connection Response result codes.
const (
	ConnResultSuccess        uint16 = 0
	ConnResultPending        uint16 = 1
	ConnResultErrPSM         uint16 = 2
	ConnResultErrSecurity    uint16 = 3
	ConnResultErrResource    uint16 = 4
	ConnResultErrInvalidSCID uint16 = 6
	ConnResultErrDuplicateSCID uint16 = 7

	// ConnResultCommandRejected is not a value the Bluetooth Core spec's
	// Connection Response table defines; this stack uses it to tell
	// OnConnect that the peer answered our Connection Request with a
	// Command Reject instead of a Connection Response.
	ConnResultCommandRejected uint16 = 0xffff
)

// Configure Response result codes.
const (
	ConfigResultSuccess     uint16 = 0
	ConfigResultErrParams   uint16 = 1
	ConfigResultErrRejected uint16 = 2
	ConfigResultErrUnknown  uint16 = 3
)

// Command Reject reason codes.
const (
	RejectCommandNotUnderstood uint16 = 0x0000
	RejectSignallingMTUExceeded uint16 = 0x0001
	RejectInvalidCID            uint16 = 0x0002
)

const configFlagContinuation uint16 = 1 << 0

// signalHeaderLen is the 4-byte {code, id, length} prefix of every
// packed signalling command.
const signalHeaderLen = 4

// configReqHdrLen/configRspHdrLen are the fixed fields ahead of a
// Configure Request/Response's option TLVs: destCID+flags, and
// destCID+flags+result respectively.
const (
	configReqHdrLen = 4
	configRspHdrLen = 6
)

// ChannelState is the bring-up state of one L2CAP channel.
type ChannelState int

const (
	StateClosed ChannelState = iota
	StateWaitConnectRsp
	StateWaitConnectReq
	StateConfig
	StateOpen
	StateWaitDisconnectRsp
)

// ConfigureResult is delivered once to a Configure callback after every
// fragment of an outbound Configure Request exchange - possibly several
// Configure Request/Response round trips - has completed.
type ConfigureResult struct {
	// Accepted is true only if every response in the exchange reported
	// ConfigResultSuccess.
	Accepted bool
	// Rejected carries the option type codes the peer reported via
	// ConfigResultErrParams, across every response in the exchange.
	Rejected []uint8
	// Unknown carries the raw TLVs the peer echoed back via
	// ConfigResultErrUnknown, across every response in the exchange.
	Unknown [][]byte
	// Opts is merged from every ConfigResultSuccess response's option
	// TLVs.
	Opts Options
}

// configureExchange tracks one outbound Configure Request exchange that
// may span several request fragments (continuation=1) and therefore
// several matching responses, merging them into a single ConfigureResult.
type configureExchange struct {
	remaining int
	accepted  bool
	rejected  []uint8
	unknown   [][]byte
	opts      Options
	cb        func(ConfigureResult)
}

func mergeOptions(dst, src Options) Options {
	if src.HasMTU {
		dst.HasMTU, dst.MTU = true, src.MTU
	}
	if src.HasFlushTimeout {
		dst.HasFlushTimeout, dst.FlushTimeout = true, src.FlushTimeout
	}
	if src.HasQoS {
		dst.HasQoS, dst.QoS = true, src.QoS
	}
	if src.HasRetxFlow {
		dst.HasRetxFlow, dst.RetxFlow = true, src.RetxFlow
	}
	if src.HasFrameCheckSeq {
		dst.HasFrameCheckSeq, dst.FrameCheckSeq = true, src.FrameCheckSeq
	}
	if src.HasExtFlow {
		dst.HasExtFlow, dst.ExtFlow = true, src.ExtFlow
	}
	if src.HasMaxWindowSize {
		dst.HasMaxWindowSize, dst.MaxWindowSize = true, src.MaxWindowSize
	}
	return dst
}

// decodeRejectedTypes reads a Configure Response's ErrParams option list,
// which carries only the rejected type codes (each as a zero-length TLV).
func decodeRejectedTypes(data []byte) []uint8 {
	var out []uint8
	for len(data) >= 2 {
		typ := data[0]
		length := int(data[1])
		if len(data) < 2+length {
			break
		}
		out = append(out, typ)
		data = data[2+length:]
	}
	return out
}

// Channel is one dynamic L2CAP channel over an ACL connection.
type Channel struct {
	mgr        *Manager
	localCID   uint16
	remoteCID  uint16
	psm        uint16
	state      ChannelState

	// remoteMTU bounds how many option bytes this stack packs into a
	// single outbound Configure Request PDU for this channel.
	// It starts at MinMTU, the conservative floor every peer is
	// guaranteed to accept, until this side negotiates something larger.
	remoteMTU uint16

	localConfigured  bool
	remoteConfigured bool
	configReqAccum   []byte

	OnConnect    func(result uint16)
	OnOpen       func()
	OnDisconnect func()
	OnData       func(payload []byte)

	// OnConfigureRequest lets the application inspect/adjust the peer's
	// proposed options before this stack applies its acceptance policy.
	// A nil callback accepts the peer's options unmodified (subject to
	// Options.Validate). Not invoked when the request carries options
	// this stack doesn't recognise - those are rejected outright with
	// ConfigResultErrUnknown.
	OnConfigureRequest func(opts Options) Options
}

func (c *Channel) LocalCID() uint16  { return c.localCID }
func (c *Channel) RemoteCID() uint16 { return c.remoteCID }
func (c *Channel) State() ChannelState { return c.state }

func (c *Channel) maybeOpen() {
	if c.localConfigured && c.remoteConfigured && c.state != StateOpen {
		c.state = StateOpen
		if c.OnOpen != nil {
			c.OnOpen()
		}
	}
}

// Configure sends a Configure Request proposing opts for the direction
// this channel reads in (the local MTU, flush timeout, etc. this side
// wants the peer to honour when sending to it). opts is split into
// remoteMTU-sized chunks, marking every chunk but the last with the
// continuation flag; cb fires exactly once, with every response in the
// exchange merged together, once the peer's final (non-continuation)
// response arrives.
func (c *Channel) Configure(opts Options, cb func(ConfigureResult)) error {
	cfg := &configureExchange{accepted: true, cb: cb}
	return c.mgr.sendConfigureRequest(c, opts, cfg)
}

// Disconnect sends a Disconnection Request for this channel.
func (c *Channel) Disconnect() error {
	id := c.mgr.nextIdentifier()
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], c.remoteCID)
	binary.LittleEndian.PutUint16(payload[2:4], c.localCID)
	c.state = StateWaitDisconnectRsp
	c.mgr.pending[id] = pendingSignal{channel: c, code: sigDisconnectResponse}
	return c.mgr.sendSignal(sigDisconnectRequest, id, payload)
}

// SendData sends payload over this channel's dynamic CID.
func (c *Channel) SendData(payload []byte) error {
	if c.state != StateOpen {
		return hcierr.New("l2cap.Channel.SendData", hcierr.NotAllowed)
	}
	return c.mgr.sendOnCID(c.remoteCID, payload)
}

// pendingSignal records what a still-outstanding signalling identifier
// is waiting for: the channel it belongs to, the response code that
// completes it, and - for a Configure Request fragment - the shared
// exchange state every fragment's response feeds into.
type pendingSignal struct {
	channel *Channel
	code    uint8
	cfg     *configureExchange
}

// Manager owns every Channel multiplexed over one ACL connection's
// signalling channel.
type Manager struct {
	acl *acl.Acl
	log logrus.FieldLogger

	nextCID    uint16
	channels   map[uint16]*Channel // by local CID
	identifier uint8
	pending    map[uint8]pendingSignal

	// OnIncomingConnection is invoked for an unsolicited Connection
	// Request; returning accept=false rejects with ConnResultErrPSM.
	OnIncomingConnection func(psm uint16, remoteCID uint16) (accept bool, ch *Channel)
}

// NewManager creates a Manager over a, installing itself as a's
// data-received callback.
func NewManager(a *acl.Acl, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		acl:      a,
		log:      log,
		nextCID:  firstDynamicCID,
		channels: make(map[uint16]*Channel),
		pending:  make(map[uint8]pendingSignal),
	}
	a.DataReceivedCb = m.onData
	return m
}

func (m *Manager) nextIdentifier() uint8 {
	m.identifier++
	if m.identifier == 0 {
		m.identifier = 1
	}
	return m.identifier
}

func (m *Manager) allocCID() uint16 {
	for {
		cid := m.nextCID
		m.nextCID++
		if m.nextCID < firstDynamicCID { // wrapped past 0xffff
			m.nextCID = firstDynamicCID
		}
		if _, used := m.channels[cid]; !used {
			return cid
		}
	}
}

// Connect opens a new dynamic channel to psm, sending a Connection
// Request. ch.OnConnect fires with the eventual result.
func (m *Manager) Connect(psm uint16) (*Channel, error) {
	localCID := m.allocCID()
	ch := &Channel{mgr: m, localCID: localCID, psm: psm, state: StateWaitConnectRsp, remoteMTU: MinMTU}
	m.channels[localCID] = ch

	id := m.nextIdentifier()
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], psm)
	binary.LittleEndian.PutUint16(payload[2:4], localCID)
	m.pending[id] = pendingSignal{channel: ch, code: sigConnectionResponse}
	if err := m.sendSignal(sigConnectionRequest, id, payload); err != nil {
		delete(m.channels, localCID)
		return nil, err
	}
	return ch, nil
}

// sendConfigureRequest fragments opts into PDUs no larger than ch's
// known remoteMTU, sending every fragment back-to-back (each under its
// own identifier) and arming cfg to expect one response per fragment.
func (m *Manager) sendConfigureRequest(ch *Channel, opts Options, cfg *configureExchange) error {
	mtu := int(ch.remoteMTU)
	if mtu <= configReqHdrLen {
		mtu = MinMTU
	}
	chunks := opts.EncodeChunks(mtu - configReqHdrLen)

	for i, chunk := range chunks {
		cont := i < len(chunks)-1
		id := m.nextIdentifier()
		payload := make([]byte, configReqHdrLen, configReqHdrLen+len(chunk))
		binary.LittleEndian.PutUint16(payload[0:2], ch.remoteCID)
		flags := uint16(0)
		if cont {
			flags = configFlagContinuation
		}
		binary.LittleEndian.PutUint16(payload[2:4], flags)
		payload = append(payload, chunk...)

		cfg.remaining++
		m.pending[id] = pendingSignal{channel: ch, code: sigConfigureResponse, cfg: cfg}
		if err := m.sendSignal(sigConfigureRequest, id, payload); err != nil {
			return err
		}
	}
	return nil
}

// sendSignal wraps one signalling command in an L2CAP frame addressed
// to CIDSignalling and fragments it over the ACL connection.
func (m *Manager) sendSignal(code, id uint8, data []byte) error {
	cmd := make([]byte, signalHeaderLen+len(data))
	cmd[0] = code
	cmd[1] = id
	binary.LittleEndian.PutUint16(cmd[2:4], uint16(len(data)))
	copy(cmd[4:], data)
	return m.sendOnCID(CIDSignalling, cmd)
}

func (m *Manager) sendOnCID(cid uint16, payload []byte) error {
	sdu := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(sdu[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(sdu[2:4], cid)
	copy(sdu[4:], payload)

	fragments, err := m.acl.Fragment(sdu, acl.BroadcastPointToPoint)
	if err != nil {
		return err
	}
	m.acl.SendMessage(fragments)
	return nil
}

func (m *Manager) sendCommandReject(id uint8, reason uint16) error {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, reason)
	return m.sendSignal(sigCommandReject, id, payload)
}

// onData is installed as the ACL connection's data-received callback.
// It reads the L2CAP header and routes by CID: signalling commands are
// dispatched to handleSignal (possibly more than one packed into a
// single frame); dynamic-channel traffic goes to the channel's OnData.
func (m *Manager) onData(r *buffer.Reader) {
	hdr, err := r.PtrN(4)
	if err != nil {
		m.log.Warn("l2cap: short frame, missing header")
		return
	}
	length := binary.LittleEndian.Uint16(hdr[0:2])
	cid := binary.LittleEndian.Uint16(hdr[2:4])

	payload, err := r.PtrN(int(length))
	if err != nil {
		m.log.WithError(err).Warn("l2cap: frame shorter than declared length")
		return
	}

	if cid == CIDSignalling {
		m.handleSignalling(payload)
		return
	}

	ch := m.channelByLocalCID(cid)
	if ch == nil {
		return
	}
	if ch.OnData != nil {
		ch.OnData(payload)
	}
}

func (m *Manager) channelByLocalCID(cid uint16) *Channel {
	return m.channels[cid]
}

// handleSignalling processes every command packed into one signalling
// frame, in order.
func (m *Manager) handleSignalling(data []byte) {
	for len(data) >= 4 {
		code := data[0]
		id := data[1]
		length := binary.LittleEndian.Uint16(data[2:4])
		if len(data) < int(4+length) {
			m.log.Warn("l2cap: truncated signalling command")
			return
		}
		cmdData := data[4 : 4+length]
		data = data[4+length:]
		m.handleSignal(code, id, cmdData)
	}
}

func (m *Manager) handleSignal(code, id uint8, data []byte) {
	switch code {
	case sigConnectionRequest:
		m.handleConnectionRequest(id, data)
	case sigConnectionResponse:
		m.handleConnectionResponse(id, data)
	case sigConfigureRequest:
		m.handleConfigureRequest(id, data)
	case sigConfigureResponse:
		m.handleConfigureResponse(id, data)
	case sigDisconnectRequest:
		m.handleDisconnectRequest(id, data)
	case sigDisconnectResponse:
		m.handleDisconnectResponse(id, data)
	case sigCommandReject:
		m.handleCommandReject(id, data)
	default:
		m.sendCommandReject(id, RejectCommandNotUnderstood)
	}
}

// handleCommandReject routes a Command Reject to whatever request it
// answers, via the same pending table a normal response would consume -
// a Connect, Configure, or Disconnect request left unanswered by the
// peer otherwise leaves its caller waiting forever.
func (m *Manager) handleCommandReject(id uint8, data []byte) {
	pend, ok := m.pending[id]
	if !ok {
		m.log.WithField("id", id).Debug("l2cap: peer rejected an unmatched command")
		return
	}
	delete(m.pending, id)
	ch := pend.channel

	switch pend.code {
	case sigConnectionResponse:
		ch.state = StateClosed
		delete(m.channels, ch.localCID)
		if ch.OnConnect != nil {
			ch.OnConnect(ConnResultCommandRejected)
		}
	case sigConfigureResponse:
		if pend.cfg != nil {
			pend.cfg.accepted = false
			if pend.cfg.cb != nil {
				pend.cfg.cb(ConfigureResult{Accepted: false})
			}
		}
	case sigDisconnectResponse:
		delete(m.channels, ch.localCID)
		ch.state = StateClosed
		if ch.OnDisconnect != nil {
			ch.OnDisconnect()
		}
	}
}

func (m *Manager) handleConnectionRequest(id uint8, data []byte) {
	if len(data) < 4 {
		m.sendCommandReject(id, RejectCommandNotUnderstood)
		return
	}
	psm := binary.LittleEndian.Uint16(data[0:2])
	remoteCID := binary.LittleEndian.Uint16(data[2:4])

	accept := true
	var ch *Channel
	if m.OnIncomingConnection != nil {
		accept, ch = m.OnIncomingConnection(psm, remoteCID)
	}

	result := ConnResultErrPSM
	localCID := uint16(0)
	if accept {
		localCID = m.allocCID()
		if ch == nil {
			ch = &Channel{mgr: m}
		}
		ch.mgr = m
		ch.localCID = localCID
		ch.remoteCID = remoteCID
		ch.psm = psm
		ch.state = StateConfig
		if ch.remoteMTU == 0 {
			ch.remoteMTU = MinMTU
		}
		m.channels[localCID] = ch
		result = ConnResultSuccess
	}

	resp := make([]byte, 8)
	binary.LittleEndian.PutUint16(resp[0:2], localCID)
	binary.LittleEndian.PutUint16(resp[2:4], remoteCID)
	binary.LittleEndian.PutUint16(resp[4:6], result)
	binary.LittleEndian.PutUint16(resp[6:8], 0)
	m.sendSignal(sigConnectionResponse, id, resp)
}

func (m *Manager) handleConnectionResponse(id uint8, data []byte) {
	pend, ok := m.pending[id]
	if !ok || pend.code != sigConnectionResponse {
		return
	}
	if len(data) < 8 {
		return
	}
	destCID := binary.LittleEndian.Uint16(data[0:2])
	result := binary.LittleEndian.Uint16(data[4:6])

	ch := pend.channel
	if result == ConnResultPending {
		if ch.OnConnect != nil {
			ch.OnConnect(result)
		}
		return // do not free the pending slot; another response will follow
	}
	delete(m.pending, id)
	if result == ConnResultSuccess {
		ch.remoteCID = destCID
		ch.state = StateConfig
	} else {
		ch.state = StateClosed
		delete(m.channels, ch.localCID)
	}
	if ch.OnConnect != nil {
		ch.OnConnect(result)
	}
}

func (m *Manager) handleConfigureRequest(id uint8, data []byte) {
	if len(data) < 4 {
		m.sendCommandReject(id, RejectCommandNotUnderstood)
		return
	}
	destCID := binary.LittleEndian.Uint16(data[0:2])
	flags := binary.LittleEndian.Uint16(data[2:4])
	optData := data[4:]

	ch, ok := m.channels[destCID]
	if !ok {
		m.sendCommandReject(id, RejectInvalidCID)
		return
	}

	ch.configReqAccum = append(ch.configReqAccum, optData...)
	if flags&configFlagContinuation != 0 {
		// Acknowledge this fragment, mirroring the continuation flag the
		// request carried; the full option set isn't known until the
		// final, non-continuation request arrives.
		ackResp := make([]byte, configRspHdrLen)
		binary.LittleEndian.PutUint16(ackResp[0:2], ch.remoteCID)
		binary.LittleEndian.PutUint16(ackResp[2:4], flags&configFlagContinuation)
		binary.LittleEndian.PutUint16(ackResp[4:6], ConfigResultSuccess)
		m.sendSignal(sigConfigureResponse, id, ackResp)
		return
	}

	opts := DecodeOptions(ch.configReqAccum)
	ch.configReqAccum = nil

	if len(opts.Unknown) > 0 {
		resp := make([]byte, configRspHdrLen)
		binary.LittleEndian.PutUint16(resp[0:2], ch.remoteCID)
		binary.LittleEndian.PutUint16(resp[2:4], 0)
		binary.LittleEndian.PutUint16(resp[4:6], ConfigResultErrUnknown)
		for _, tlv := range opts.Unknown {
			resp = append(resp, tlv...)
		}
		m.sendSignal(sigConfigureResponse, id, resp)
		return
	}

	if ch.OnConfigureRequest != nil {
		opts = ch.OnConfigureRequest(opts)
	}
	rejected, ok2 := opts.Validate()

	result := ConfigResultSuccess
	var respOpts []byte
	if !ok2 {
		result = ConfigResultErrParams
		for _, t := range rejected {
			respOpts = append(respOpts, t, 0)
		}
	} else {
		ch.remoteConfigured = true
		if opts.HasMTU {
			ch.remoteMTU = opts.MTU
		}
	}

	resp := make([]byte, configRspHdrLen)
	binary.LittleEndian.PutUint16(resp[0:2], ch.remoteCID)
	binary.LittleEndian.PutUint16(resp[2:4], 0)
	binary.LittleEndian.PutUint16(resp[4:6], result)
	resp = append(resp, respOpts...)
	m.sendSignal(sigConfigureResponse, id, resp)

	ch.maybeOpen()
}

func (m *Manager) handleConfigureResponse(id uint8, data []byte) {
	pend, ok := m.pending[id]
	if !ok || pend.code != sigConfigureResponse {
		return
	}
	delete(m.pending, id)
	if len(data) < configRspHdrLen {
		return
	}
	flags := binary.LittleEndian.Uint16(data[2:4])
	result := binary.LittleEndian.Uint16(data[4:6])
	optData := data[configRspHdrLen:]

	cfg := pend.cfg
	if cfg == nil {
		return
	}
	ch := pend.channel
	if cfg.remaining > 0 {
		cfg.remaining--
	}

	switch result {
	case ConfigResultSuccess:
		cfg.opts = mergeOptions(cfg.opts, DecodeOptions(optData))
	case ConfigResultErrParams:
		cfg.accepted = false
		cfg.rejected = append(cfg.rejected, decodeRejectedTypes(optData)...)
	case ConfigResultErrUnknown:
		cfg.accepted = false
		// optData here is whatever raw TLVs the peer echoed back; keep
		// the whole blob as a single entry since, unlike our own
		// outbound ErrUnknown replies, it isn't necessarily one TLV per
		// append call on this side.
		if len(optData) > 0 {
			raw := make([]byte, len(optData))
			copy(raw, optData)
			cfg.unknown = append(cfg.unknown, raw)
		}
	default:
		cfg.accepted = false
	}

	if flags&configFlagContinuation != 0 {
		if cfg.remaining == 0 {
			// The responder has more to say than fit in the responses we
			// already expected; prompt it with a null-option request
			// under a new identifier and keep waiting.
			newID := m.nextIdentifier()
			m.pending[newID] = pendingSignal{channel: ch, code: sigConfigureResponse, cfg: cfg}
			cfg.remaining++
			nullPayload := make([]byte, configReqHdrLen)
			binary.LittleEndian.PutUint16(nullPayload[0:2], ch.remoteCID)
			m.sendSignal(sigConfigureRequest, newID, nullPayload)
		}
		return
	}
	if cfg.remaining > 0 {
		return // more fragments of our own multi-packet request still outstanding
	}

	if cfg.accepted {
		ch.localConfigured = true
	}
	ch.maybeOpen()
	if cfg.cb != nil {
		cfg.cb(ConfigureResult{
			Accepted: cfg.accepted,
			Rejected: cfg.rejected,
			Unknown:  cfg.unknown,
			Opts:     cfg.opts,
		})
	}
}

func (m *Manager) handleDisconnectRequest(id uint8, data []byte) {
	if len(data) < 4 {
		m.sendCommandReject(id, RejectCommandNotUnderstood)
		return
	}
	destCID := binary.LittleEndian.Uint16(data[0:2])
	srcCID := binary.LittleEndian.Uint16(data[2:4])

	ch, ok := m.channels[destCID]
	if !ok {
		m.sendCommandReject(id, RejectInvalidCID)
		return
	}
	delete(m.channels, destCID)
	ch.state = StateClosed

	resp := make([]byte, 4)
	binary.LittleEndian.PutUint16(resp[0:2], destCID)
	binary.LittleEndian.PutUint16(resp[2:4], srcCID)
	m.sendSignal(sigDisconnectResponse, id, resp)

	if ch.OnDisconnect != nil {
		ch.OnDisconnect()
	}
}

func (m *Manager) handleDisconnectResponse(id uint8, data []byte) {
	pend, ok := m.pending[id]
	if !ok || pend.code != sigDisconnectResponse {
		return
	}
	delete(m.pending, id)
	ch := pend.channel
	delete(m.channels, ch.localCID)
	ch.state = StateClosed
	if ch.OnDisconnect != nil {
		ch.OnDisconnect()
	}
}
