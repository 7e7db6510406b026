package l2cap

import (
	"encoding/binary"
	"testing"

	"github.com/edgebt/bte/acl"
	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hci"
)

type fakeBackend struct {
	sentCommands [][]byte
	sentData     [][]byte
}

func (f *fakeBackend) Init() error                          { return nil }
func (f *fakeBackend) HandleEvents(wait bool) (int, error)   { return 0, nil }
func (f *fakeBackend) SendCommand(buf *buffer.Buffer) error {
	f.sentCommands = append(f.sentCommands, append([]byte{}, buf.ContiguousData()...))
	return nil
}
func (f *fakeBackend) SendData(buf *buffer.Buffer) error {
	f.sentData = append(f.sentData, append([]byte{}, buf.ContiguousData()...))
	return nil
}
func (f *fakeBackend) Deinit() error { return nil }

func newTestChannelPair(t *testing.T) (*Manager, *acl.Acl, *fakeBackend) {
	t.Helper()
	be := &fakeBackend{}
	dev := hci.NewDevice(be)
	dev.SetBufferSizes(672+4, 0, 10, 0)
	am, err := acl.NewManager(dev, nil)
	if err != nil {
		t.Fatalf("acl.NewManager: %v", err)
	}
	a := am.NewAcl([6]byte{1, 2, 3, 4, 5, 6})
	a.SetConnHandle(0x0001)
	m := NewManager(a, nil)
	return m, a, be
}

// deliverSignalFrame builds a single-command signalling C-frame and feeds
// it through the manager's ACL data callback directly, bypassing HCI/ACL
// wire framing (that path is covered by the acl package's own tests).
func deliverSignalFrame(m *Manager, code, id uint8, payload []byte) {
	cmd := make([]byte, 4+len(payload))
	cmd[0] = code
	cmd[1] = id
	binary.LittleEndian.PutUint16(cmd[2:4], uint16(len(payload)))
	copy(cmd[4:], payload)

	frame := make([]byte, 4+len(cmd))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(cmd)))
	binary.LittleEndian.PutUint16(frame[2:4], CIDSignalling)
	copy(frame[4:], cmd)

	b := buffer.AllocContiguous(len(frame))
	w := buffer.NewWriter(b, 0)
	w.Write(frame)
	m.onData(buffer.NewReader(b, 0))
}

func TestConnectSendsConnectionRequest(t *testing.T) {
	m, _, be := newTestChannelPair(t)
	ch, err := m.Connect(PSMRFCOMM)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ch.State() != StateWaitConnectRsp {
		t.Fatalf("expected WaitConnectRsp, got %v", ch.State())
	}
	if len(be.sentData) != 1 {
		t.Fatalf("expected one outgoing fragment, got %d", len(be.sentData))
	}
}

func TestConnectionResponseOpensAfterConfig(t *testing.T) {
	m, _, _ := newTestChannelPair(t)
	ch, err := m.Connect(PSMSDP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	opened := false
	ch.OnOpen = func() { opened = true }

	// Find the identifier we used: it's 1, the first allocated by this manager.
	id := uint8(1)
	resp := make([]byte, 8)
	binary.LittleEndian.PutUint16(resp[0:2], 0x0050) // peer's dest CID
	binary.LittleEndian.PutUint16(resp[2:4], ch.LocalCID())
	binary.LittleEndian.PutUint16(resp[4:6], ConnResultSuccess)
	deliverSignalFrame(m, sigConnectionResponse, id, resp)

	if ch.State() != StateConfig {
		t.Fatalf("expected Config state after successful connection, got %v", ch.State())
	}
	if ch.RemoteCID() != 0x0050 {
		t.Fatalf("expected remote CID 0x0050, got %#x", ch.RemoteCID())
	}

	// Our outbound Configure Request completes.
	var result ConfigureResult
	ch.Configure(Options{HasMTU: true, MTU: DefaultMTU}, func(r ConfigureResult) { result = r })
	deliverSignalFrame(m, sigConfigureResponse, 2, []byte{0, 0, 0, 0, 0, 0})

	if !result.Accepted {
		t.Fatalf("expected Configure callback to report acceptance")
	}

	if !ch.localConfigured {
		t.Fatalf("expected local side configured")
	}
	if opened {
		t.Fatalf("should not open until remote configures us too")
	}

	// Peer sends its Configure Request for our direction.
	configReqPayload := make([]byte, 4)
	binary.LittleEndian.PutUint16(configReqPayload[0:2], ch.LocalCID())
	binary.LittleEndian.PutUint16(configReqPayload[2:4], 0)
	configReqPayload = append(configReqPayload, Options{HasMTU: true, MTU: DefaultMTU}.Encode()...)
	deliverSignalFrame(m, sigConfigureRequest, 3, configReqPayload)

	if !ch.remoteConfigured {
		t.Fatalf("expected remote side configured")
	}
	if !opened {
		t.Fatalf("expected channel open once both directions configured")
	}
}

func TestConfigureRequestRejectsSmallMTU(t *testing.T) {
	m, _, _ := newTestChannelPair(t)
	localCID := m.allocCID()
	ch := &Channel{mgr: m, localCID: localCID, remoteCID: 0x0060, state: StateConfig}
	m.channels[localCID] = ch

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], localCID)
	opts := Options{HasMTU: true, MTU: 10}
	payload = append(payload, opts.Encode()...)

	deliverSignalFrame(m, sigConfigureRequest, 5, payload)

	if ch.remoteConfigured {
		t.Fatalf("expected configuration to be rejected for undersized MTU")
	}
}

func TestUnknownSignalIsRejected(t *testing.T) {
	m, _, be := newTestChannelPair(t)
	deliverSignalFrame(m, 0x7f, 9, nil)
	// The Command Reject goes out as one ACL fragment: ACL header(4),
	// L2CAP header(4), then the signalling code and identifier.
	if len(be.sentData) != 1 {
		t.Fatalf("expected one Command Reject fragment, got %d", len(be.sentData))
	}
	if code, id := be.sentData[0][8], be.sentData[0][9]; code != sigCommandReject || id != 9 {
		t.Fatalf("expected Command Reject with id 9, got code %#x id %d", code, id)
	}
}

func TestIncomingConnectionAccepted(t *testing.T) {
	m, _, _ := newTestChannelPair(t)
	var gotPSM uint16
	m.OnIncomingConnection = func(psm uint16, remoteCID uint16) (bool, *Channel) {
		gotPSM = psm
		return true, nil
	}

	req := make([]byte, 4)
	binary.LittleEndian.PutUint16(req[0:2], PSMBNEP)
	binary.LittleEndian.PutUint16(req[2:4], 0x0070)
	deliverSignalFrame(m, sigConnectionRequest, 1, req)

	if gotPSM != PSMBNEP {
		t.Fatalf("expected PSM %#x, got %#x", PSMBNEP, gotPSM)
	}
	if len(m.channels) != 1 {
		t.Fatalf("expected one channel registered, got %d", len(m.channels))
	}
}

func TestConfigureResponseContinuationPromptsNullRequest(t *testing.T) {
	m, _, be := newTestChannelPair(t)
	ch, err := m.Connect(PSMSDP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	resp := make([]byte, 8)
	binary.LittleEndian.PutUint16(resp[2:4], ch.LocalCID())
	binary.LittleEndian.PutUint16(resp[4:6], ConnResultSuccess)
	deliverSignalFrame(m, sigConnectionResponse, 1, resp)

	var result ConfigureResult
	done := false
	ch.Configure(Options{HasMTU: true, MTU: DefaultMTU}, func(r ConfigureResult) { result = r; done = true })

	before := len(be.sentData)
	// The peer's response sets continuation=1, meaning it has more to say
	// than we expected; we must prompt it with a null-option request.
	contResp := make([]byte, 6)
	binary.LittleEndian.PutUint16(contResp[2:4], configFlagContinuation)
	binary.LittleEndian.PutUint16(contResp[4:6], ConfigResultSuccess)
	deliverSignalFrame(m, sigConfigureResponse, 2, contResp)

	if done {
		t.Fatalf("callback should not fire until the peer's continuation clears")
	}
	if len(be.sentData) != before+1 {
		t.Fatalf("expected a null-option Configure Request to be sent, got %d new fragments", len(be.sentData)-before)
	}

	finalResp := make([]byte, 6)
	binary.LittleEndian.PutUint16(finalResp[4:6], ConfigResultSuccess)
	deliverSignalFrame(m, sigConfigureResponse, 3, finalResp)

	if !done || !result.Accepted {
		t.Fatalf("expected the merged callback to fire and report acceptance")
	}
}

func TestConfigureRequestWithUnknownOptionRejected(t *testing.T) {
	m, _, _ := newTestChannelPair(t)
	localCID := m.allocCID()
	ch := &Channel{mgr: m, localCID: localCID, remoteCID: 0x0090, state: StateConfig, remoteMTU: MinMTU}
	m.channels[localCID] = ch
	called := false
	ch.OnConfigureRequest = func(opts Options) Options { called = true; return opts }

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], localCID)
	payload = append(payload, 0x7e, 3, 1, 2, 3) // unrecognised type, hint bit clear

	deliverSignalFrame(m, sigConfigureRequest, 6, payload)

	if called {
		t.Fatalf("OnConfigureRequest must not run when the request carries unknown options")
	}
	if ch.remoteConfigured {
		t.Fatalf("channel must not be configured when options are unknown")
	}
}

func TestCommandRejectNotifiesConnectCallback(t *testing.T) {
	m, _, _ := newTestChannelPair(t)
	ch, err := m.Connect(PSMSDP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var result uint16
	ch.OnConnect = func(r uint16) { result = r }

	rejectPayload := make([]byte, 2)
	binary.LittleEndian.PutUint16(rejectPayload, RejectCommandNotUnderstood)
	deliverSignalFrame(m, sigCommandReject, 1, rejectPayload)

	if result != ConnResultCommandRejected {
		t.Fatalf("expected OnConnect to report ConnResultCommandRejected, got %#x", result)
	}
	if _, ok := m.channels[ch.LocalCID()]; ok {
		t.Fatalf("expected channel to be removed after a Command Reject")
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	m, _, _ := newTestChannelPair(t)
	localCID := m.allocCID()
	ch := &Channel{mgr: m, localCID: localCID, remoteCID: 0x0080, state: StateOpen}
	m.channels[localCID] = ch

	disconnected := false
	ch.OnDisconnect = func() { disconnected = true }

	req := make([]byte, 4)
	binary.LittleEndian.PutUint16(req[0:2], localCID)
	binary.LittleEndian.PutUint16(req[2:4], ch.remoteCID)
	deliverSignalFrame(m, sigDisconnectRequest, 4, req)

	if !disconnected {
		t.Fatalf("expected OnDisconnect to fire")
	}
	if _, ok := m.channels[localCID]; ok {
		t.Fatalf("expected channel removed after disconnection")
	}
}
