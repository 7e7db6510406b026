package acl

import (
	"encoding/binary"
	"testing"

	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hci"
)

type fakeBackend struct {
	sentCommands [][]byte
	sentData     [][]byte
}

func (f *fakeBackend) Init() error                     { return nil }
func (f *fakeBackend) HandleEvents(wait bool) (int, error) { return 0, nil }
func (f *fakeBackend) SendCommand(buf *buffer.Buffer) error {
	f.sentCommands = append(f.sentCommands, append([]byte{}, buf.ContiguousData()...))
	return nil
}
func (f *fakeBackend) SendData(buf *buffer.Buffer) error {
	f.sentData = append(f.sentData, append([]byte{}, buf.ContiguousData()...))
	return nil
}
func (f *fakeBackend) Deinit() error { return nil }

func newTestManager(t *testing.T) (*Manager, *hci.Device, *fakeBackend) {
	t.Helper()
	be := &fakeBackend{}
	dev := hci.NewDevice(be)
	dev.SetBufferSizes(27, 0, 10, 0)
	m, err := NewManager(dev, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, dev, be
}

// buildACLFragment packs a raw ACL Data packet carrying a first-segment
// L2CAP header whose length field covers the whole SDU, followed by
// payload bytes.
func buildACLFragment(handle uint16, pb uint8, l2capLen uint16, cid uint16, payload []byte) []byte {
	l2capHdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(l2capHdr[0:2], l2capLen)
	binary.LittleEndian.PutUint16(l2capHdr[2:4], cid)
	body := append(l2capHdr, payload...)

	frag := make([]byte, headerLen+len(body))
	hf := handle | (uint16(pb) << 12)
	binary.LittleEndian.PutUint16(frag[0:2], hf)
	binary.LittleEndian.PutUint16(frag[2:4], uint16(len(body)))
	copy(frag[4:], body)
	return frag
}

func toBuffer(raw []byte) *buffer.Buffer {
	b := buffer.AllocContiguous(len(raw))
	w := buffer.NewWriter(b, 0)
	w.Write(raw)
	return b
}

func TestReassemblySingleFragment(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := m.NewAcl([6]byte{1, 2, 3, 4, 5, 6})
	a.connHandle = 0x0001
	m.byHandle[0x0001] = a

	var got []byte
	a.DataReceivedCb = func(r *buffer.Reader) {
		buf := make([]byte, 64)
		n, _ := r.Read(buf)
		got = buf[:n]
	}

	payload := []byte("hello")
	frag := buildACLFragment(0x0001, pbFirstFlush, uint16(len(payload))+0, 0x0040, payload)
	m.onDataReceived(toBuffer(frag))

	want := append([]byte{byte(len(payload)), 0x00, 0x40, 0x00}, payload...)
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestReassemblyAcrossFragments(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := m.NewAcl([6]byte{9, 9, 9, 9, 9, 9})
	a.connHandle = 0x0002
	m.byHandle[0x0002] = a

	var got []byte
	a.DataReceivedCb = func(r *buffer.Reader) {
		buf := make([]byte, 64)
		n, _ := r.Read(buf)
		got = buf[:n]
	}

	full := []byte("abcdefghij")
	l2capHdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(l2capHdr[0:2], uint16(len(full)))
	binary.LittleEndian.PutUint16(l2capHdr[2:4], 0x0040)
	sdu := append(l2capHdr, full...)

	first := sdu[:6]
	rest := sdu[6:]

	f1 := make([]byte, headerLen+len(first))
	binary.LittleEndian.PutUint16(f1[0:2], 0x0002|(pbFirstFlush<<12))
	binary.LittleEndian.PutUint16(f1[2:4], uint16(len(first)))
	copy(f1[4:], first)

	f2 := make([]byte, headerLen+len(rest))
	binary.LittleEndian.PutUint16(f2[0:2], 0x0002|(pbContinuation<<12))
	binary.LittleEndian.PutUint16(f2[2:4], uint16(len(rest)))
	copy(f2[4:], rest)

	m.onDataReceived(toBuffer(f1))
	if got != nil {
		t.Fatalf("delivered early after first fragment")
	}
	m.onDataReceived(toBuffer(f2))
	if string(got) != string(sdu) {
		t.Fatalf("got %v, want %v", got, sdu)
	}
}

func TestReassemblyOvershootTruncates(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := m.NewAcl([6]byte{7, 7, 7, 7, 7, 7})
	a.connHandle = 0x0003
	m.byHandle[0x0003] = a

	var got []byte
	a.DataReceivedCb = func(r *buffer.Reader) {
		buf := make([]byte, 64)
		n, _ := r.Read(buf)
		got = buf[:n]
	}

	// Claim an L2CAP length shorter than what's actually delivered.
	payload := []byte("0123456789")
	frag := buildACLFragment(0x0003, pbFirstFlush, 3, 0x0040, payload)
	m.onDataReceived(toBuffer(frag))

	if len(got) != int(3)+4 {
		t.Fatalf("expected truncation to l2cap length + header, got %d bytes", len(got))
	}
}

func TestDisconnectionClearsHandle(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := m.NewAcl([6]byte{1, 1, 1, 1, 1, 1})
	a.connHandle = 0x0005
	m.byHandle[0x0005] = a

	reason := uint8(0)
	a.DisconnectedCb = func(r uint8) { reason = r }

	handled := m.onDisconnectionComplete(hci.DisconnectionComplete{Status: 0, Handle: 0x0005, Reason: 0x13})
	if !handled {
		t.Fatalf("expected disconnection to be handled")
	}
	if reason != 0x13 {
		t.Fatalf("expected reason 0x13, got %#x", reason)
	}
	if a.ConnHandle() != invalidHandle {
		t.Fatalf("expected handle invalidated")
	}
	if m.aclForHandle(0x0005) != nil {
		t.Fatalf("expected handle removed from routing table")
	}
}

func TestCreateMessageFragmentsToMTU(t *testing.T) {
	m, dev, _ := newTestManager(t)
	dev.SetBufferSizes(8, 0, 10, 0) // MTU 8, header 4 -> 4 bytes payload per fragment
	a := m.NewAcl([6]byte{2, 2, 2, 2, 2, 2})
	a.connHandle = 0x0007

	frags, err := a.CreateMessage(10, BroadcastPointToPoint)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments for 10 bytes at 4-byte payload MTU, got %d", len(frags))
	}
	for i, f := range frags {
		if len(f) > 8 {
			t.Fatalf("fragment %d exceeds MTU: %d bytes", i, len(f))
		}
	}
}
