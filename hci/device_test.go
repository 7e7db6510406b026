package hci

import (
	"encoding/binary"
	"testing"

	"github.com/edgebt/bte/buffer"
	"github.com/edgebt/bte/hcierr"
)

type fakeBackend struct {
	sentCommands [][]byte
}

func (f *fakeBackend) Init() error                        { return nil }
func (f *fakeBackend) HandleEvents(wait bool) (int, error) { return 0, nil }
func (f *fakeBackend) SendCommand(buf *buffer.Buffer) error {
	f.sentCommands = append(f.sentCommands, append([]byte{}, buf.ContiguousData()...))
	return nil
}
func (f *fakeBackend) SendData(buf *buffer.Buffer) error { return nil }
func (f *fakeBackend) Deinit() error                     { return nil }

func commandCompleteEvent(op Opcode, ret []byte) *buffer.Buffer {
	body := make([]byte, 3+len(ret))
	body[0] = 1 // num packets
	binary.LittleEndian.PutUint16(body[1:3], uint16(op))
	copy(body[3:], ret)

	raw := make([]byte, 2+len(body))
	raw[0] = byte(EvtCommandComplete)
	raw[1] = byte(len(body))
	copy(raw[2:], body)

	b := buffer.AllocContiguous(len(raw))
	w := buffer.NewWriter(b, 0)
	w.Write(raw)
	return b
}

func commandStatusEvent(status uint8, op Opcode) *buffer.Buffer {
	body := make([]byte, 4)
	body[0] = status
	body[1] = 1
	binary.LittleEndian.PutUint16(body[2:4], uint16(op))

	raw := make([]byte, 2+len(body))
	raw[0] = byte(EvtCommandStatus)
	raw[1] = byte(len(body))
	copy(raw[2:], body)

	b := buffer.AllocContiguous(len(raw))
	w := buffer.NewWriter(b, 0)
	w.Write(raw)
	return b
}

func TestPendingCommandTableExhaustion(t *testing.T) {
	be := &fakeBackend{}
	dev := NewDevice(be, WithMaxPendingCommands(2))

	op1 := MakeOpcode(OGFHostControl, ocfReset)
	op2 := MakeOpcode(OGFInfoParam, ocfReadBdAddr)
	op3 := MakeOpcode(OGFInfoParam, ocfReadLocalFeatures)

	if _, err := dev.addPendingCommand(op1.OGF(), op1.OCF(), 0, false, nil, nil, nil); err != nil {
		t.Fatalf("first command should be admitted: %v", err)
	}
	if _, err := dev.addPendingCommand(op2.OGF(), op2.OCF(), 0, false, nil, nil, nil); err != nil {
		t.Fatalf("second command should be admitted: %v", err)
	}
	_, err := dev.addPendingCommand(op3.OGF(), op3.OCF(), 0, false, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected third command to be rejected, table has only 2 slots")
	}
	if hciErr, ok := err.(*hcierr.Error); !ok || hciErr.Kind != hcierr.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestDuplicateOpcodeRejected(t *testing.T) {
	be := &fakeBackend{}
	dev := NewDevice(be, WithMaxPendingCommands(4))

	op := MakeOpcode(OGFHostControl, ocfReset)
	if _, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, false, nil, nil, nil); err != nil {
		t.Fatalf("first Reset should be admitted: %v", err)
	}
	_, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, false, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected duplicate opcode to be rejected")
	}
	if hciErr, ok := err.(*hcierr.Error); !ok || hciErr.Kind != hcierr.NotAllowed {
		t.Fatalf("expected NotAllowed, got %v", err)
	}
}

func TestCommandCompleteDeliversAndFreesSlot(t *testing.T) {
	be := &fakeBackend{}
	dev := NewDevice(be, WithMaxPendingCommands(4))

	op := MakeOpcode(OGFHostControl, ocfReset)
	var gotRet []byte
	_, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, false, func(ret []byte) { gotRet = ret }, nil, nil)
	if err != nil {
		t.Fatalf("addPendingCommand: %v", err)
	}

	dev.DispatchEvent(commandCompleteEvent(op, []byte{0x00}))
	dev.Pump()

	if len(gotRet) != 1 || gotRet[0] != 0 {
		t.Fatalf("expected completion callback with status 0, got %v", gotRet)
	}

	// The slot must be free again: the same opcode can be issued a
	// second time without hitting the duplicate-opcode rejection.
	if _, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, false, nil, nil, nil); err != nil {
		t.Fatalf("expected slot freed after completion, got: %v", err)
	}
}

func TestAsyncCommandStatusFailureFreesSlot(t *testing.T) {
	be := &fakeBackend{}
	dev := NewDevice(be, WithMaxPendingCommands(4))

	op := MakeOpcode(OGFLinkControl, ocfCreateConnection)
	var gotStatus uint8
	_, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, true, nil, func(status uint8) { gotStatus = status }, nil)
	if err != nil {
		t.Fatalf("addPendingCommand: %v", err)
	}

	dev.DispatchEvent(commandStatusEvent(0x0C /* arbitrary non-zero status */, op))
	dev.Pump()

	if gotStatus != 0x0C {
		t.Fatalf("expected status 0x0C delivered, got %#x", gotStatus)
	}
	if _, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, true, nil, nil, nil); err != nil {
		t.Fatalf("expected slot freed after status failure, got: %v", err)
	}
}

func TestAsyncCommandStatusSuccessLeavesSlotArmed(t *testing.T) {
	be := &fakeBackend{}
	dev := NewDevice(be, WithMaxPendingCommands(4))

	op := MakeOpcode(OGFLinkControl, ocfCreateConnection)
	statusSeen := false
	_, err := dev.addPendingCommand(op.OGF(), op.OCF(), 0, true, nil, func(status uint8) { statusSeen = true }, nil)
	if err != nil {
		t.Fatalf("addPendingCommand: %v", err)
	}

	dev.DispatchEvent(commandStatusEvent(0x00, op))
	dev.Pump()

	if !statusSeen {
		t.Fatalf("expected status callback invoked")
	}
	_, err = dev.addPendingCommand(op.OGF(), op.OCF(), 0, true, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected opcode still pending (armed, awaiting follow-up event)")
	}
}
