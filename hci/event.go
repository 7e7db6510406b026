package hci

import "encoding/binary"

// EventCode identifies an HCI event packet's first byte.
type EventCode uint8

const (
	EvtInquiryComplete            EventCode = 0x01
	EvtInquiryResult              EventCode = 0x02
	EvtConnectionComplete         EventCode = 0x03
	EvtConnectionRequest          EventCode = 0x04
	EvtDisconnectionComplete      EventCode = 0x05
	EvtAuthenticationComplete     EventCode = 0x06
	EvtRemoteNameRequestComplete  EventCode = 0x07
	EvtEncryptionChange           EventCode = 0x08
	EvtChangeConnLinkKeyComplete  EventCode = 0x09
	EvtLinkKeyTypeChanged         EventCode = 0x0A
	EvtReadRemoteSupportedFeatsComplete EventCode = 0x0B
	EvtReadRemoteVersionComplete  EventCode = 0x0C
	EvtQosSetupComplete           EventCode = 0x0D
	EvtCommandComplete            EventCode = 0x0E
	EvtCommandStatus              EventCode = 0x0F
	EvtHardwareError              EventCode = 0x10
	EvtFlushOccurred              EventCode = 0x11
	EvtRoleChange                 EventCode = 0x12
	EvtNumberOfCompletedPackets   EventCode = 0x13
	EvtModeChange                 EventCode = 0x14
	EvtReturnLinkKeys             EventCode = 0x15
	EvtPinCodeRequest             EventCode = 0x16
	EvtLinkKeyRequest             EventCode = 0x17
	EvtLinkKeyNotification        EventCode = 0x18
	EvtMaxSlotsChange             EventCode = 0x1B
	EvtReadClockOffsetComplete    EventCode = 0x1C
)

// Header is the 2-byte prefix common to every HCI event packet.
type Header struct {
	Code EventCode
	Len  uint8
}

// ParseHeader reads the 2-byte event header from the front of b.
func ParseHeader(b []byte) (Header, []byte) {
	if len(b) < 2 {
		return Header{}, nil
	}
	return Header{Code: EventCode(b[0]), Len: b[1]}, b[2:]
}

// CommandComplete is the payload of a Command Complete event.
type CommandComplete struct {
	NumPackets uint8
	Opcode     Opcode
	Ret        []byte // return parameters, opcode-specific
}

// ParseCommandComplete decodes a Command Complete event payload (the
// bytes after the 2-byte event header).
func ParseCommandComplete(data []byte) (CommandComplete, bool) {
	if len(data) < 3 {
		return CommandComplete{}, false
	}
	return CommandComplete{
		NumPackets: data[0],
		Opcode:     Opcode(binary.LittleEndian.Uint16(data[1:3])),
		Ret:        data[3:],
	}, true
}

// CommandStatus is the payload of a Command Status event.
type CommandStatus struct {
	Status     uint8
	NumPackets uint8
	Opcode     Opcode
}

// ParseCommandStatus decodes a Command Status event payload.
func ParseCommandStatus(data []byte) (CommandStatus, bool) {
	if len(data) < 4 {
		return CommandStatus{}, false
	}
	return CommandStatus{
		Status:     data[0],
		NumPackets: data[1],
		Opcode:     Opcode(binary.LittleEndian.Uint16(data[2:4])),
	}, true
}

// NumberOfCompletedPackets is one handle/count pair from a
// Number-of-Completed-Packets event, which carries an array of these.
type NumberOfCompletedPackets struct {
	Handle uint16
	Count  uint16
}

// ParseNumberOfCompletedPackets decodes the event payload into its
// per-handle entries.
func ParseNumberOfCompletedPackets(data []byte) []NumberOfCompletedPackets {
	if len(data) < 1 {
		return nil
	}
	n := int(data[0])
	data = data[1:]
	if len(data) < n*4 {
		return nil
	}
	out := make([]NumberOfCompletedPackets, 0, n)
	for i := 0; i < n; i++ {
		handle := binary.LittleEndian.Uint16(data[i*2:]) & 0x0fff
		count := binary.LittleEndian.Uint16(data[n*2+i*2:])
		out = append(out, NumberOfCompletedPackets{Handle: handle, Count: count})
	}
	return out
}

// ConnectionComplete is the payload of a Connection Complete event.
type ConnectionComplete struct {
	Status         uint8
	Handle         uint16
	Address        [6]byte
	LinkType       uint8
	EncryptionMode uint8
}

func ParseConnectionComplete(data []byte) (ConnectionComplete, bool) {
	if len(data) < 11 {
		return ConnectionComplete{}, false
	}
	var c ConnectionComplete
	c.Status = data[0]
	c.Handle = binary.LittleEndian.Uint16(data[1:3]) & 0x0fff
	copy(c.Address[:], data[3:9])
	c.LinkType = data[9]
	c.EncryptionMode = data[10]
	return c, true
}

// ConnectionRequest is the payload of a Connection Request event.
type ConnectionRequest struct {
	Address      [6]byte
	ClassOfDevice [3]byte
	LinkType     uint8
}

func ParseConnectionRequest(data []byte) (ConnectionRequest, bool) {
	if len(data) < 10 {
		return ConnectionRequest{}, false
	}
	var c ConnectionRequest
	copy(c.Address[:], data[0:6])
	copy(c.ClassOfDevice[:], data[6:9])
	c.LinkType = data[9]
	return c, true
}

// DisconnectionComplete is the payload of a Disconnection Complete event.
type DisconnectionComplete struct {
	Status uint8
	Handle uint16
	Reason uint8
}

func ParseDisconnectionComplete(data []byte) (DisconnectionComplete, bool) {
	if len(data) < 4 {
		return DisconnectionComplete{}, false
	}
	return DisconnectionComplete{
		Status: data[0],
		Handle: binary.LittleEndian.Uint16(data[1:3]) & 0x0fff,
		Reason: data[3],
	}, true
}

// InquiryResult is one record of an Inquiry Result event (which may
// carry several).
type InquiryResult struct {
	Address       [6]byte
	PageScanRepetitionMode uint8
	ClassOfDevice [3]byte
	ClockOffset   uint16
}

// ParseInquiryResult decodes every record in an Inquiry Result event
// payload.
func ParseInquiryResult(data []byte) []InquiryResult {
	if len(data) < 1 {
		return nil
	}
	n := int(data[0])
	const recSize = 6 + 1 + 2 /*reserved*/ + 3 + 2
	body := data[1:]
	if len(body) < n*recSize {
		return nil
	}
	// Addresses, then page-scan-repetition-modes, then reserved*2, then
	// CoDs, then clock offsets - each field is a parallel array across
	// all n records, per the Bluetooth Core spec layout.
	addrs := body[:n*6]
	psrm := body[n*6 : n*7]
	cods := body[n*7+n*2 : n*7+n*2+n*3]
	offs := body[n*7+n*2+n*3:]
	out := make([]InquiryResult, 0, n)
	for i := 0; i < n; i++ {
		var r InquiryResult
		copy(r.Address[:], addrs[i*6:i*6+6])
		r.PageScanRepetitionMode = psrm[i]
		copy(r.ClassOfDevice[:], cods[i*3:i*3+3])
		if len(offs) >= (i+1)*2 {
			r.ClockOffset = binary.LittleEndian.Uint16(offs[i*2 : i*2+2])
		}
		out = append(out, r)
	}
	return out
}

// InquiryComplete is the payload of an Inquiry Complete event.
type InquiryComplete struct {
	Status uint8
}

func ParseInquiryComplete(data []byte) (InquiryComplete, bool) {
	if len(data) < 1 {
		return InquiryComplete{}, false
	}
	return InquiryComplete{Status: data[0]}, true
}

// LinkKeyRequest is the payload of a Link Key Request event.
type LinkKeyRequest struct {
	Address [6]byte
}

func ParseLinkKeyRequest(data []byte) (LinkKeyRequest, bool) {
	if len(data) < 6 {
		return LinkKeyRequest{}, false
	}
	var r LinkKeyRequest
	copy(r.Address[:], data[0:6])
	return r, true
}

// PinCodeRequest is the payload of a Pin Code Request event.
type PinCodeRequest struct {
	Address [6]byte
}

func ParsePinCodeRequest(data []byte) (PinCodeRequest, bool) {
	if len(data) < 6 {
		return PinCodeRequest{}, false
	}
	var r PinCodeRequest
	copy(r.Address[:], data[0:6])
	return r, true
}
