package hci

import (
	"encoding/binary"

	"github.com/edgebt/bte/matcher"
)

// Session is the per-client façade exposing typed HCI commands: one
// thin encoder/decoder per command the stack covers. The only
// nontrivial ones are Inquiry (accumulates Inquiry Result events until
// Inquiry Complete) and Read Stored Link Key (accumulates returned key
// records into one callback), both implemented in inquiry.go.
type Session struct {
	client *Client
	dev    *Device
}

// Client returns the owning Client.
func (s *Session) Client() *Client { return s.client }

// Reply is the common {status} reply shape shared by every command that
// has no additional return parameters.
type Reply struct {
	Status uint8
}

func (s *Session) command(ogf OGF, ocf uint16, params []byte, completionCb func(ret []byte)) error {
	w, err := s.dev.AddPendingCommand(ogf, ocf, len(params), completionCb, nil)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		w.Write(params)
	}
	return s.dev.Send(w.End())
}

func (s *Session) simpleCommand(ogf OGF, ocf uint16, params []byte, cb func(Reply)) error {
	return s.command(ogf, ocf, params, func(ret []byte) {
		var r Reply
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if cb != nil {
			cb(r)
		}
	})
}

// asyncCommand issues a command that completes via Command Status
// followed by a later named event. armWaiter is invoked only when
// status == 0 (success) and is responsible for calling
// Device.ArmAsyncWaiter with the matcher that disambiguates the
// follow-up event.
func (s *Session) asyncCommand(ogf OGF, ocf uint16, params []byte, onStatus func(status uint8), armWaiter func(opcode Opcode)) error {
	op := MakeOpcode(ogf, ocf)
	w, err := s.dev.AddPendingAsyncCommand(ogf, ocf, len(params), func(status uint8) {
		if status == 0 && armWaiter != nil {
			armWaiter(op)
		}
		if onStatus != nil {
			onStatus(status)
		}
	}, nil)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		w.Write(params)
	}
	return s.dev.Send(w.End())
}

// --- Host Controller & Baseband / Informational Parameters ---

func (s *Session) Nop(cb func(Reply)) error { return s.simpleCommand(OGFHostControl, 0x0000, nil, cb) }

func (s *Session) Reset(cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfReset, nil, cb)
}

func (s *Session) SetEventMask(mask uint64, cb func(Reply)) error {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, mask)
	return s.simpleCommand(OGFHostControl, ocfSetEventMask, p, cb)
}

func (s *Session) SetEventMaskPage2(mask uint64, cb func(Reply)) error {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, mask)
	return s.simpleCommand(OGFHostControl, ocfSetEventMaskPage2, p, cb)
}

func (s *Session) SetEventFilter(filterType, filterCondition uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfSetEventFilter, []byte{filterType, filterCondition}, cb)
}

func (s *Session) WriteLocalName(name string, cb func(Reply)) error {
	p := make([]byte, 248)
	copy(p, name)
	return s.simpleCommand(OGFHostControl, ocfWriteLocalName, p, cb)
}

type ReadLocalNameReply struct {
	Status uint8
	Name   string
}

func (s *Session) ReadLocalName(cb func(ReadLocalNameReply)) error {
	return s.command(OGFHostControl, ocfReadLocalName, nil, func(ret []byte) {
		r := ReadLocalNameReply{}
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if len(ret) > 1 {
			name := ret[1:]
			n := 0
			for n < len(name) && name[n] != 0 {
				n++
			}
			r.Name = string(name[:n])
		}
		if cb != nil {
			cb(r)
		}
	})
}

func (s *Session) WriteClassOfDevice(cod [3]byte, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteClassOfDevice, cod[:], cb)
}

func (s *Session) WritePageTimeout(timeout uint16, cb func(Reply)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, timeout)
	return s.simpleCommand(OGFHostControl, ocfWritePageTimeout, p, cb)
}

func (s *Session) WriteScanEnable(scanEnable uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteScanEnable, []byte{scanEnable}, cb)
}

func (s *Session) WriteAuthenticationEnable(enable uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteAuthenticationEnable, []byte{enable}, cb)
}

func (s *Session) WriteFlushTimeout(handle, timeout uint16, cb func(Reply)) error {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], handle)
	binary.LittleEndian.PutUint16(p[2:], timeout)
	return s.simpleCommand(OGFHostControl, ocfWriteFlushTimeout, p, cb)
}

type ReadPinTypeReply struct {
	Status  uint8
	PinType uint8
}

func (s *Session) ReadPinType(cb func(ReadPinTypeReply)) error {
	return s.command(OGFHostControl, ocfReadPinType, nil, func(ret []byte) {
		r := ReadPinTypeReply{}
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if len(ret) > 1 {
			r.PinType = ret[1]
		}
		if cb != nil {
			cb(r)
		}
	})
}

func (s *Session) WritePinType(pinType uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWritePinType, []byte{pinType}, cb)
}

func (s *Session) WriteInquiryScanType(t uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteInquiryScanType, []byte{t}, cb)
}

func (s *Session) WritePageScanType(t uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWritePageScanType, []byte{t}, cb)
}

func (s *Session) WriteInquiryMode(mode uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteInquiryMode, []byte{mode}, cb)
}

func (s *Session) WriteCurrentIacLap(laps [][3]byte, cb func(Reply)) error {
	p := make([]byte, 1+3*len(laps))
	p[0] = uint8(len(laps))
	for i, l := range laps {
		copy(p[1+i*3:], l[:])
	}
	return s.simpleCommand(OGFHostControl, ocfWriteCurrentIacLap, p, cb)
}

func (s *Session) WriteLinkSupervisionTimeout(handle, timeout uint16, cb func(Reply)) error {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], handle)
	binary.LittleEndian.PutUint16(p[2:], timeout)
	return s.simpleCommand(OGFHostControl, ocfWriteLinkSupervisionTimeout, p, cb)
}

func (s *Session) WriteSimplePairingMode(mode uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteSimplePairingMode, []byte{mode}, cb)
}

func (s *Session) WriteLEHostSupported(supported, simultaneous uint8, cb func(Reply)) error {
	return s.simpleCommand(OGFHostControl, ocfWriteLEHostSupported, []byte{supported, simultaneous}, cb)
}

func (s *Session) HostBufferSize(aclMTU uint16, scoMTU uint8, aclMaxPackets, scoMaxPackets uint16, cb func(Reply)) error {
	p := make([]byte, 7)
	binary.LittleEndian.PutUint16(p[0:], aclMTU)
	p[2] = scoMTU
	binary.LittleEndian.PutUint16(p[3:], aclMaxPackets)
	binary.LittleEndian.PutUint16(p[5:], scoMaxPackets)
	return s.simpleCommand(OGFHostControl, ocfHostBufferSize, p, cb)
}

func (s *Session) HostNumberOfCompletedPackets(handles []uint16, counts []uint16, cb func(Reply)) error {
	n := len(handles)
	p := make([]byte, 1+4*n)
	p[0] = uint8(n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(p[1+i*2:], handles[i])
		binary.LittleEndian.PutUint16(p[1+n*2+i*2:], counts[i])
	}
	return s.simpleCommand(OGFHostControl, ocfHostNumOfCompletedPkts, p, cb)
}

func (s *Session) DeleteStoredLinkKey(addr [6]byte, deleteAll bool, cb func(Reply)) error {
	flag := uint8(0)
	if deleteAll {
		flag = 1
	}
	p := append(append([]byte{}, addr[:]...), flag)
	return s.simpleCommand(OGFHostControl, ocfDeleteStoredLinkKey, p, cb)
}

type ReadLocalFeaturesReply struct {
	Status   uint8
	Features uint64
}

func (s *Session) ReadLocalFeatures(cb func(ReadLocalFeaturesReply)) error {
	return s.command(OGFInfoParam, ocfReadLocalFeatures, nil, func(ret []byte) {
		r := ReadLocalFeaturesReply{}
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if len(ret) >= 9 {
			r.Features = binary.LittleEndian.Uint64(ret[1:9])
		}
		if cb != nil {
			cb(r)
		}
	})
}

type ReadBufferSizeReply struct {
	Status        uint8
	AclMTU        uint16
	ScoMTU        uint8
	AclMaxPackets uint16
	ScoMaxPackets uint16
}

func (s *Session) ReadBufferSize(cb func(ReadBufferSizeReply)) error {
	return s.command(OGFInfoParam, ocfReadBufferSize, nil, func(ret []byte) {
		r := ReadBufferSizeReply{}
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if len(ret) >= 8 {
			r.AclMTU = binary.LittleEndian.Uint16(ret[1:3])
			r.ScoMTU = ret[3]
			r.AclMaxPackets = binary.LittleEndian.Uint16(ret[4:6])
			r.ScoMaxPackets = binary.LittleEndian.Uint16(ret[6:8])
			s.dev.SetBufferSizes(r.AclMTU, r.ScoMTU, r.AclMaxPackets, r.ScoMaxPackets)
		}
		if cb != nil {
			cb(r)
		}
	})
}

type ReadBdAddrReply struct {
	Status  uint8
	Address [6]byte
}

func (s *Session) ReadBdAddr(cb func(ReadBdAddrReply)) error {
	return s.command(OGFInfoParam, ocfReadBdAddr, nil, func(ret []byte) {
		r := ReadBdAddrReply{}
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if len(ret) >= 7 {
			copy(r.Address[:], ret[1:7])
		}
		if cb != nil {
			cb(r)
		}
	})
}

type ReadLocalVersionReply struct {
	Status     uint8
	HciVersion uint8
	HciRev     uint16
	LmpVersion uint8
	Manufacturer uint16
	LmpSubversion uint16
}

func (s *Session) ReadLocalVersionInformation(cb func(ReadLocalVersionReply)) error {
	return s.command(OGFInfoParam, ocfReadLocalVersionInfo, nil, func(ret []byte) {
		r := ReadLocalVersionReply{}
		if len(ret) > 0 {
			r.Status = ret[0]
		}
		if len(ret) >= 9 {
			r.HciVersion = ret[1]
			r.HciRev = binary.LittleEndian.Uint16(ret[2:4])
			r.LmpVersion = ret[4]
			r.Manufacturer = binary.LittleEndian.Uint16(ret[5:7])
			r.LmpSubversion = binary.LittleEndian.Uint16(ret[7:9])
		}
		if cb != nil {
			cb(r)
		}
	})
}

// --- Link Policy ---

func (s *Session) SniffMode(handle uint16, maxInterval, minInterval, attempt, timeout uint16, cb func(Reply)) error {
	p := make([]byte, 10)
	binary.LittleEndian.PutUint16(p[0:], handle)
	binary.LittleEndian.PutUint16(p[2:], maxInterval)
	binary.LittleEndian.PutUint16(p[4:], minInterval)
	binary.LittleEndian.PutUint16(p[6:], attempt)
	binary.LittleEndian.PutUint16(p[8:], timeout)
	return s.simpleCommand(OGFLinkPolicy, ocfSniffMode, p, cb)
}

func (s *Session) ExitSniffMode(handle uint16, cb func(Reply)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, handle)
	return s.simpleCommand(OGFLinkPolicy, ocfExitSniffMode, p, cb)
}

func (s *Session) WriteLinkPolicySettings(handle, settings uint16, cb func(Reply)) error {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], handle)
	binary.LittleEndian.PutUint16(p[2:], settings)
	return s.simpleCommand(OGFLinkPolicy, ocfWriteLinkPolicySettings, p, cb)
}

func (s *Session) WriteDefaultLinkPolicySettings(settings uint16, cb func(Reply)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, settings)
	return s.simpleCommand(OGFLinkPolicy, ocfWriteDefaultLinkPolicy, p, cb)
}

// --- Link Control: connection-oriented, mostly async ---

// Inquiry starts a general inquiry. statusCb fires on Command Status;
// doneCb fires once with every Inquiry Result record collected (in
// arrival order) after Inquiry Complete arrives. See inquiry.go.
func (s *Session) Inquiry(lap [3]byte, length, maxResponses uint8, statusCb func(status uint8), doneCb func(InquiryDone)) error {
	return s.startInquiry(lap, length, maxResponses, statusCb, doneCb)
}

func (s *Session) InquiryCancel(cb func(Reply)) error {
	return s.simpleCommand(OGFLinkControl, ocfInquiryCancel, nil, cb)
}

func (s *Session) PeriodicInquiryMode(maxPeriod, minPeriod uint16, lap [3]byte, length, maxResponses uint8, cb func(Reply)) error {
	p := make([]byte, 9)
	binary.LittleEndian.PutUint16(p[0:], maxPeriod)
	binary.LittleEndian.PutUint16(p[2:], minPeriod)
	copy(p[4:7], lap[:])
	p[7] = length
	p[8] = maxResponses
	return s.simpleCommand(OGFLinkControl, ocfPeriodicInquiryMode, p, cb)
}

func (s *Session) ExitPeriodicInquiryMode(cb func(Reply)) error {
	return s.simpleCommand(OGFLinkControl, ocfExitPeriodicInquiryMode, nil, cb)
}

// CreateConnection issues HCI Create Connection; connectedCb fires once
// with the Connection Complete event once Command Status reports
// success.
func (s *Session) CreateConnection(addr [6]byte, packetType uint16, pageScanRepMode, reserved uint8, clockOffset uint16, allowRoleSwitch uint8, statusCb func(status uint8), connectedCb func(ConnectionComplete)) error {
	p := make([]byte, 13)
	copy(p[0:6], addr[:])
	binary.LittleEndian.PutUint16(p[6:], packetType)
	p[8] = pageScanRepMode
	p[9] = reserved
	binary.LittleEndian.PutUint16(p[10:], clockOffset)
	p[12] = allowRoleSwitch

	return s.asyncCommand(OGFLinkControl, ocfCreateConnection, p, statusCb, func(opcode Opcode) {
		m := matcher.New()
		m.AddRule(3, addr[:])
		s.dev.ArmAsyncWaiter(opcode, EvtConnectionComplete, m, func(ret []byte) {
			if cc, ok := ParseConnectionComplete(ret); ok && connectedCb != nil {
				connectedCb(cc)
			}
		})
	})
}

func (s *Session) AcceptConnectionRequest(addr [6]byte, role uint8, cb func(Reply)) error {
	p := append(append([]byte{}, addr[:]...), role)
	return s.simpleCommand(OGFLinkControl, ocfAcceptConnectionRequest, p, cb)
}

func (s *Session) RejectConnectionRequest(addr [6]byte, reason uint8, cb func(Reply)) error {
	p := append(append([]byte{}, addr[:]...), reason)
	return s.simpleCommand(OGFLinkControl, ocfRejectConnectionRequest, p, cb)
}

func (s *Session) Disconnect(handle uint16, reason uint8, cb func(Reply)) error {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p[0:], handle)
	p[2] = reason
	return s.simpleCommand(OGFLinkControl, ocfDisconnect, p, cb)
}

func (s *Session) AuthenticationRequested(handle uint16, cb func(Reply)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, handle)
	return s.simpleCommand(OGFLinkControl, ocfAuthenticationRequested, p, cb)
}

func (s *Session) LinkKeyRequestReply(addr [6]byte, key [16]byte, cb func(Reply)) error {
	p := append(append([]byte{}, addr[:]...), key[:]...)
	return s.simpleCommand(OGFLinkControl, ocfLinkKeyRequestReply, p, cb)
}

func (s *Session) LinkKeyRequestNegativeReply(addr [6]byte, cb func(Reply)) error {
	return s.simpleCommand(OGFLinkControl, ocfLinkKeyRequestNegReply, addr[:], cb)
}

func (s *Session) PinCodeRequestReply(addr [6]byte, pinLen uint8, pin [16]byte, cb func(Reply)) error {
	p := append(append([]byte{}, addr[:]...), pinLen)
	p = append(p, pin[:]...)
	return s.simpleCommand(OGFLinkControl, ocfPinCodeRequestReply, p, cb)
}

func (s *Session) PinCodeRequestNegativeReply(addr [6]byte, cb func(Reply)) error {
	return s.simpleCommand(OGFLinkControl, ocfPinCodeRequestNegReply, addr[:], cb)
}

func (s *Session) RemoteNameRequest(addr [6]byte, pageScanRepMode, reserved uint8, clockOffset uint16, statusCb func(status uint8), cb func(status uint8, name string)) error {
	p := make([]byte, 10)
	copy(p[0:6], addr[:])
	p[6] = pageScanRepMode
	p[7] = reserved
	binary.LittleEndian.PutUint16(p[8:], clockOffset)

	return s.asyncCommand(OGFLinkControl, ocfRemoteNameRequest, p, statusCb, func(opcode Opcode) {
		m := matcher.New()
		m.AddRule(1, addr[:])
		s.dev.ArmAsyncWaiter(opcode, EvtRemoteNameRequestComplete, m, func(ret []byte) {
			if len(ret) < 1 || cb == nil {
				return
			}
			status := ret[0]
			name := ""
			if len(ret) > 7 {
				raw := ret[7:]
				n := 0
				for n < len(raw) && raw[n] != 0 {
					n++
				}
				name = string(raw[:n])
			}
			cb(status, name)
		})
	})
}

func (s *Session) ReadRemoteSupportedFeatures(handle uint16, statusCb func(status uint8), cb func(status uint8, features uint64)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, handle)
	return s.asyncCommand(OGFLinkControl, ocfReadRemoteSupportedFeats, p, statusCb, func(opcode Opcode) {
		m := matcher.New()
		hb := make([]byte, 2)
		binary.LittleEndian.PutUint16(hb, handle)
		m.AddRule(1, hb)
		s.dev.ArmAsyncWaiter(opcode, EvtReadRemoteSupportedFeatsComplete, m, func(ret []byte) {
			if len(ret) < 11 || cb == nil {
				return
			}
			cb(ret[0], binary.LittleEndian.Uint64(ret[3:11]))
		})
	})
}

// ReadRemoteVersionInformation reads the LMP version, manufacturer name,
// and LMP subversion reported by the peer at the far end of handle.
func (s *Session) ReadRemoteVersionInformation(handle uint16, statusCb func(status uint8), cb func(status uint8, lmpVersion uint8, manufacturer uint16, lmpSubversion uint16)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, handle)
	return s.asyncCommand(OGFLinkControl, ocfReadRemoteVersionInfo, p, statusCb, func(opcode Opcode) {
		m := matcher.New()
		hb := make([]byte, 2)
		binary.LittleEndian.PutUint16(hb, handle)
		m.AddRule(1, hb)
		s.dev.ArmAsyncWaiter(opcode, EvtReadRemoteVersionComplete, m, func(ret []byte) {
			if len(ret) < 8 || cb == nil {
				return
			}
			cb(ret[0], ret[3], binary.LittleEndian.Uint16(ret[4:6]), binary.LittleEndian.Uint16(ret[6:8]))
		})
	})
}

func (s *Session) ReadClockOffset(handle uint16, statusCb func(status uint8), cb func(status uint8, offset uint16)) error {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, handle)
	return s.asyncCommand(OGFLinkControl, ocfReadClockOffset, p, statusCb, func(opcode Opcode) {
		m := matcher.New()
		hb := make([]byte, 2)
		binary.LittleEndian.PutUint16(hb, handle)
		m.AddRule(1, hb)
		s.dev.ArmAsyncWaiter(opcode, EvtReadClockOffsetComplete, m, func(ret []byte) {
			if len(ret) < 5 || cb == nil {
				return
			}
			cb(ret[0], binary.LittleEndian.Uint16(ret[3:5]))
		})
	})
}

// --- Vendor commands and vendor event subscription ---

// VendorCommand issues a raw vendor-specific command (OGF 0x3F); the
// reply is handed to cb uninterpreted, since vendor reply shapes are
// chip-specific.
func (s *Session) VendorCommand(ocf uint16, params []byte, cb func(ret []byte)) error {
	return s.command(OGFVendor, ocf, params, cb)
}

// OnVendorEvent installs the device-wide handler for vendor-specific
// events, which share event-handler slot 0 alongside any other use of
// that slot.
func (s *Session) OnVendorEvent(f func(data []byte)) {
	s.dev.InstallEventHandler(0, func(_ EventCode, data []byte) { f(data) })
}
