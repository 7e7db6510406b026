package l2cap

import "encoding/binary"

// Option type codes (the high bit marks a hint the peer may ignore
// rather than reject if unrecognised).
const (
	optMTU            = 0x01
	optFlushTimeout   = 0x02
	optQoS            = 0x03
	optRetxFlow       = 0x04
	optFrameCheckSeq  = 0x05
	optExtFlow        = 0x06
	optMaxWindowSize  = 0x07
	optHintFlag       = 0x80
)

const (
	MinMTU     = 48
	DefaultMTU = 672
)

// QosOption is the Quality of Service configuration option.
type QosOption struct {
	Flags           uint8
	ServiceType     uint8
	TokenRate       uint32
	TokenBucketSize uint32
	PeakBandwidth   uint32
	AccessLatency   uint32
	DelayVariation  uint32
}

// RetxFlowOption is the Retransmission and Flow Control option.
type RetxFlowOption struct {
	Mode            uint8
	TxWindowSize    uint8
	MaxTransmit     uint8
	RetxTimeout     uint16
	MonitorTimeout  uint16
	MaxPDUSize      uint16
}

// ExtFlowOption is the Extended Flow Specification option.
type ExtFlowOption struct {
	Identifier    uint8
	ServiceType   uint8
	MaxSDUSize    uint16
	SDUInterTime  uint32
	AccessLatency uint32
	FlushTimeout  uint32
}

// Options is the set of configuration options a Configure Request or
// Response may carry. Encoding always emits present options in a fixed
// order: MTU, FlushTimeout, QoS, RetxFlow, FrameCheckSeq, ExtFlow,
// MaxWindowSize - the order the Bluetooth Core spec tables list them in
// and the only order a conformant peer is guaranteed to tolerate.
type Options struct {
	HasMTU     bool
	MTU        uint16
	HasFlushTimeout bool
	FlushTimeout    uint16
	HasQoS     bool
	QoS        QosOption
	HasRetxFlow bool
	RetxFlow    RetxFlowOption
	HasFrameCheckSeq bool
	FrameCheckSeq    uint8
	HasExtFlow bool
	ExtFlow    ExtFlowOption
	HasMaxWindowSize bool
	MaxWindowSize    uint16

	// Unknown carries the complete raw TLV bytes (type, length, value) of
	// any non-hint option this side did not recognise, so a Configure
	// Response can echo them back verbatim in its unknown-options list.
	Unknown [][]byte
}

func putTLV(out []byte, typ uint8, data []byte) []byte {
	out = append(out, typ, uint8(len(data)))
	return append(out, data...)
}

// encodeTLVs returns o's present options as independent TLV byte blocks,
// in the fixed order Encode documents. Each block is self-contained so
// it can be packed into successive signalling PDUs without ever being
// split across a continuation boundary.
func (o Options) encodeTLVs() [][]byte {
	var out [][]byte
	if o.HasMTU {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, o.MTU)
		out = append(out, putTLV(nil, optMTU, b))
	}
	if o.HasFlushTimeout {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, o.FlushTimeout)
		out = append(out, putTLV(nil, optFlushTimeout, b))
	}
	if o.HasQoS {
		b := make([]byte, 22)
		b[0] = o.QoS.Flags
		b[1] = o.QoS.ServiceType
		binary.LittleEndian.PutUint32(b[2:6], o.QoS.TokenRate)
		binary.LittleEndian.PutUint32(b[6:10], o.QoS.TokenBucketSize)
		binary.LittleEndian.PutUint32(b[10:14], o.QoS.PeakBandwidth)
		binary.LittleEndian.PutUint32(b[14:18], o.QoS.AccessLatency)
		binary.LittleEndian.PutUint32(b[18:22], o.QoS.DelayVariation)
		out = append(out, putTLV(nil, optQoS, b))
	}
	if o.HasRetxFlow {
		b := make([]byte, 9)
		b[0] = o.RetxFlow.Mode
		b[1] = o.RetxFlow.TxWindowSize
		b[2] = o.RetxFlow.MaxTransmit
		binary.LittleEndian.PutUint16(b[3:5], o.RetxFlow.RetxTimeout)
		binary.LittleEndian.PutUint16(b[5:7], o.RetxFlow.MonitorTimeout)
		binary.LittleEndian.PutUint16(b[7:9], o.RetxFlow.MaxPDUSize)
		out = append(out, putTLV(nil, optRetxFlow, b))
	}
	if o.HasFrameCheckSeq {
		out = append(out, putTLV(nil, optFrameCheckSeq, []byte{o.FrameCheckSeq}))
	}
	if o.HasExtFlow {
		b := make([]byte, 16)
		b[0] = o.ExtFlow.Identifier
		b[1] = o.ExtFlow.ServiceType
		binary.LittleEndian.PutUint16(b[2:4], o.ExtFlow.MaxSDUSize)
		binary.LittleEndian.PutUint32(b[4:8], o.ExtFlow.SDUInterTime)
		binary.LittleEndian.PutUint32(b[8:12], o.ExtFlow.AccessLatency)
		binary.LittleEndian.PutUint32(b[12:16], o.ExtFlow.FlushTimeout)
		out = append(out, putTLV(nil, optExtFlow, b))
	}
	if o.HasMaxWindowSize {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, o.MaxWindowSize)
		out = append(out, putTLV(nil, optMaxWindowSize, b))
	}
	return out
}

// Encode serialises o in the fixed option order.
func (o Options) Encode() []byte {
	var out []byte
	for _, tlv := range o.encodeTLVs() {
		out = append(out, tlv...)
	}
	return out
}

// EncodeChunks splits o's options into chunks of at most maxSize bytes
// each, never splitting a single TLV across two chunks - a lone TLV
// larger than maxSize is emitted alone in its own oversized chunk rather
// than corrupted. If o carries no options, it returns one empty chunk
// (a null-option request/response still needs a PDU to carry it).
func (o Options) EncodeChunks(maxSize int) [][]byte {
	tlvs := o.encodeTLVs()
	if len(tlvs) == 0 {
		return [][]byte{nil}
	}
	var chunks [][]byte
	var cur []byte
	for _, tlv := range tlvs {
		if len(cur) > 0 && len(cur)+len(tlv) > maxSize {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, tlv...)
	}
	if cur != nil {
		chunks = append(chunks, cur)
	}
	return chunks
}

// DecodeOptions parses a TLV option stream. Options with an
// unrecognised type code and the hint bit clear are recorded in
// Unknown; hinted unrecognised options are silently skipped, per the
// Bluetooth Core spec's "C" (hint) flag semantics.
func DecodeOptions(data []byte) Options {
	var o Options
	for len(data) >= 2 {
		typ := data[0]
		length := int(data[1])
		if len(data) < 2+length {
			break
		}
		val := data[2 : 2+length]
		data = data[2+length:]

		baseType := typ &^ optHintFlag
		isHint := typ&optHintFlag != 0

		switch baseType {
		case optMTU:
			if length >= 2 {
				o.HasMTU = true
				o.MTU = binary.LittleEndian.Uint16(val)
			}
		case optFlushTimeout:
			if length >= 2 {
				o.HasFlushTimeout = true
				o.FlushTimeout = binary.LittleEndian.Uint16(val)
			}
		case optQoS:
			if length >= 22 {
				o.HasQoS = true
				o.QoS = QosOption{
					Flags:           val[0],
					ServiceType:     val[1],
					TokenRate:       binary.LittleEndian.Uint32(val[2:6]),
					TokenBucketSize: binary.LittleEndian.Uint32(val[6:10]),
					PeakBandwidth:   binary.LittleEndian.Uint32(val[10:14]),
					AccessLatency:   binary.LittleEndian.Uint32(val[14:18]),
					DelayVariation:  binary.LittleEndian.Uint32(val[18:22]),
				}
			}
		case optRetxFlow:
			if length >= 9 {
				o.HasRetxFlow = true
				o.RetxFlow = RetxFlowOption{
					Mode:           val[0],
					TxWindowSize:   val[1],
					MaxTransmit:    val[2],
					RetxTimeout:    binary.LittleEndian.Uint16(val[3:5]),
					MonitorTimeout: binary.LittleEndian.Uint16(val[5:7]),
					MaxPDUSize:     binary.LittleEndian.Uint16(val[7:9]),
				}
			}
		case optFrameCheckSeq:
			if length >= 1 {
				o.HasFrameCheckSeq = true
				o.FrameCheckSeq = val[0]
			}
		case optExtFlow:
			if length >= 16 {
				o.HasExtFlow = true
				o.ExtFlow = ExtFlowOption{
					Identifier:    val[0],
					ServiceType:   val[1],
					MaxSDUSize:    binary.LittleEndian.Uint16(val[2:4]),
					SDUInterTime:  binary.LittleEndian.Uint32(val[4:8]),
					AccessLatency: binary.LittleEndian.Uint32(val[8:12]),
					FlushTimeout:  binary.LittleEndian.Uint32(val[12:16]),
				}
			}
		case optMaxWindowSize:
			if length >= 2 {
				o.HasMaxWindowSize = true
				o.MaxWindowSize = binary.LittleEndian.Uint16(val)
			}
		default:
			if !isHint {
				raw := make([]byte, 2+length)
				raw[0] = typ
				raw[1] = uint8(length)
				copy(raw[2:], val)
				o.Unknown = append(o.Unknown, raw)
			}
		}
	}
	return o
}

// Validate applies this stack's configuration acceptance policy: reject
// an MTU below MinMTU, and reject a zero Flush Timeout (a controller
// that never flushes cannot bound latency). Every other option is
// accepted as proposed; the peer is trusted on QoS/retransmission
// tuning this stack does not itself enforce.
func (o Options) Validate() (rejected []uint8, ok bool) {
	if o.HasMTU && o.MTU < MinMTU {
		rejected = append(rejected, optMTU)
	}
	if o.HasFlushTimeout && o.FlushTimeout == 0 {
		rejected = append(rejected, optFlushTimeout)
	}
	return rejected, len(rejected) == 0
}
