// Package hci implements the HCI command/event pipeline: opcode
// construction, the per-controller command/event device, the per-client
// session façade, and flow-control credits.
package hci

import "fmt"

// OGF identifies an HCI Opcode Group Field.
type OGF uint8

const (
	OGFLinkControl    OGF = 0x01
	OGFLinkPolicy     OGF = 0x02
	OGFHostControl    OGF = 0x03
	OGFInfoParam      OGF = 0x04
	OGFStatusParam    OGF = 0x05
	OGFTesting        OGF = 0x06
	OGFVendor         OGF = 0x3F
)

// Opcode is the 16-bit little-endian-on-the-wire HCI command opcode,
// packed as (ocf & 0x3ff) | (ogf << 10).
type Opcode uint16

// MakeOpcode builds an Opcode from an OGF/OCF pair.
func MakeOpcode(ogf OGF, ocf uint16) Opcode {
	return Opcode((ocf & 0x3ff) | (uint16(ogf) << 10))
}

// OGF returns the Opcode Group Field.
func (o Opcode) OGF() OGF { return OGF(o >> 10) }

// OCF returns the Opcode Command Field.
func (o Opcode) OCF() uint16 { return uint16(o) & 0x3ff }

func (o Opcode) String() string {
	if name, ok := opcodeName[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(ogf=0x%02x,ocf=0x%04x)", o.OGF(), o.OCF())
}

// Link Control (OGF 0x01) OCFs.
const (
	ocfInquiry                   = 0x0001
	ocfInquiryCancel             = 0x0002
	ocfPeriodicInquiryMode       = 0x0003
	ocfExitPeriodicInquiryMode   = 0x0004
	ocfCreateConnection          = 0x0005
	ocfDisconnect                = 0x0006
	ocfAcceptConnectionRequest   = 0x0009
	ocfRejectConnectionRequest   = 0x000A
	ocfLinkKeyRequestReply       = 0x000B
	ocfLinkKeyRequestNegReply    = 0x000C
	ocfPinCodeRequestReply       = 0x000D
	ocfPinCodeRequestNegReply    = 0x000E
	ocfAuthenticationRequested   = 0x0011
	ocfRemoteNameRequest         = 0x0019
	ocfReadRemoteSupportedFeats  = 0x001B
	ocfReadRemoteVersionInfo     = 0x001D
	ocfReadClockOffset           = 0x001F
)

// Link Policy (OGF 0x02) OCFs.
const (
	ocfSniffMode             = 0x0003
	ocfExitSniffMode         = 0x0004
	ocfWriteLinkPolicySettings = 0x000D
	ocfWriteDefaultLinkPolicy  = 0x000F
)

// Host Controller & Baseband (OGF 0x03) OCFs.
const (
	ocfSetEventMask            = 0x0001
	ocfReset                   = 0x0003
	ocfSetEventFilter          = 0x0005
	ocfReadPinType             = 0x0009
	ocfWritePinType            = 0x000A
	ocfReadStoredLinkKey       = 0x000D
	ocfWriteStoredLinkKey      = 0x0011
	ocfDeleteStoredLinkKey     = 0x0012
	ocfWriteLocalName          = 0x0013
	ocfReadLocalName           = 0x0014
	ocfWriteScanEnable         = 0x001A
	ocfWritePageScanType       = 0x0047
	ocfWriteInquiryScanType    = 0x0043
	ocfWriteInquiryMode        = 0x0045
	ocfWriteAuthenticationEnable = 0x0020
	ocfWriteClassOfDevice      = 0x0024
	ocfWritePageTimeout        = 0x0018
	ocfReadTransmitPowerLevel  = 0x002D
	ocfWriteSyncFlowControlEnable = 0x002F
	ocfHostBufferSize          = 0x0033
	ocfHostNumOfCompletedPkts  = 0x0035
	ocfWriteCurrentIacLap      = 0x003A
	ocfWriteLinkSupervisionTimeout = 0x003B
	ocfWriteSimplePairingMode  = 0x0056
	ocfWriteLEHostSupported    = 0x006D
	ocfSetEventMaskPage2       = 0x0063
	ocfWriteFlushTimeout       = 0x0028
)

// Informational Parameters (OGF 0x04) OCFs.
const (
	ocfReadLocalVersionInfo = 0x0001
	ocfReadLocalFeatures    = 0x0003
	ocfReadBufferSize       = 0x0005
	ocfReadBdAddr           = 0x0009
)

var opcodeName = map[Opcode]string{
	MakeOpcode(OGFLinkControl, ocfInquiry):                 "Inquiry",
	MakeOpcode(OGFLinkControl, ocfInquiryCancel):           "InquiryCancel",
	MakeOpcode(OGFLinkControl, ocfPeriodicInquiryMode):     "PeriodicInquiryMode",
	MakeOpcode(OGFLinkControl, ocfExitPeriodicInquiryMode): "ExitPeriodicInquiryMode",
	MakeOpcode(OGFLinkControl, ocfCreateConnection):        "CreateConnection",
	MakeOpcode(OGFLinkControl, ocfDisconnect):               "Disconnect",
	MakeOpcode(OGFLinkControl, ocfAcceptConnectionRequest):  "AcceptConnectionRequest",
	MakeOpcode(OGFLinkControl, ocfRejectConnectionRequest):  "RejectConnectionRequest",
	MakeOpcode(OGFLinkControl, ocfLinkKeyRequestReply):      "LinkKeyRequestReply",
	MakeOpcode(OGFLinkControl, ocfLinkKeyRequestNegReply):   "LinkKeyRequestNegativeReply",
	MakeOpcode(OGFLinkControl, ocfPinCodeRequestReply):      "PinCodeRequestReply",
	MakeOpcode(OGFLinkControl, ocfPinCodeRequestNegReply):   "PinCodeRequestNegativeReply",
	MakeOpcode(OGFLinkControl, ocfAuthenticationRequested):  "AuthenticationRequested",
	MakeOpcode(OGFLinkControl, ocfRemoteNameRequest):        "RemoteNameRequest",
	MakeOpcode(OGFLinkControl, ocfReadRemoteSupportedFeats): "ReadRemoteSupportedFeatures",
	MakeOpcode(OGFLinkControl, ocfReadRemoteVersionInfo):    "ReadRemoteVersionInformation",
	MakeOpcode(OGFLinkControl, ocfReadClockOffset):          "ReadClockOffset",

	MakeOpcode(OGFLinkPolicy, ocfSniffMode):               "SniffMode",
	MakeOpcode(OGFLinkPolicy, ocfExitSniffMode):           "ExitSniffMode",
	MakeOpcode(OGFLinkPolicy, ocfWriteLinkPolicySettings): "WriteLinkPolicySettings",
	MakeOpcode(OGFLinkPolicy, ocfWriteDefaultLinkPolicy):  "WriteDefaultLinkPolicySettings",

	MakeOpcode(OGFHostControl, ocfSetEventMask):                "SetEventMask",
	MakeOpcode(OGFHostControl, ocfReset):                       "Reset",
	MakeOpcode(OGFHostControl, ocfSetEventFilter):              "SetEventFilter",
	MakeOpcode(OGFHostControl, ocfReadPinType):                 "ReadPinType",
	MakeOpcode(OGFHostControl, ocfWritePinType):                "WritePinType",
	MakeOpcode(OGFHostControl, ocfReadStoredLinkKey):           "ReadStoredLinkKey",
	MakeOpcode(OGFHostControl, ocfWriteStoredLinkKey):          "WriteStoredLinkKey",
	MakeOpcode(OGFHostControl, ocfDeleteStoredLinkKey):         "DeleteStoredLinkKey",
	MakeOpcode(OGFHostControl, ocfWriteLocalName):              "WriteLocalName",
	MakeOpcode(OGFHostControl, ocfReadLocalName):               "ReadLocalName",
	MakeOpcode(OGFHostControl, ocfWriteScanEnable):              "WriteScanEnable",
	MakeOpcode(OGFHostControl, ocfWritePageScanType):            "WritePageScanType",
	MakeOpcode(OGFHostControl, ocfWriteInquiryScanType):         "WriteInquiryScanType",
	MakeOpcode(OGFHostControl, ocfWriteInquiryMode):             "WriteInquiryMode",
	MakeOpcode(OGFHostControl, ocfWriteAuthenticationEnable):    "WriteAuthenticationEnable",
	MakeOpcode(OGFHostControl, ocfWriteClassOfDevice):           "WriteClassOfDevice",
	MakeOpcode(OGFHostControl, ocfWritePageTimeout):             "WritePageTimeout",
	MakeOpcode(OGFHostControl, ocfReadTransmitPowerLevel):       "ReadTransmitPowerLevel",
	MakeOpcode(OGFHostControl, ocfHostBufferSize):               "HostBufferSize",
	MakeOpcode(OGFHostControl, ocfHostNumOfCompletedPkts):       "HostNumberOfCompletedPackets",
	MakeOpcode(OGFHostControl, ocfWriteCurrentIacLap):           "WriteCurrentIacLap",
	MakeOpcode(OGFHostControl, ocfWriteLinkSupervisionTimeout):  "WriteLinkSupervisionTimeout",
	MakeOpcode(OGFHostControl, ocfWriteSimplePairingMode):       "WriteSimplePairingMode",
	MakeOpcode(OGFHostControl, ocfWriteFlushTimeout):            "WriteFlushTimeout",

	MakeOpcode(OGFInfoParam, ocfReadLocalVersionInfo): "ReadLocalVersionInformation",
	MakeOpcode(OGFInfoParam, ocfReadLocalFeatures):    "ReadLocalSupportedFeatures",
	MakeOpcode(OGFInfoParam, ocfReadBufferSize):       "ReadBufferSize",
	MakeOpcode(OGFInfoParam, ocfReadBdAddr):           "ReadBdAddr",
}
