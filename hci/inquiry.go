package hci

// InquiryDone carries the accumulated results of one inquiry, delivered
// once Inquiry Complete arrives.
type InquiryDone struct {
	Status  uint8
	Results []InquiryResult
}

// startInquiry issues Inquiry and accumulates every Inquiry Result event
// until Inquiry Complete, at which point doneCb fires exactly once with
// every record collected in arrival order. Only one inquiry can be
// outstanding at a time, matching the controller's own restriction.
func (s *Session) startInquiry(lap [3]byte, length, maxResponses uint8, statusCb func(status uint8), doneCb func(InquiryDone)) error {
	p := make([]byte, 5)
	copy(p[0:3], lap[:])
	p[3] = length
	p[4] = maxResponses

	var results []InquiryResult

	return s.asyncCommand(OGFLinkControl, ocfInquiry, p, statusCb, func(opcode Opcode) {
		s.dev.ReleasePendingAsync(opcode)

		s.dev.InstallEventHandler(EvtInquiryResult, func(_ EventCode, body []byte) {
			results = append(results, ParseInquiryResult(body)...)
		})
		s.dev.InstallEventHandler(EvtInquiryComplete, func(_ EventCode, body []byte) {
			ic, _ := ParseInquiryComplete(body)
			s.dev.ClearEventHandler(EvtInquiryResult)
			s.dev.ClearEventHandler(EvtInquiryComplete)
			if doneCb != nil {
				doneCb(InquiryDone{Status: ic.Status, Results: results})
			}
		})
	})
}

// ReadStoredLinkKey additionally accumulates Return Link Keys events
// into a single callback, since the controller may need several events
// to return every requested key.
type ReadStoredLinkKeyDone struct {
	Status uint8
	Keys   []StoredLinkKey
}

type StoredLinkKey struct {
	Address [6]byte
	Key     [16]byte
}

func (s *Session) ReadStoredLinkKey(addr [6]byte, readAll bool, doneCb func(ReadStoredLinkKeyDone)) error {
	flag := uint8(0)
	if readAll {
		flag = 1
	}
	p := append(append([]byte{}, addr[:]...), flag)

	var keys []StoredLinkKey
	s.dev.InstallEventHandler(EvtReturnLinkKeys, func(_ EventCode, data []byte) {
		if len(data) < 1 {
			return
		}
		n := int(data[0])
		const recSize = 6 + 16
		body := data[1:]
		for i := 0; i < n && len(body) >= (i+1)*recSize; i++ {
			var k StoredLinkKey
			copy(k.Address[:], body[i*recSize:i*recSize+6])
			copy(k.Key[:], body[i*recSize+6:i*recSize+recSize])
			keys = append(keys, k)
		}
	})
	err := s.command(OGFHostControl, ocfReadStoredLinkKey, p, func(ret []byte) {
		s.dev.ClearEventHandler(EvtReturnLinkKeys)
		var status uint8
		if len(ret) > 0 {
			status = ret[0]
		}
		if doneCb != nil {
			doneCb(ReadStoredLinkKeyDone{Status: status, Keys: keys})
		}
	})
	if err != nil {
		s.dev.ClearEventHandler(EvtReturnLinkKeys)
	}
	return err
}

func (s *Session) WriteStoredLinkKey(keys []StoredLinkKey, cb func(Reply)) error {
	p := make([]byte, 1+len(keys)*22)
	p[0] = uint8(len(keys))
	for i, k := range keys {
		off := 1 + i*22
		copy(p[off:off+6], k.Address[:])
		copy(p[off+6:off+22], k.Key[:])
	}
	return s.simpleCommand(OGFHostControl, ocfWriteStoredLinkKey, p, cb)
}
