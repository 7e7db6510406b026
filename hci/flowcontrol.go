package hci

// Flow control: the controller publishes its ACL buffer capacity via
// Read Buffer Size; the host tracks available packet credits as
// acl_max - packets_in_flight. Sending a fragment decrements; a
// Number-of-Completed-Packets event increments by its reported count
// summed across all handles.

// EnqueueOutgoingACL appends already-fragmented ACL packets (as produced
// by acl.CreateMessage) to the device's outgoing queue and attempts to
// drain it immediately, returning how many fragments were actually sent.
// Fragments left over remain queued and are drained on the next credit
// event or send attempt.
func (d *Device) EnqueueOutgoingACL(fragments [][]byte) int {
	d.mu.Lock()
	d.outgoingACL = append(d.outgoingACL, fragments...)
	d.mu.Unlock()
	return d.sendQueuedDataLocked()
}

// sendQueuedDataLocked drains the outgoing queue while credits remain,
// removing fragments from the head. It takes and releases d.mu itself;
// callers must not hold d.mu when calling it.
func (d *Device) sendQueuedDataLocked() int {
	sent := 0
	for {
		d.mu.Lock()
		if d.aclAvailable == 0 || len(d.outgoingACL) == 0 {
			d.mu.Unlock()
			break
		}
		frag := d.outgoingACL[0]
		d.outgoingACL = d.outgoingACL[1:]
		d.aclAvailable--
		backend := d.backend
		d.mu.Unlock()

		b := rawToBuffer(frag)
		if err := backend.SendData(b); err != nil {
			d.log.WithError(err).Warn("hci: backend SendData failed")
			d.mu.Lock()
			d.aclAvailable++
			d.outgoingACL = append([][]byte{frag}, d.outgoingACL...)
			d.mu.Unlock()
			break
		}
		sent++
	}
	return sent
}

// AclAvailablePackets returns the current credit count.
func (d *Device) AclAvailablePackets() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aclAvailable
}

// QueuedFragments returns how many fragments remain queued, unsent.
func (d *Device) QueuedFragments() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outgoingACL)
}
