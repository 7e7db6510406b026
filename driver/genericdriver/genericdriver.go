// Package genericdriver implements a controller-agnostic bring-up
// sequence: Reset, then read back buffer sizes, the local address, and
// supported features before declaring the device initialised. Chips
// needing vendor-specific bring-up commands implement their own
// hci.Driver instead of this one.
package genericdriver

import (
	"github.com/sirupsen/logrus"

	"github.com/edgebt/bte/hci"
)

// Driver runs the scripted command sequence common to any BR/EDR
// controller: Reset, Set Event Mask, Read Buffer Size, Read BD Addr,
// Read Local Supported Features, in that order, each waiting for the
// previous to complete before issuing the next.
type Driver struct {
	log logrus.FieldLogger

	EventMask uint64
}

// New constructs a Driver; a nil log falls back to logrus's standard
// logger.
func New(log logrus.FieldLogger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{log: log, EventMask: 0x3dbff807fffbffff}
}

// Init runs the bring-up sequence against dev, calling dev.SetStatus
// once it completes or fails.
func (d *Driver) Init(dev *hci.Device) error {
	client, err := hci.NewClient(dev, nil)
	if err != nil {
		return err
	}
	session := client.Session

	fail := func(where string, status uint8) {
		d.log.WithFields(logrus.Fields{"step": where, "status": status}).Warn("genericdriver: bring-up step failed")
		dev.SetStatus(hci.Failed)
	}

	return session.Reset(func(r hci.Reply) {
		if r.Status != 0 {
			fail("reset", r.Status)
			return
		}

		session.SetEventMask(d.EventMask, func(r hci.Reply) {
			if r.Status != 0 {
				fail("set_event_mask", r.Status)
				return
			}

			session.ReadBufferSize(func(r hci.ReadBufferSizeReply) {
				if r.Status != 0 {
					fail("read_buffer_size", r.Status)
					return
				}

				session.ReadBdAddr(func(r hci.ReadBdAddrReply) {
					if r.Status != 0 {
						fail("read_bd_addr", r.Status)
						return
					}

					session.ReadLocalFeatures(func(r hci.ReadLocalFeaturesReply) {
						if r.Status != 0 {
							fail("read_local_features", r.Status)
							return
						}
						dev.SetStatus(hci.Initialised)
					})
				})
			})
		})
	})
}
