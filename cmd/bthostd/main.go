// Command bthostd brings up one local Bluetooth controller and accepts
// incoming baseband connections, logging ACL connect/disconnect and
// L2CAP channel bring-up as they happen. It is a minimal host process,
// not a full profile stack.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/edgebt/bte/acl"
	"github.com/edgebt/bte/backend/linuxhci"
	"github.com/edgebt/bte/driver/genericdriver"
	"github.com/edgebt/bte/hci"
	"github.com/edgebt/bte/l2cap"
)

func main() {
	devID := flag.Int("dev", 0, "HCI device index, e.g. 0 for hci0")
	flag.Parse()

	log := logrus.StandardLogger()

	be, err := linuxhci.Open(*devID, log)
	if err != nil {
		log.WithError(err).Fatal("bthostd: failed to open HCI socket")
	}

	dev := hci.NewDevice(be)
	be.Bind(dev)

	aclMgr, err := acl.NewManager(dev, log)
	if err != nil {
		log.WithError(err).Fatal("bthostd: failed to create ACL manager")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("bthostd: shutting down")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for gctx.Err() == nil {
			if _, err := be.HandleEvents(true); err != nil {
				return err
			}
		}
		return gctx.Err()
	})

	g.Go(func() error {
		for {
			if err := dev.WaitEvents(gctx); err != nil {
				return err
			}
		}
	})

	drv := genericdriver.New(log)
	if err := drv.Init(dev); err != nil {
		log.WithError(err).Fatal("bthostd: bring-up sequence failed to start")
	}

	setupIncomingConnections(log, dev, aclMgr)

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.WithError(err).Error("bthostd: event loop exited with error")
	}
	if err := be.Deinit(); err != nil {
		log.WithError(err).Warn("bthostd: error closing HCI socket")
	}
}

// setupIncomingConnections wires Connection Complete/Disconnection into
// per-peer ACL and L2CAP state, logging channel bring-up for visibility.
func setupIncomingConnections(log logrus.FieldLogger, dev *hci.Device, aclMgr *acl.Manager) {
	client, err := hci.NewClient(dev, nil)
	if err != nil {
		log.WithError(err).Fatal("bthostd: failed to create HCI client")
	}

	client.OnConnectionRequest(func(cr hci.ConnectionRequest) bool {
		log.WithField("addr", cr.Address).Info("bthostd: incoming connection request")
		if err := client.Session.AcceptConnectionRequest(cr.Address, 0, nil); err != nil {
			log.WithError(err).Warn("bthostd: failed to accept connection request")
		}
		return true
	})

	client.OnConnectionComplete(func(cc hci.ConnectionComplete) bool {
		if cc.Status != 0 {
			log.WithField("status", cc.Status).Warn("bthostd: connection attempt failed")
			return true
		}
		a := aclMgr.AclForAddress(cc.Address)
		if a == nil {
			a = aclMgr.NewAcl(cc.Address)
		}
		a.SetConnHandle(cc.Handle)

		l2capMgr := l2cap.NewManager(a, log)
		l2capMgr.OnIncomingConnection = func(psm uint16, remoteCID uint16) (bool, *l2cap.Channel) {
			log.WithFields(logrus.Fields{"psm": psm, "remote_cid": remoteCID}).Info("bthostd: incoming L2CAP channel")
			return true, nil
		}

		a.DisconnectedCb = func(reason uint8) {
			log.WithFields(logrus.Fields{"addr": cc.Address, "reason": reason}).Info("bthostd: ACL disconnected")
		}

		log.WithField("addr", cc.Address).Info("bthostd: ACL connected")
		return true
	})
}
