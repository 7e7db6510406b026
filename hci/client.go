package hci

// Client is the application's handle into a Device: it owns a Session
// (the per-client façade exposing typed HCI commands) and receives
// events fanned out in registration order. A Client "consumes" an event
// by returning true from the relevant handler, ending the walk for that
// event.
type Client struct {
	dev     *Device
	Session *Session
	UserData interface{}

	initializedCb              func(success bool)
	connectionRequestCb        func(ConnectionRequest) bool
	connectionCompleteCb       func(ConnectionComplete) bool
	disconnectionCompleteCb    func(DisconnectionComplete) bool
	linkKeyRequestCb           func(addr [6]byte) bool
	pinCodeRequestCb           func(addr [6]byte) bool
	numberOfCompletedPacketsCb func([]NumberOfCompletedPackets) bool
}

// NewClient creates a Client bound to dev and registers it immediately.
// It fails with ResourceExhausted if the device's client table is full.
func NewClient(dev *Device, userData interface{}) (*Client, error) {
	c := &Client{dev: dev, UserData: userData}
	c.Session = &Session{client: c, dev: dev}
	if err := dev.AddClient(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Close unregisters the client from its device.
func (c *Client) Close() {
	c.dev.RemoveClient(c)
}

// OnInitialized registers the callback fired when the device transitions
// to Initialised or Failed (or immediately, if it already has).
func (c *Client) OnInitialized(f func(success bool)) { c.initializedCb = f }

// OnConnectionRequest registers a consumer for Connection Request
// events.
func (c *Client) OnConnectionRequest(f func(ConnectionRequest) bool) {
	c.connectionRequestCb = f
}

// OnConnectionComplete registers a consumer for Connection Complete
// events not already claimed by an outstanding CreateConnection waiter -
// this is how an unsolicited (peer-initiated) connection's completion
// becomes visible to the application.
func (c *Client) OnConnectionComplete(f func(ConnectionComplete) bool) {
	c.connectionCompleteCb = f
}

// OnDisconnectionComplete registers a consumer for Disconnection
// Complete events.
func (c *Client) OnDisconnectionComplete(f func(DisconnectionComplete) bool) {
	c.disconnectionCompleteCb = f
}

// OnLinkKeyRequest registers a consumer for Link Key Request events.
func (c *Client) OnLinkKeyRequest(f func(addr [6]byte) bool) { c.linkKeyRequestCb = f }

// OnPinCodeRequest registers a consumer for Pin Code Request events.
func (c *Client) OnPinCodeRequest(f func(addr [6]byte) bool) { c.pinCodeRequestCb = f }

// OnNumberOfCompletedPackets registers a consumer for
// Number-of-Completed-Packets events (credit-return notifications).
func (c *Client) OnNumberOfCompletedPackets(f func([]NumberOfCompletedPackets) bool) {
	c.numberOfCompletedPacketsCb = f
}

// dispatchBroadcast routes a broadcast-class event to this client's
// matching handler, if any, returning true if the client consumed it.
func (c *Client) dispatchBroadcast(code EventCode, body []byte) bool {
	switch code {
	case EvtConnectionComplete:
		if c.connectionCompleteCb == nil {
			return false
		}
		if cc, ok := ParseConnectionComplete(body); ok {
			return c.connectionCompleteCb(cc)
		}
	case EvtConnectionRequest:
		if c.connectionRequestCb == nil {
			return false
		}
		if cr, ok := ParseConnectionRequest(body); ok {
			return c.connectionRequestCb(cr)
		}
	case EvtDisconnectionComplete:
		if c.disconnectionCompleteCb == nil {
			return false
		}
		if dc, ok := ParseDisconnectionComplete(body); ok {
			return c.disconnectionCompleteCb(dc)
		}
	case EvtLinkKeyRequest:
		if c.linkKeyRequestCb == nil {
			return false
		}
		if r, ok := ParseLinkKeyRequest(body); ok {
			return c.linkKeyRequestCb(r.Address)
		}
	case EvtPinCodeRequest:
		if c.pinCodeRequestCb == nil {
			return false
		}
		if r, ok := ParsePinCodeRequest(body); ok {
			return c.pinCodeRequestCb(r.Address)
		}
	case EvtNumberOfCompletedPackets:
		if c.numberOfCompletedPacketsCb == nil {
			return false
		}
		return c.numberOfCompletedPacketsCb(ParseNumberOfCompletedPackets(body))
	}
	return false
}
