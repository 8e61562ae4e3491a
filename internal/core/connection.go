// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ConnectionState is the explicit state machine driving a session, spec.md
// §4.9: connecting -> handshaking -> (registering | loggingIn) -> active ->
// closing -> closed.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateHandshaking
	StateRegistering
	StateLoggingIn
	StateActive
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateRegistering:
		return "registering"
	case StateLoggingIn:
		return "logging_in"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionConfig holds everything needed to build a Connection.
type ConnectionConfig struct {
	SessionID           string
	SessionDir          string
	ConnectTimeoutMs    int
	KeepAliveIntervalMs int
	QueryTimeoutMs      int
	Logger              *zap.SugaredLogger
}

// Connection owns the WebSocket, the Noise handler, the dispatcher, the
// event bus, the credential store, and the keep-alive/pairing helpers that
// together implement spec.md §4's connection lifecycle. Grounded on the
// teacher's internal/core/connection.go (same nhooyr.io/websocket dial
// pattern, same receive-loop shape), generalized from its placeholder auth
// handling to the real Noise/dispatcher/pairing pipeline.
type Connection struct {
	mu sync.RWMutex

	ws     *websocket.Conn
	state  ConnectionState
	config ConnectionConfig
	logger *zap.SugaredLogger

	noise      *NoiseHandler
	dispatcher *Dispatcher
	bus        *EventBus
	store      CredentialStore
	preKeys    *PreKeyGenerator
	keepAlive  *KeepAlive
	pairing    *Pairing

	lastFrameAt time.Time

	closeOnce sync.Once
	endErr    error
}

// NewConnection wires together the components described in SPEC_FULL.md §4
// for a single session.
func NewConnection(config ConnectionConfig, store CredentialStore) (*Connection, error) {
	noise, err := NewNoiseHandler()
	if err != nil {
		return nil, err
	}

	c := &Connection{
		state:  StateDisconnected,
		config: config,
		logger: config.Logger,
		noise:  noise,
		bus:    NewEventBus(),
		store:  store,
	}
	c.preKeys = NewPreKeyGenerator(store, config.Logger)
	c.pairing = NewPairing(noise, store, c.bus, config.Logger)
	c.dispatcher = NewDispatcher(c.sendNode, durationPtr(config.QueryTimeoutMs), config.Logger)
	return c, nil
}

func durationPtr(ms int) *time.Duration {
	if ms <= 0 {
		return nil
	}
	d := time.Duration(ms) * time.Millisecond
	return &d
}

// Events exposes the connection's event bus for "connection.update" and
// "creds.update" subscribers, spec.md §4.6.
func (c *Connection) Events() *EventBus { return c.bus }

// Dispatcher exposes the correlator for callers that need Query/Subscribe
// directly (e.g. the feature layer's message/group/presence builders).
func (c *Connection) Dispatcher() *Dispatcher { return c.dispatcher }

// SendNode transmits a fire-and-forget stanza (no response is awaited),
// e.g. a presence update. A tag is stamped on for wire consistency even
// though nothing correlates against it.
func (c *Connection) SendNode(node *BinaryNode) error {
	if node.Attrs == nil || node.Attrs["id"] == "" {
		node.SetAttr("id", c.dispatcher.GenerateMessageTag())
	}
	return c.sendNode(node)
}

// State reports the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect dials the WebSocket, performs the Noise handshake, and then
// either resumes an existing session or starts pairing, per spec.md §4.9.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{Connection: "connecting"})

	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {WAOrigin}},
	}
	ws, _, err := websocket.Dial(ctx, WAWebSocketURL, opts)
	if err != nil {
		return c.end(ErrConnectionClosed(err))
	}
	c.mu.Lock()
	c.ws = ws
	c.lastFrameAt = time.Now()
	c.mu.Unlock()

	readCtx, cancelRead := context.WithCancel(context.Background())
	go c.receiveLoop(readCtx)

	c.setState(StateHandshaking)
	if err := c.performHandshake(ctx); err != nil {
		cancelRead()
		return c.end(err)
	}

	creds, err := c.store.GetCreds()
	if err != nil {
		cancelRead()
		return c.end(ErrBadSession(err))
	}

	if creds != nil && creds.Me != nil {
		c.setState(StateLoggingIn)
		if err := c.resume(ctx, creds); err != nil {
			cancelRead()
			return c.end(err)
		}
		c.installTopLevelHandlers()
		c.startKeepAlive()
		c.setState(StateActive)
		c.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{Connection: "open"})
		return nil
	}

	// Registration path: startPairing only surfaces the first QR ref and
	// returns once it's shown. The session is not active yet — it is still
	// awaiting a scan — so "open" must wait for the real "success" stanza
	// (CB:success below), which arrives only after pair-success completes a
	// fresh login. Emitting "open" here would report an unpaired session as
	// connected, per spec.md §4.9.
	c.setState(StateRegistering)
	if err := c.startPairing(ctx); err != nil {
		cancelRead()
		return c.end(err)
	}

	c.installTopLevelHandlers()
	c.startKeepAlive()
	return nil
}

// performHandshake sends the client hello, waits for the server hello
// frame, and completes the Noise XX handshake, spec.md §4.2.
func (c *Connection) performHandshake(ctx context.Context) error {
	hello := c.noise.GenerateClientHello()
	if err := c.sendRaw(ctx, hello); err != nil {
		return ErrConnectionClosed(err)
	}

	timeoutMs := c.config.ConnectTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultConnectTimeoutMs
	}
	handshakeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	frame, err := c.waitRawFrame(handshakeCtx)
	if err != nil {
		return err
	}
	if err := c.noise.ProcessServerHello(frame); err != nil {
		return err
	}

	finish, err := c.noise.GenerateClientFinish(nil)
	if err != nil {
		return err
	}
	if err := c.sendRaw(ctx, finish); err != nil {
		return ErrConnectionClosed(err)
	}
	return nil
}

// waitRawFrame reads one already-framed (but not yet Noise-decrypted; the
// handshake frames are plaintext protobuf) message directly off the socket,
// used only during the pre-handshake phase before the dispatcher's decoded
// node stream exists.
func (c *Connection) waitRawFrame(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, ErrConnectionClosed(err)
	}
	// Strip the 4-byte "WA\x06\x03" prologue the handshake's first frame
	// also carries ahead of the length-prefixed protobuf body.
	if len(data) > 4 && string(data[:4]) == NoiseHeader {
		data = data[4:]
	}
	if len(data) >= 3 {
		size := readFrameLength(data)
		if len(data) >= 3+size {
			return data[3 : 3+size], nil
		}
	}
	return data, nil
}

// resume sends an existing-session login iq and waits for success.
func (c *Connection) resume(ctx context.Context, creds *AuthenticationCreds) error {
	login := NewNode("iq", nil)
	login.SetAttr("to", "s.whatsapp.net")
	login.SetAttr("xmlns", "passive")
	login.SetAttr("type", "set")

	timeoutMs := c.config.QueryTimeoutMs
	var timeoutPtr *int
	if timeoutMs > 0 {
		timeoutPtr = &timeoutMs
	}
	_, err := c.dispatcher.Query(ctx, login, timeoutPtr)
	return err
}

// startPairing waits for the first "ref" push the server sends on the raw
// stream and kicks off the QR lifecycle, spec.md §4.1/§8 scenario 4.
func (c *Connection) startPairing(ctx context.Context) error {
	timeoutMs := c.config.ConnectTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultConnectTimeoutMs
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	frame, err := c.waitRawFrame(waitCtx)
	if err != nil {
		return err
	}
	node, err := DecodeBinaryNode(frame)
	if err != nil {
		return ErrBadSession(err)
	}
	return c.handlePairRef(node)
}

func (c *Connection) handlePairRef(node *BinaryNode) error {
	refNode := node.GetChild("ref")
	if refNode == nil {
		return ErrBadSession(fmt.Errorf("pairing: expected ref node, got %q", node.Tag))
	}
	ref, _ := refNode.Content.([]byte)

	creds, err := c.store.GetCreds()
	if err != nil {
		return ErrBadSession(err)
	}
	if creds == nil {
		creds, err = c.newCredentials()
		if err != nil {
			return err
		}
		if err := c.store.SetCreds(creds); err != nil {
			return err
		}
	}

	_, err = c.pairing.HandleRef(string(ref), creds.SignedIdentityKey.Public, func() {
		c.end(ErrTimeout(fmt.Errorf("qr code expired")))
	})
	return err
}

// newCredentials generates a fresh identity for a new pairing session,
// spec.md §4.1/§4.5.
func (c *Connection) newCredentials() (*AuthenticationCreds, error) {
	noiseKey, err := GenerateKeyPair()
	if err != nil {
		return nil, ErrBadSession(err)
	}
	identityKey, err := GenerateKeyPair()
	if err != nil {
		return nil, ErrBadSession(err)
	}
	signedPre, err := GenerateKeyPair()
	if err != nil {
		return nil, ErrBadSession(err)
	}
	signature := Ed25519Sign(identityKey.Private, SignalPubKey(signedPre.Public))

	creds := &AuthenticationCreds{
		NoiseKey:          noiseKey,
		SignedIdentityKey: identityKey,
		SignedPreKey: SignedKeyPair{
			KeyID:     1,
			Public:    signedPre.Public[:],
			Private:   signedPre.Private[:],
			Signature: signature,
		},
		RegistrationID: generateRegistrationID(),
		NextPreKeyID:   1,
	}
	return creds, nil
}

func generateRegistrationID() uint32 {
	kp, err := GenerateKeyPair()
	if err != nil {
		return 1
	}
	return uint32(kp.Public[0])<<8 | uint32(kp.Public[1]) | 1
}

// installTopLevelHandlers wires the dispatcher's pattern subscriptions that
// drive the rest of the state machine once the socket is live, spec.md
// §4.9's per-node transition table.
func (c *Connection) installTopLevelHandlers() {
	c.dispatcher.Subscribe("CB:iq,,pair-device", func(node *BinaryNode) bool {
		_ = c.handlePairRef(node.GetChild("pair-device"))
		return true
	})

	c.dispatcher.Subscribe("CB:iq,,pair-success", func(node *BinaryNode) bool {
		creds, err := c.store.GetCreds()
		if err != nil || creds == nil {
			c.end(ErrBadSession(fmt.Errorf("pair-success with no local credentials")))
			return true
		}
		if err := c.pairing.HandlePairSuccess(node, creds); err != nil {
			c.end(err)
			return true
		}
		c.pairing.Stop()
		c.end(ErrRestartRequired(nil))
		return true
	})

	c.dispatcher.Subscribe("CB:success", func(node *BinaryNode) bool {
		c.setState(StateActive)
		c.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{Connection: "open"})
		go c.topUpPreKeysIfNeeded()
		return true
	})

	c.dispatcher.Subscribe("CB:ib,,offline", func(node *BinaryNode) bool {
		c.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{ReceivedPendingNotifications: true})
		return true
	})

	c.dispatcher.Subscribe("CB:stream:error", func(node *BinaryNode) bool {
		c.end(ErrConnectionLost(fmt.Errorf("stream:error received")))
		return true
	})

	c.dispatcher.Subscribe("CB:failure", func(node *BinaryNode) bool {
		reason := node.Attrs["reason"]
		if reason == "401" {
			c.end(ErrLoggedOut(fmt.Errorf("server reported failure reason 401")))
		} else {
			c.end(ErrConnectionLost(fmt.Errorf("stream failure: %s", reason)))
		}
		return true
	})

	c.dispatcher.Subscribe("CB:xmlstreamend", func(node *BinaryNode) bool {
		c.end(ErrConnectionLost(fmt.Errorf("xmlstreamend received")))
		return true
	})
}

// topUpPreKeysIfNeeded checks the server-reported remaining count and
// generates/uploads a fresh batch when it drops at or below the minimum,
// spec.md §4.5.
func (c *Connection) topUpPreKeysIfNeeded() {
	creds, err := c.store.GetCreds()
	if err != nil || creds == nil {
		return
	}
	countNode := NewNode("count", nil)
	iq := NewNode("iq", []*BinaryNode{countNode})
	iq.SetAttr("xmlns", "encrypt")
	iq.SetAttr("type", "get")
	iq.SetAttr("to", "s.whatsapp.net")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := c.dispatcher.Query(ctx, iq, nil)
	if err != nil {
		return
	}
	remaining := 0
	if countChild := resp.GetChild("count"); countChild != nil {
		fmt.Sscanf(countChild.Attrs["value"], "%d", &remaining)
	}
	if !ShouldTopUp(remaining) {
		return
	}
	batch, err := c.preKeys.GenerateBatch(creds, InitialPreKeyCount)
	if err != nil {
		return
	}
	upload := BuildUploadNode(creds, batch)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel2()
	c.dispatcher.Query(ctx2, upload, nil)
}

func (c *Connection) startKeepAlive() {
	intervalMs := c.config.KeepAliveIntervalMs
	if intervalMs <= 0 {
		intervalMs = DefaultKeepAliveIntervalMs
	}
	c.keepAlive = NewKeepAlive(intervalMs, c.dispatcher.Query, func(err error) {
		c.end(err)
	})
	c.keepAlive.Start()
}

// sendRaw writes already-framed bytes directly to the socket.
func (c *Connection) sendRaw(ctx context.Context, data []byte) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("connection: not connected")
	}
	return ws.Write(ctx, websocket.MessageBinary, data)
}

// sendNode encodes, frames, and (once established) Noise-encrypts a node,
// then writes it. This is the func passed to Dispatcher/KeepAlive as their
// sole transmit path.
func (c *Connection) sendNode(node *BinaryNode) error {
	data := EncodeBinaryNode(node)
	frame, err := c.noise.EncodeFrame(data)
	if err != nil {
		return err
	}
	return c.sendRaw(context.Background(), frame)
}

// receiveLoop reads frames off the socket, decrypts/decodes them, and
// routes the result through the dispatcher, spec.md §4.7/§4.9.
func (c *Connection) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.end(ErrConnectionClosed(err))
			return
		}

		frames, err := c.noise.DecodeFrame(data)
		if err != nil {
			c.end(ErrBadSession(err))
			return
		}

		c.mu.Lock()
		c.lastFrameAt = time.Now()
		c.mu.Unlock()
		if c.keepAlive != nil {
			c.keepAlive.NoteFrameReceived()
		}

		for _, f := range frames {
			node, err := DecodeBinaryNode(f)
			if err != nil {
				c.logger.Warnf("connection: failed to decode inbound node: %v", err)
				continue
			}
			c.dispatcher.Route(node)
		}
	}
}

// Logout sends the logout iq and tears the connection down with
// LoggedOut, spec.md §4.9.
func (c *Connection) Logout(ctx context.Context) error {
	node := NewNode("iq", nil)
	node.SetAttr("xmlns", "md")
	node.SetAttr("type", "set")
	node.SetAttr("to", "s.whatsapp.net")
	_, err := c.dispatcher.Query(ctx, node, nil)
	c.end(ErrLoggedOut(err))
	return err
}

// end tears the connection down exactly once: stops keep-alive and
// pairing timers, fails every pending dispatcher request, closes the
// socket, updates state, and emits the terminal "connection.update", per
// spec.md §4.9's single-teardown-path invariant.
func (c *Connection) end(err error) error {
	c.closeOnce.Do(func() {
		c.endErr = err
		c.setState(StateClosing)

		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		c.pairing.Stop()
		c.dispatcher.FailAll(err)

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			ws.Close(websocket.StatusNormalClosure, "closing")
		}

		c.setState(StateClosed)
		c.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{
			Connection:     "close",
			LastDisconnect: &LastDisconnect{Error: err},
		})
		c.bus.Off(EventConnectionUpdate)
	})
	return c.endErr
}

// Close tears the connection down cleanly, as if the caller requested it.
func (c *Connection) Close() error {
	return c.end(ErrConnectionClosed(nil))
}
