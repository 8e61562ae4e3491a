// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QR ref timing, spec.md §4.1/§8 scenario 4: the first ref is valid for 60s,
// every subsequent ref for 20s, refreshed by the server's "ref" iq pushes
// until the pairing completes or the refs are exhausted.
const (
	FirstQRTimeout      = 60 * time.Second
	SubsequentQRTimeout = 20 * time.Second
)

// Pairing drives QR-code generation and the pair-device/pair-success
// handshake described in spec.md §4.1 and §8 scenarios 4 and 6.
type Pairing struct {
	mu sync.Mutex

	noise  *NoiseHandler
	store  CredentialStore
	bus    *EventBus
	logger *zap.SugaredLogger

	refCount int
	timer    *time.Timer
	onExpire func()
}

// NewPairing binds a pairing session to the connection's noise handler,
// credential store, and event bus.
func NewPairing(noise *NoiseHandler, store CredentialStore, bus *EventBus, logger *zap.SugaredLogger) *Pairing {
	return &Pairing{noise: noise, store: store, bus: bus, logger: logger}
}

// HandleRef processes one "ref" pushed by the server and emits the QR
// string on the event bus, per spec.md §8 scenario 4:
//
//	"<ref>,<noiseKeyB64>,<identityKeyB64>,<advSecretKeyB64>"
//
// The timeout for this ref is 60s on the first call and 20s on every
// subsequent call; OnExpire fires if no further ref or pair-success
// arrives before the timer elapses.
func (p *Pairing) HandleRef(ref string, identityPublic [32]byte, onExpire func()) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refCount++
	p.onExpire = onExpire

	advSecret, err := p.advSecretKey()
	if err != nil {
		return "", err
	}

	qr := fmt.Sprintf("%s,%s,%s,%s",
		ref,
		base64.StdEncoding.EncodeToString(p.noise.GetPublicKey()),
		base64.StdEncoding.EncodeToString(identityPublic[:]),
		advSecret,
	)

	if p.timer != nil {
		p.timer.Stop()
	}
	timeout := SubsequentQRTimeout
	if p.refCount == 1 {
		timeout = FirstQRTimeout
	}
	p.timer = time.AfterFunc(timeout, func() {
		p.mu.Lock()
		cb := p.onExpire
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})

	p.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{QR: &qr})
	return qr, nil
}

// Stop cancels any pending expiry timer, called once pairing completes or
// the connection ends.
func (p *Pairing) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pairing) advSecretKey() (string, error) {
	creds, err := p.store.GetCreds()
	if err != nil {
		return "", err
	}
	if creds == nil || creds.AdvSecretKey == "" {
		var secret [32]byte
		if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
			return "", ErrBadSession(err)
		}
		return base64.StdEncoding.EncodeToString(secret[:]), nil
	}
	return creds.AdvSecretKey, nil
}

// HandlePairSuccess verifies the server's signature over the newly issued
// identity material and device JID, persists credentials, and returns the
// ordered events to emit per spec.md §8 scenario 6:
//
//	1. "creds.update" {me: {...}}
//	2. "connection.update" {isNewLogin: true, qr: nil}
//	3. "connection.update" {connection: "close", lastDisconnect: {error:
//	   RestartRequired}}
//
// The caller (the connection state machine) is responsible for actually
// tearing the socket down after step 3; Pairing only computes and emits
// the update sequence.
func (p *Pairing) HandlePairSuccess(node *BinaryNode, creds *AuthenticationCreds) error {
	pairSuccess := node.GetChild("pair-success")
	if pairSuccess == nil {
		return ErrBadSession(fmt.Errorf("pair-success: missing pair-success child"))
	}

	deviceIdentity := pairSuccess.GetChild("device-identity")
	if deviceIdentity == nil {
		return ErrBadSession(fmt.Errorf("pair-success: missing device-identity"))
	}
	payload, _ := deviceIdentity.Content.([]byte)
	if len(payload) < 64 {
		return ErrBadSession(fmt.Errorf("pair-success: device-identity payload too short"))
	}
	signature := payload[len(payload)-64:]
	signedContent := payload[:len(payload)-64]

	pub := SignalPubKey(creds.SignedIdentityKey.Public)
	if !Ed25519Verify(pub[1:], signedContent, signature) {
		return ErrBadSession(fmt.Errorf("pair-success: device-identity signature verification failed"))
	}

	jid := node.Attrs["to"]
	name := ""
	if device := pairSuccess.GetChild("platform"); device != nil {
		if n, ok := device.Attrs["name"]; ok {
			name = n
		}
	}
	creds.Me = &MeInfo{JID: jid, Name: name}

	if err := p.store.SetCreds(creds); err != nil {
		return err
	}

	p.bus.Emit(EventCredsUpdate, creds)

	p.bus.Emit(EventConnectionUpdate, &ConnectionUpdate{IsNewLogin: true, QR: nil})

	// The terminal "connection.update{close}" is emitted exactly once, by
	// Connection.end, which the caller invokes right after HandlePairSuccess
	// returns (spec.md §8 scenario 6's 3-event sequence).
	return nil
}
