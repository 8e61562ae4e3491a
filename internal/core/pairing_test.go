package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPairing(t *testing.T) (*Pairing, *MemoryStore, *EventBus) {
	t.Helper()
	noise, err := NewNoiseHandler()
	require.NoError(t, err)
	store := NewMemoryStore()
	bus := NewEventBus()
	return NewPairing(noise, store, bus, nil), store, bus
}

func TestHandleRefEmitsQRInFourPartFormat(t *testing.T) {
	t.Parallel()

	p, _, bus := newTestPairing(t)
	var got *ConnectionUpdate
	bus.On(EventConnectionUpdate, func(payload interface{}) {
		got = payload.(*ConnectionUpdate)
	})

	var identityPub [32]byte
	_, err := rand.Read(identityPub[:])
	require.NoError(t, err)

	qr, err := p.HandleRef("abc123ref", identityPub, func() {})
	require.NoError(t, err)
	defer p.Stop()

	parts := strings.Split(qr, ",")
	require.Len(t, parts, 4)
	require.Equal(t, "abc123ref", parts[0])
	require.NotEmpty(t, parts[1])
	require.NotEmpty(t, parts[2])
	require.NotEmpty(t, parts[3])

	require.NotNil(t, got)
	require.NotNil(t, got.QR)
	require.Equal(t, qr, *got.QR)
}

func TestHandleRefFirstCallUsesRefCountOneSubsequentIncrement(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPairing(t)
	var identityPub [32]byte

	_, err := p.HandleRef("ref1", identityPub, func() {})
	require.NoError(t, err)
	require.Equal(t, 1, p.refCount)

	_, err = p.HandleRef("ref2", identityPub, func() {})
	require.NoError(t, err)
	require.Equal(t, 2, p.refCount)
	p.Stop()
}

func TestHandleRefReusesPersistedAdvSecretKey(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestPairing(t)
	require.NoError(t, store.SetCreds(&AuthenticationCreds{AdvSecretKey: "fixed-adv-secret"}))

	var identityPub [32]byte
	qr, err := p.HandleRef("ref1", identityPub, func() {})
	require.NoError(t, err)
	defer p.Stop()

	parts := strings.Split(qr, ",")
	require.Equal(t, "fixed-adv-secret", parts[3])
}

func TestStopIsSafeWithoutAPriorHandleRef(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPairing(t)
	require.NotPanics(t, p.Stop)
}

func buildSignedPairSuccessNode(t *testing.T) (*BinaryNode, *AuthenticationCreds, []byte) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var identityPub [32]byte
	copy(identityPub[:], pub)
	var seed [32]byte
	copy(seed[:], priv.Seed())

	signedContent := []byte("device identity protobuf bytes go here")
	sig := Ed25519Sign(seed, signedContent)
	payload := append(append([]byte{}, signedContent...), sig...)

	deviceIdentity := NewNode("device-identity", payload)
	platform := NewNode("platform", nil)
	platform.SetAttr("name", "Pixel 8")
	pairSuccess := NewNode("pair-success", []*BinaryNode{deviceIdentity, platform})
	node := NewNode("iq", []*BinaryNode{pairSuccess})
	node.SetAttr("to", "15551234567@s.whatsapp.net")

	creds := &AuthenticationCreds{SignedIdentityKey: &KeyPair{Public: identityPub}}
	return node, creds, payload
}

func TestHandlePairSuccessVerifiesAndEmitsEventsInOrder(t *testing.T) {
	t.Parallel()

	p, store, bus := newTestPairing(t)
	node, creds, _ := buildSignedPairSuccessNode(t)

	var eventOrder []string
	var credsPayload *AuthenticationCreds
	var updates []*ConnectionUpdate
	bus.On(EventCredsUpdate, func(payload interface{}) {
		eventOrder = append(eventOrder, EventCredsUpdate)
		credsPayload = payload.(*AuthenticationCreds)
	})
	bus.On(EventConnectionUpdate, func(payload interface{}) {
		eventOrder = append(eventOrder, EventConnectionUpdate)
		updates = append(updates, payload.(*ConnectionUpdate))
	})

	// HandlePairSuccess itself only emits creds.update and the
	// isNewLogin update; the terminal connection.update{close} is owned by
	// Connection.end, which the caller (installTopLevelHandlers) invokes
	// right after this returns — see TestPairSuccessRouteEmitsExactlyThreeEventsInOrder
	// in connection_test.go for the full sequence.
	err := p.HandlePairSuccess(node, creds)
	require.NoError(t, err)

	require.Equal(t, []string{EventCredsUpdate, EventConnectionUpdate}, eventOrder)
	require.Equal(t, "15551234567@s.whatsapp.net", credsPayload.Me.JID)
	require.Equal(t, "Pixel 8", credsPayload.Me.Name)

	require.Len(t, updates, 1)
	require.True(t, updates[0].IsNewLogin)
	require.Nil(t, updates[0].QR)

	persisted, err := store.GetCreds()
	require.NoError(t, err)
	require.Equal(t, "15551234567@s.whatsapp.net", persisted.Me.JID)
}

func TestHandlePairSuccessRejectsTamperedSignature(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPairing(t)
	node, creds, payload := buildSignedPairSuccessNode(t)
	tampered := append([]byte{}, payload...)
	tampered[0] ^= 0xFF
	node.GetChild("pair-success").GetChild("device-identity").Content = tampered

	err := p.HandlePairSuccess(node, creds)
	require.Error(t, err)
	var dErr *DisconnectError
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, KindBadSession, dErr.Kind)
}

func TestHandlePairSuccessRejectsMissingPairDevice(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPairing(t)
	node := NewNode("iq", nil)
	err := p.HandlePairSuccess(node, &AuthenticationCreds{})
	require.Error(t, err)
}

func TestHandlePairSuccessRejectsShortPayload(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPairing(t)
	deviceIdentity := NewNode("device-identity", []byte("too short"))
	pairSuccess := NewNode("pair-success", []*BinaryNode{deviceIdentity})
	node := NewNode("iq", []*BinaryNode{pairSuccess})

	err := p.HandlePairSuccess(node, &AuthenticationCreds{SignedIdentityKey: &KeyPair{}})
	require.Error(t, err)
}
