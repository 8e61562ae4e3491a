package core

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairIsClampedX25519(t *testing.T) {
	t.Parallel()

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.Zero(t, kp.Private[0]&0x07, "low 3 bits of private scalar must be cleared")
	require.Zero(t, kp.Private[31]&0x80, "high bit of private scalar must be cleared")
	require.NotZero(t, kp.Private[31]&0x40, "second-highest bit of private scalar must be set")
}

func TestSharedSecretIsSymmetric(t *testing.T) {
	t.Parallel()

	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	s1, err := SharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	s2, err := SharedSecret(bob.Private, alice.Public)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestSignalPubKeyPrependsType5(t *testing.T) {
	t.Parallel()

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	encoded := SignalPubKey(kp.Public)
	require.Len(t, encoded, 33)
	require.Equal(t, byte(0x05), encoded[0])
	require.True(t, bytes.Equal(kp.Public[:], encoded[1:]))
}

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	var seed [32]byte
	_, err := rand.Read(seed[:])
	require.NoError(t, err)

	msg := []byte("device-identity payload")
	sig := Ed25519Sign(seed, msg)
	require.Len(t, sig, 64)

	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := []byte(priv.Public().(ed25519.PublicKey))
	require.True(t, Ed25519Verify(pub, msg, sig))
	require.False(t, Ed25519Verify(pub, []byte("tampered"), sig))
}

func TestAESCBCEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	plaintext := []byte("pre-key upload payload, arbitrary length 123")
	ciphertext, err := AESCBCEncryptRandomIV(key, plaintext)
	require.NoError(t, err)

	decrypted, err := AESCBCDecryptRandomIV(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestAESCBCDecryptRandomIVRejectsShortInput(t *testing.T) {
	t.Parallel()

	key := make([]byte, 32)
	_, err := AESCBCDecryptRandomIV(key, []byte("short"))
	require.Error(t, err)
}

func TestHKDFExpandIsDeterministicAndInfoSeparates(t *testing.T) {
	t.Parallel()

	ikm := []byte("shared-secret-material")
	salt := []byte("salt-value")

	out1, err := HKDFExpand(ikm, salt, "context-a", 64)
	require.NoError(t, err)
	out2, err := HKDFExpand(ikm, salt, "context-a", 64)
	require.NoError(t, err)
	require.Equal(t, out1, out2)

	out3, err := HKDFExpand(ikm, salt, "context-b", 64)
	require.NoError(t, err)
	require.NotEqual(t, out1, out3)
}

func TestHMACSHA256KnownVector(t *testing.T) {
	t.Parallel()

	// RFC 4231 test case 1.
	key := bytes.Repeat([]byte{0x0b}, 20)
	data := []byte("Hi There")
	mac := HMACSHA256(key, data)
	require.Equal(t,
		"b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff",
		hex.EncodeToString(mac))
}

func TestMediaHKDFInfoMappingDoesNotReplicateLegacyAudioBug(t *testing.T) {
	t.Parallel()

	info, ok := mediaHKDFInfo("audio")
	require.True(t, ok)
	require.Equal(t, "WhatsApp Audio Keys", info)

	info, ok = mediaHKDFInfo("video")
	require.True(t, ok)
	require.Equal(t, "WhatsApp Video Keys", info)

	_, ok = mediaHKDFInfo("unknown-type")
	require.False(t, ok)
}
