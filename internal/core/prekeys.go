// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"encoding/base64"
	"strconv"

	"go.uber.org/zap"
)

// Pre-key top-up policy constants, spec.md §4.5.
const (
	MinPreKeyCount     = 30
	InitialPreKeyCount = 30
)

// PreKeyGenerator produces, persists, and uploads batches of one-time
// pre-keys plus the signed pre-key, spec.md §4.5.
type PreKeyGenerator struct {
	store  CredentialStore
	logger *zap.SugaredLogger
}

// NewPreKeyGenerator binds a generator to a credential store.
func NewPreKeyGenerator(store CredentialStore, logger *zap.SugaredLogger) *PreKeyGenerator {
	return &PreKeyGenerator{store: store, logger: logger}
}

// GenerateBatch allocates ids [nextPreKeyID, nextPreKeyID+count), generates
// keypairs, persists them under "pre-key/<id>", and advances
// NextPreKeyID/FirstUnuploadedPreKeyID — all inside a single store
// transaction, so an interrupted run never advances the counters without
// the corresponding records persisted (spec.md §4.5).
func (g *PreKeyGenerator) GenerateBatch(creds *AuthenticationCreds, count uint32) ([]PreKeyRecord, error) {
	var generated []PreKeyRecord

	err := g.store.Transaction(func() error {
		startID := creds.NextPreKeyID
		records := make(map[string][]byte, count)

		for i := uint32(0); i < count; i++ {
			id := startID + i
			kp, err := GenerateKeyPair()
			if err != nil {
				return ErrBadSession(err)
			}
			rec := PreKeyRecord{ID: id, Public: kp.Public[:], Private: kp.Private[:]}
			generated = append(generated, rec)
			records[preKeyID(id)] = encodePreKeyRecord(rec)
		}

		if err := g.store.Set(preKeyCategory, records); err != nil {
			return err
		}

		creds.NextPreKeyID = startID + count
		creds.FirstUnuploadedPreKeyID = startID
		return g.store.SetCreds(creds)
	})
	if err != nil {
		return nil, err
	}
	return generated, nil
}

func encodePreKeyRecord(rec PreKeyRecord) []byte {
	// A minimal, self-describing encoding: base64(public) + "." +
	// base64(private), adequate for the in-process/file stores this core
	// ships with; an embedder with a different backing store supplies its
	// own CredentialStore and is free to encode records however it likes.
	return []byte(base64.StdEncoding.EncodeToString(rec.Public) + "." + base64.StdEncoding.EncodeToString(rec.Private) + "." + strconv.FormatUint(uint64(rec.ID), 10))
}

// BuildUploadNode constructs the iq node that uploads identity, the signed
// pre-key, and a batch of one-time pre-keys, per spec.md §4.5.
func BuildUploadNode(creds *AuthenticationCreds, batch []PreKeyRecord) *BinaryNode {
	registration := NewNode("registration", uint32ToBytes(creds.RegistrationID))

	identity := NewNode("identity", SignalPubKey(signedIdentityPublic(creds)))

	signedKey := NewNode("key", nil)
	signedKey.SetAttr("id", strconv.FormatUint(uint64(creds.SignedPreKey.KeyID), 10))
	signedKey.Content = []*BinaryNode{
		NewNode("value", SignalPubKey(toArray32(creds.SignedPreKey.Public))),
		NewNode("signature", creds.SignedPreKey.Signature),
	}

	preKeyNodes := make([]*BinaryNode, len(batch))
	for i, rec := range batch {
		pk := NewNode("key", nil)
		pk.SetAttr("id", strconv.FormatUint(uint64(rec.ID), 10))
		pk.Content = []*BinaryNode{
			NewNode("value", SignalPubKey(toArray32(rec.Public))),
		}
		preKeyNodes[i] = pk
	}

	iq := NewNode("iq", []*BinaryNode{
		registration,
		identity,
		signedKey,
		NewNode("list", preKeyNodes),
	})
	iq.SetAttr("xmlns", "encrypt")
	iq.SetAttr("type", "set")
	iq.SetAttr("to", "s.whatsapp.net")
	return iq
}

func toArray32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func signedIdentityPublic(creds *AuthenticationCreds) [32]byte {
	if creds.SignedIdentityKey == nil {
		return [32]byte{}
	}
	return creds.SignedIdentityKey.Public
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ShouldTopUp reports whether the server's reported remaining count is at
// or below the minimum threshold, spec.md §4.5's top-up policy.
func ShouldTopUp(remaining int) bool {
	return remaining <= MinPreKeyCount
}
