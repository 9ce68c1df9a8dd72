package datachannel

//
// Key sources and key derivation (OpenVPN key-method 2).
//

import (
	"crypto/hmac"
	"crypto/md5"  //#nosec G501
	"crypto/sha1" //#nosec G505
	"fmt"
	"hash"

	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/provider"
	"github.com/ooni/ovpndata/internal/securebuf"
)

const (
	// randomSize is the size of the r1 and r2 randoms of a key source.
	randomSize = 32

	// preMasterSize is the size of the pre-master secret.
	preMasterSize = 48

	// keySourceSize is the size of a full key source.
	keySourceSize = preMasterSize + 2*randomSize

	// masterSecretSize is the size of the master secret.
	masterSecretSize = 48

	// KeySlotSize is the size of each of the four key slots.
	KeySlotSize = 64

	// keyExpansionSize is the size of the key expansion.
	keyExpansionSize = 4 * KeySlotSize
)

var (
	labelMasterSecret = []byte("OpenVPN master secret")
	labelKeyExpansion = []byte("OpenVPN key expansion")
)

// KeySource contains the random material exchanged over the control channel
// from which we derive the data channel keys. The pre-master secret is only
// meaningful for the client's key source.
type KeySource struct {
	// buf is preMaster || r1 || r2, which is also the wire order.
	buf *securebuf.Buffer
}

// NewKeySource returns a fresh [KeySource] filled by the provider.
func NewKeySource(prov provider.Provider) (*KeySource, error) {
	buf, err := securebuf.Random(keySourceSize, prov.Fill)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntropyUnavailable, err)
	}
	return &KeySource{buf: buf}, nil
}

// ParseKeySource parses a key source received from the peer: either the
// full preMaster||r1||r2 or just r1||r2. The input is wiped.
func ParseKeySource(b []byte) (*KeySource, error) {
	switch len(b) {
	case keySourceSize:
		return &KeySource{buf: securebuf.FromBytes(b)}, nil
	case 2 * randomSize:
		ks := &KeySource{buf: securebuf.New(keySourceSize)}
		copy(ks.buf.Bytes()[preMasterSize:], b)
		securebuf.Wipe(b)
		return ks, nil
	default:
		return nil, fmt.Errorf("%w: key source with %d bytes", ErrBadKeyMaterial, len(b))
	}
}

// Bytes returns preMaster||r1||r2. The slice is borrowed until Destroy.
func (k *KeySource) Bytes() []byte {
	return k.buf.Bytes()
}

func (k *KeySource) preMaster() []byte {
	return k.buf.Slice(0, preMasterSize)
}

func (k *KeySource) r1() []byte {
	return k.buf.Slice(preMasterSize, preMasterSize+randomSize)
}

func (k *KeySource) r2() []byte {
	return k.buf.Slice(preMasterSize+randomSize, keySourceSize)
}

// Destroy wipes the key source.
func (k *KeySource) Destroy() {
	k.buf.Destroy()
}

// key slots within the key expansion
const (
	slotCipherLocal = iota
	slotHMACLocal
	slotCipherRemote
	slotHMACRemote
)

// KeyMaterial holds the four key slots of a data channel key: the local
// and remote cipher and HMAC keys. AEAD suites use the first bytes of the
// HMAC slots as the implicit part of the nonce.
type KeyMaterial struct {
	slots [4]*securebuf.Buffer
}

// NewKeyMaterial splits a 256-byte key expansion into a [KeyMaterial]. The
// input is wiped.
func NewKeyMaterial(expansion []byte) (*KeyMaterial, error) {
	if len(expansion) != keyExpansionSize {
		return nil, fmt.Errorf("%w: key expansion with %d bytes", ErrBadKeyMaterial, len(expansion))
	}
	km := &KeyMaterial{}
	for i := range km.slots {
		km.slots[i] = securebuf.New(KeySlotSize)
		copy(km.slots[i].Bytes(), expansion[i*KeySlotSize:])
	}
	securebuf.Wipe(expansion)
	return km, nil
}

// DeriveKeyMaterial expands the client and server key sources into the key
// material of the client. The peer (server) obtains its own view with
// [KeyMaterial.Inverse].
func DeriveKeyMaterial(local, remote *KeySource, localSID, remoteSID model.SessionID) (*KeyMaterial, error) {
	if local == nil || remote == nil || local.buf.IsDestroyed() || remote.buf.IsDestroyed() {
		return nil, fmt.Errorf("%w: missing key source", ErrBadKeyMaterial)
	}
	master := securebuf.New(masterSecretSize)
	defer master.Destroy()
	prf(master.Bytes(), local.preMaster(), labelMasterSecret, local.r1(), remote.r1(), nil, nil)

	expansion := securebuf.New(keyExpansionSize)
	defer expansion.Destroy()
	prf(expansion.Bytes(), master.Bytes(), labelKeyExpansion, local.r2(), remote.r2(), localSID[:], remoteSID[:])

	return NewKeyMaterial(expansion.Bytes())
}

// Inverse returns a copy of the key material with the local and remote
// slots swapped: the key material of the peer.
func (km *KeyMaterial) Inverse() *KeyMaterial {
	order := [4]int{slotCipherRemote, slotHMACRemote, slotCipherLocal, slotHMACLocal}
	inv := &KeyMaterial{}
	for i, j := range order {
		inv.slots[i] = securebuf.New(KeySlotSize)
		copy(inv.slots[i].Bytes(), km.slots[j].Bytes())
	}
	return inv
}

func (km *KeyMaterial) slot(i int) *securebuf.Buffer {
	return km.slots[i]
}

// valid returns whether all the slots are present and not destroyed.
func (km *KeyMaterial) valid() bool {
	if km == nil {
		return false
	}
	for _, s := range km.slots {
		if s == nil || s.IsDestroyed() || s.Len() != KeySlotSize {
			return false
		}
	}
	return true
}

// Destroy wipes all the slots.
func (km *KeyMaterial) Destroy() {
	if km == nil {
		return
	}
	for _, s := range km.slots {
		s.Destroy()
	}
}

// prf is the OpenVPN PRF: the TLS 1.0 PRF keyed with secret, over
// label||clientSeed||serverSeed||clientSID||serverSID.
func prf(result, secret, label, clientSeed, serverSeed, clientSID, serverSID []byte) {
	seed := make([]byte, 0, len(label)+len(clientSeed)+len(serverSeed)+len(clientSID)+len(serverSID))
	seed = append(seed, label...)
	seed = append(seed, clientSeed...)
	seed = append(seed, serverSeed...)
	seed = append(seed, clientSID...)
	seed = append(seed, serverSID...)
	prf10(result, secret, seed)
}

// Code below is adapted from crypto/tls/prf.go
// Copyright 2009 The Go Authors. All rights reserved.
// SPDX-License-Identifier: BSD-3-Clause

// prf10 implements the TLS 1.0 pseudo-random function, as defined in RFC 2246,
// Section 5, over an already concatenated label||seed.
func prf10(result, secret, labelAndSeed []byte) {
	s1 := secret[0 : (len(secret)+1)/2]
	s2 := secret[len(secret)/2:]
	pHash(result, s1, labelAndSeed, md5.New)
	result2 := securebuf.New(len(result))
	defer result2.Destroy()
	pHash(result2.Bytes(), s2, labelAndSeed, sha1.New)
	for i, b := range result2.Bytes() {
		result[i] ^= b
	}
}

// pHash implements the P_hash function, as defined in RFC 4346, Section 5.
func pHash(result, secret, seed []byte, hash func() hash.Hash) {
	h := hmac.New(hash, secret)
	h.Write(seed)
	a := h.Sum(nil)
	for j := 0; j < len(result); {
		h.Reset()
		h.Write(a)
		h.Write(seed)
		j += copy(result[j:], h.Sum(nil))
		h.Reset()
		h.Write(a)
		a = h.Sum(nil)
	}
}
