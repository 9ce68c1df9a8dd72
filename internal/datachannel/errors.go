package datachannel

import "errors"

var (
	// ErrEntropyUnavailable means that we could not generate random bytes.
	// It is fatal: we refuse to create secrets or IVs.
	ErrEntropyUnavailable = errors.New("datachannel: entropy unavailable")

	// ErrSequenceExhausted means that the packet ID space of the current
	// key is exhausted. The session must rekey or tear down.
	ErrSequenceExhausted = errors.New("datachannel: packet id exhausted")

	// ErrAuthenticationFailed means that an incoming frame did not verify.
	// Truncated frames, wrong keys and corrupted ciphertext all fail with
	// this same error.
	ErrAuthenticationFailed = errors.New("datachannel: authentication failed")

	// ErrReplayed means that an authentic frame carried a packet ID we
	// already accepted, or one that is too old.
	ErrReplayed = errors.New("datachannel: replayed packet")

	// ErrMalformed means that we could not remove the compression framing.
	ErrMalformed = errors.New("datachannel: malformed payload")

	// ErrProvider wraps failures of the crypto provider.
	ErrProvider = errors.New("datachannel: provider error")

	// ErrBadKeyMaterial means that the key material is missing or invalid.
	ErrBadKeyMaterial = errors.New("datachannel: bad key material")
)
