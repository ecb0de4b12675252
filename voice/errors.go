package voice

import (
	"github.com/pkg/errors"

	"github.com/solunet/waveform/voice/crypt"
)

var (
	// ErrAlreadyConnected is returned by Connect when the guild already has
	// an established or in-flight voice connection.
	ErrAlreadyConnected = errors.New("a voice connection for this guild is already established")

	// ErrNotConnected is returned by operations on a guild that has no
	// active voice connection.
	ErrNotConnected = errors.New("no active voice connection for this guild was found")

	// ErrEncryptionModeNotSupported is returned when the voice node offers
	// no encryption mode this library implements. It is fatal to the
	// connection.
	ErrEncryptionModeNotSupported = crypt.ErrModeNotSupported

	// ErrInvalidSecretKey is returned when the session description did not
	// deliver a 32-byte key. It is fatal to the connection.
	ErrInvalidSecretKey = crypt.ErrInvalidSecretKey
)
