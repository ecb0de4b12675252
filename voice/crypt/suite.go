// Package crypt implements the packet encryption schemes negotiable with the
// voice node. Each scheme seals one Opus frame under the session's secret key
// with its own nonce discipline.
//
// https://discord.com/developers/docs/topics/voice-connections#transport-encryption-modes
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length of the session secret key.
const KeySize = 32

var (
	// ErrInvalidSecretKey is returned when the session key is not 32 bytes.
	ErrInvalidSecretKey = errors.New("secret key must be 32 bytes (256 bits) long")

	// ErrModeNotSupported is returned when the voice node offers no
	// encryption mode this package implements.
	ErrModeNotSupported = errors.New("no supported encryption mode was found")
)

// Negotiable mode names, as they appear in READY's modes list. Only the two
// rtpsize AEAD modes are current; the rest are deprecated but still accepted.
const (
	ModeAEADAES256GCMRTPSize         = "aead_aes256_gcm_rtpsize"
	ModeAEADXChaCha20Poly1305RTPSize = "aead_xchacha20_poly1305_rtpsize"

	// Deprecated modes.
	ModeAEADAES256GCM              = "aead_aes256_gcm"
	ModeXSalsa20Poly1305           = "xsalsa20_poly1305"
	ModeXSalsa20Poly1305Lite       = "xsalsa20_poly1305_lite"
	ModeXSalsa20Poly1305LiteRTPSize = "xsalsa20_poly1305_lite_rtpsize"
	ModeXSalsa20Poly1305Suffix     = "xsalsa20_poly1305_suffix"
)

// preferred is tried first during negotiation, in this order.
var preferred = []string{
	ModeAEADAES256GCMRTPSize,
	ModeAEADXChaCha20Poly1305RTPSize,
}

// Supported reports whether mode is implemented by this package.
func Supported(mode string) bool {
	switch mode {
	case ModeAEADAES256GCMRTPSize,
		ModeAEADXChaCha20Poly1305RTPSize,
		ModeAEADAES256GCM,
		ModeXSalsa20Poly1305,
		ModeXSalsa20Poly1305Lite,
		ModeXSalsa20Poly1305LiteRTPSize,
		ModeXSalsa20Poly1305Suffix:
		return true
	}
	return false
}

// SelectMode picks the encryption mode to use from the list the voice node
// offered, preferring the current rtpsize AEAD modes, then falling back to the
// first offered mode that is implemented.
func SelectMode(offered []string) (string, error) {
	for _, p := range preferred {
		for _, m := range offered {
			if m == p {
				return p, nil
			}
		}
	}

	for _, m := range offered {
		if Supported(m) {
			return m, nil
		}
	}

	return "", ErrModeNotSupported
}

// EncryptFunc seals one Opus frame into a full voice packet. header is the
// 12-byte RTP header; the returned packet always starts with it.
type EncryptFunc func(header, data []byte) ([]byte, error)

// Suite holds the secret key and the per-mode nonce state of one connection.
// Nonce counters are strictly monotonic for the suite's lifetime; a Suite must
// not be shared between connections.
type Suite struct {
	secret  [KeySize]byte
	aesGCM  cipher.AEAD
	xchacha cipher.AEAD

	xchachaNonce [chacha20poly1305.NonceSizeX]byte // big-endian counter
	gcmNonce     [12]byte                          // big-endian counter
	liteNonce    uint32
	liteRTPNonce uint32
}

// New creates a Suite from the session key delivered in SESSION_DESCRIPTION.
func New(secret []byte) (*Suite, error) {
	if len(secret) != KeySize {
		return nil, ErrInvalidSecretKey
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AES cipher")
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}

	xchacha, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create XChaCha20-Poly1305")
	}

	s := Suite{aesGCM: aesGCM, xchacha: xchacha}
	copy(s.secret[:], secret)

	return &s, nil
}

// Encryptor returns the sealing function for the given negotiated mode.
func (s *Suite) Encryptor(mode string) (EncryptFunc, bool) {
	switch mode {
	case ModeAEADAES256GCMRTPSize:
		return s.aeadAES256GCMRTPSize, true
	case ModeAEADXChaCha20Poly1305RTPSize:
		return s.aeadXChaCha20Poly1305RTPSize, true
	case ModeAEADAES256GCM:
		return s.aeadAES256GCM, true
	case ModeXSalsa20Poly1305:
		return s.xsalsa20Poly1305, true
	case ModeXSalsa20Poly1305Lite:
		return s.xsalsa20Poly1305Lite, true
	case ModeXSalsa20Poly1305LiteRTPSize:
		return s.xsalsa20Poly1305LiteRTPSize, true
	case ModeXSalsa20Poly1305Suffix:
		return s.xsalsa20Poly1305Suffix, true
	}
	return nil, false
}

// aeadAES256GCMRTPSize uses the RTP header itself as the nonce and as the
// associated data. Packet: header ‖ ciphertext ‖ tag.
func (s *Suite) aeadAES256GCMRTPSize(header, data []byte) ([]byte, error) {
	if len(header) < s.aesGCM.NonceSize() {
		return nil, errors.New("RTP header too short for GCM nonce")
	}

	out := make([]byte, len(header), len(header)+len(data)+s.aesGCM.Overhead())
	copy(out, header)

	return s.aesGCM.Seal(out, header[:s.aesGCM.NonceSize()], data, header), nil
}

// aeadXChaCha20Poly1305RTPSize derives the nonce from a 24-byte big-endian
// counter that is emitted with the packet. Packet: header ‖ nonce ‖
// ciphertext ‖ tag.
func (s *Suite) aeadXChaCha20Poly1305RTPSize(header, data []byte) ([]byte, error) {
	nonce := s.xchachaNonce
	incNonce(s.xchachaNonce[:])

	out := make([]byte, 0, len(header)+len(nonce)+len(data)+s.xchacha.Overhead())
	out = append(out, header...)
	out = append(out, nonce[:]...)

	return s.xchacha.Seal(out, nonce[:], data, header), nil
}

// aeadAES256GCM is the deprecated GCM layout with an explicit 12-byte counter
// nonce. Packet: header ‖ ciphertext ‖ tag ‖ nonce.
func (s *Suite) aeadAES256GCM(header, data []byte) ([]byte, error) {
	nonce := s.gcmNonce
	incNonce(s.gcmNonce[:])

	out := make([]byte, len(header), len(header)+len(data)+s.aesGCM.Overhead()+len(nonce))
	copy(out, header)

	out = s.aesGCM.Seal(out, nonce[:], data, header)
	return append(out, nonce[:]...), nil
}

// xsalsa20Poly1305 uses the header right-padded to 24 bytes as the nonce.
// Packet: header ‖ ciphertext.
func (s *Suite) xsalsa20Poly1305(header, data []byte) ([]byte, error) {
	var nonce [24]byte
	copy(nonce[:], header)

	out := make([]byte, len(header), len(header)+len(data)+secretbox.Overhead)
	copy(out, header)

	return secretbox.Seal(out, data, &nonce, &s.secret), nil
}

// xsalsa20Poly1305Lite keeps a 32-bit counter in the final 4 nonce bytes. The
// receiver regenerates it, so it is not emitted. Packet: header ‖ ciphertext.
func (s *Suite) xsalsa20Poly1305Lite(header, data []byte) ([]byte, error) {
	var nonce [24]byte
	binary.BigEndian.PutUint32(nonce[20:], s.liteNonce)
	s.liteNonce++ // wraps mod 2^32

	out := make([]byte, len(header), len(header)+len(data)+secretbox.Overhead)
	copy(out, header)

	return secretbox.Seal(out, data, &nonce, &s.secret), nil
}

// xsalsa20Poly1305LiteRTPSize keeps the 32-bit counter in the leading 4 nonce
// bytes and emits it. Packet: header ‖ ciphertext ‖ counter.
func (s *Suite) xsalsa20Poly1305LiteRTPSize(header, data []byte) ([]byte, error) {
	var nonce [24]byte
	binary.BigEndian.PutUint32(nonce[:4], s.liteRTPNonce)
	s.liteRTPNonce++ // wraps mod 2^32

	out := make([]byte, len(header), len(header)+len(data)+secretbox.Overhead+4)
	copy(out, header)

	out = secretbox.Seal(out, data, &nonce, &s.secret)
	return append(out, nonce[:4]...), nil
}

// xsalsa20Poly1305Suffix draws a fresh random nonce per packet and emits it.
// Packet: header ‖ ciphertext ‖ nonce.
func (s *Suite) xsalsa20Poly1305Suffix(header, data []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	out := make([]byte, len(header), len(header)+len(data)+secretbox.Overhead+len(nonce))
	copy(out, header)

	out = secretbox.Seal(out, data, &nonce, &s.secret)
	return append(out, nonce[:]...), nil
}

// incNonce increments a big-endian counter in place, wrapping at its width.
func incNonce(n []byte) {
	for i := len(n) - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}
