// Package blockcrypt derives per-region keys and encrypts region bytes.
//
// The derivation must be reproduced bit for bit by the runtime loader from
// the same license fields and region start address; any change to byte
// order, field order or truncation breaks decryption irrecoverably.
package blockcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/blockseal/blockseal/internal/license"
)

// IVSize is the counter-mode initialization vector length.
const IVSize = 16

// Params holds the fixed cryptographic parameters shared with the runtime
// loader. Constructed once at startup and passed explicitly; the values are
// constants of the scheme, not per-run state.
type Params struct {
	// IV is the counter-mode initialization vector used for every region.
	// It is public and shared across regions; keystream uniqueness comes
	// from each region having its own derived key.
	IV [IVSize]byte

	// KeyLen is the derived key length in bytes.
	KeyLen int
}

// DefaultParams returns the parameter set the runtime loader is built
// against.
func DefaultParams() Params {
	return Params{
		IV: [IVSize]byte{
			0xC2, 0x40, 0xEC, 0xD0, 0x63, 0x63, 0x62, 0xDF,
			0xBF, 0xD3, 0xB8, 0xF2, 0x7C, 0x3B, 0x80, 0x02,
		},
		KeyLen: license.MasterKeyLen,
	}
}

// DeriveKey produces the key for the region starting at regionStart using
// HKDF-SHA256: the salt is the 8-byte little-endian region start, the input
// keying material is the license master key and the info string is the
// machine id. The output is truncated to KeyLen bytes.
func (p Params) DeriveKey(regionStart uint64, lic *license.License) ([]byte, error) {
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], regionStart)

	key := make([]byte, p.KeyLen)
	r := hkdf.New(sha256.New, lic.MasterKey[:], salt[:], lic.MachineID[:])
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key for region 0x%x: %w", regionStart, err)
	}
	return key, nil
}

// EncryptBlock encrypts one region's bytes under key using AES-CTR with the
// fixed IV. The ciphertext has the same length as the plaintext. Each key is
// used for exactly one region, so the shared IV never repeats under a key,
// and a single call covers the whole region so the counter cannot wrap at
// realistic sizes. CTR is an involution: the loader runs the same transform
// to decrypt.
func (p Params) EncryptBlock(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create region cipher: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, p.IV[:]).XORKeyStream(ciphertext, plaintext)
	return ciphertext, nil
}
