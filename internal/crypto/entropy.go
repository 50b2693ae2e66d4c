package crypto

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"

	"github.com/screa/keyspace-scanner/pkg/types"
)

// ErrEntropy means the operating system random source failed. It is never
// recoverable: callers must stop rather than continue with weaker keys.
var ErrEntropy = errors.New("entropy source failure")

// reseedAfter bounds how many keys one ChaCha20 key/nonce pair produces.
// 1<<20 keys is 32 MiB of keystream, far below the 256 GiB counter limit.
const reseedAfter = 1 << 20

// EntropySource produces uniformly random key material from a ChaCha20
// keystream seeded by crypto/rand. It is not safe for concurrent use; give
// each worker its own.
type EntropySource struct {
	seed   io.Reader
	cipher *chacha20.Cipher
	drawn  int
	zero   [types.KeyLen]byte
}

// NewEntropySource creates a source seeded from crypto/rand
func NewEntropySource() (*EntropySource, error) {
	return newEntropySource(rand.Reader)
}

func newEntropySource(seed io.Reader) (*EntropySource, error) {
	s := &EntropySource{seed: seed}
	if err := s.reseed(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate returns the next 32 bytes of key material
func (s *EntropySource) Generate() (types.KeyMaterial, error) {
	var key types.KeyMaterial
	if s.drawn >= reseedAfter {
		if err := s.reseed(); err != nil {
			return key, err
		}
	}
	s.cipher.XORKeyStream(key[:], s.zero[:])
	s.drawn++
	return key, nil
}

func (s *EntropySource) reseed() error {
	var material [chacha20.KeySize + chacha20.NonceSize]byte
	if _, err := io.ReadFull(s.seed, material[:]); err != nil {
		return errors.Wrapf(ErrEntropy, "%v", err)
	}
	c, err := chacha20.NewUnauthenticatedCipher(material[:chacha20.KeySize], material[chacha20.KeySize:])
	if err != nil {
		return errors.Wrapf(ErrEntropy, "%v", err)
	}
	s.cipher = c
	s.drawn = 0
	return nil
}
