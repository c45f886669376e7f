package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/crypto/argon2"
)

// DefaultMaxPasswordBytes bounds the input fed to Argon2 when
// Config.MaxPasswordBytes is zero.
const DefaultMaxPasswordBytes = 1024

// Lower bounds accepted both in Config and in parsed hashes.
const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

const phcParamsFormat = "m=%d,t=%d,p=%d"

var (
	// ErrPasswordTooLong is returned by Argon2.Hash for inputs above the byte limit.
	ErrPasswordTooLong = errors.New("password: input exceeds maximum length")
	// ErrInvalidHash wraps every reason an encoded argon2id hash is rejected.
	ErrInvalidHash = errors.New("password: invalid argon2id hash")
)

// Config holds Argon2id parameters. Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultArgon2Config returns the RFC 9106 second recommended profile.
func DefaultArgon2Config() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) validate() error {
	var err error
	if c.Memory < minMemoryKB {
		err = multierr.Append(err, fmt.Errorf("password: argon2 memory must be >= %d KiB", minMemoryKB))
	}
	if c.Time < minTimeCost {
		err = multierr.Append(err, fmt.Errorf("password: argon2 time must be >= %d", minTimeCost))
	}
	if c.Parallelism < minParallelism {
		err = multierr.Append(err, fmt.Errorf("password: argon2 parallelism must be >= %d", minParallelism))
	}
	if c.SaltLength < minSaltLength {
		err = multierr.Append(err, fmt.Errorf("password: argon2 salt length must be >= %d", minSaltLength))
	}
	if c.KeyLength < minKeyLength {
		err = multierr.Append(err, fmt.Errorf("password: argon2 key length must be >= %d", minKeyLength))
	}
	if c.MaxPasswordBytes < 1 {
		err = multierr.Append(err, errors.New("password: max password bytes must be >= 1"))
	}
	return err
}

// Argon2 is the alternative [Hasher], producing PHC-formatted argon2id hashes:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. Argon2 is immutable after
// construction and safe for concurrent use.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher. Every out-of-range
// parameter is reported.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh-salted argon2id hash. Raw string bytes are used as
// provided, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > a.config.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	d := digest{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
	}
	d.key = d.derive(password, a.config.KeyLength)
	return d.encode(), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash
// and compares in constant time. Oversized input fails before any
// derivation work.
func (a *Argon2) Verify(password string, encodedHash string) bool {
	if password == "" || len(password) > a.config.MaxPasswordBytes {
		return false
	}
	d, err := decodeDigest(encodedHash)
	if err != nil {
		return false
	}
	computed := d.derive(password, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(computed, d.key) == 1
}

// NeedsUpgrade reports whether encodedHash was derived with weaker
// parameters than the hasher's. Unparseable hashes report false.
func (a *Argon2) NeedsUpgrade(encodedHash string) bool {
	d, err := decodeDigest(encodedHash)
	if err != nil {
		return false
	}
	return d.memory < a.config.Memory ||
		d.time < a.config.Time ||
		d.parallelism < a.config.Parallelism ||
		uint32(len(d.key)) != a.config.KeyLength
}

// digest is one decoded argon2id hash.
type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (d digest) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.parallelism, keyLen)
}

func (d digest) encode() string {
	return fmt.Sprintf("$argon2id$v=%d$"+phcParamsFormat+"$%s$%s",
		argon2.Version,
		d.memory, d.time, d.parallelism,
		base64.RawStdEncoding.EncodeToString(d.salt),
		base64.RawStdEncoding.EncodeToString(d.key),
	)
}

func invalidHash(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidHash, reason)
}

func decodeDigest(encoded string) (digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return digest{}, invalidHash("not a PHC string")
	}
	if parts[1] != "argon2id" {
		return digest{}, invalidHash("unsupported algorithm " + parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return digest{}, invalidHash("malformed version")
	}
	if version != argon2.Version {
		return digest{}, invalidHash("unsupported version")
	}

	var d digest
	if _, err := fmt.Sscanf(parts[3], phcParamsFormat, &d.memory, &d.time, &d.parallelism); err != nil {
		return digest{}, invalidHash("malformed parameters")
	}
	// Reject trailing or reordered parameters Sscanf would tolerate.
	if fmt.Sprintf(phcParamsFormat, d.memory, d.time, d.parallelism) != parts[3] {
		return digest{}, invalidHash("non-canonical parameters")
	}
	if d.memory < minMemoryKB || d.time < minTimeCost || d.parallelism < minParallelism {
		return digest{}, invalidHash("parameters below minimum")
	}

	var err error
	if d.salt, err = decodeSegment(parts[4]); err != nil || uint32(len(d.salt)) < minSaltLength {
		return digest{}, invalidHash("bad salt")
	}
	if d.key, err = decodeSegment(parts[5]); err != nil || len(d.key) == 0 {
		return digest{}, invalidHash("bad key")
	}
	return d, nil
}

// decodeSegment accepts padded or unpadded standard base64.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
