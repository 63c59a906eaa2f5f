package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 2
	argonKeyLen  uint32 = 32
	saltLen      int    = 16
	apiKeyBytes  int    = 32
)

var ErrInvalidHash = errors.New("invalid api key hash")

// GenerateAPIKey returns a random URL-safe key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey encodes key as an argon2id PHC string.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("api key cannot be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum)), nil
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	sum     []byte
}

func parseHash(encoded string) (argonParams, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return argonParams{}, ErrInvalidHash
	}
	settings := strings.Split(parts[3], ",")
	if len(settings) != 3 {
		return argonParams{}, ErrInvalidHash
	}

	var p argonParams
	memory, err := parseParam(settings[0], "m=", 32)
	if err != nil {
		return argonParams{}, err
	}
	timeCost, err := parseParam(settings[1], "t=", 32)
	if err != nil {
		return argonParams{}, err
	}
	threads, err := parseParam(settings[2], "p=", 8)
	if err != nil {
		return argonParams{}, err
	}
	p.memory, p.time, p.threads = uint32(memory), uint32(timeCost), uint8(threads)

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argonParams{}, fmt.Errorf("%w: salt encoding", ErrInvalidHash)
	}
	if p.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.sum) == 0 {
		return argonParams{}, fmt.Errorf("%w: hash encoding", ErrInvalidHash)
	}
	return p, nil
}

func parseParam(s, prefix string, bits int) (uint64, error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("%w: parameter %s", ErrInvalidHash, s)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, prefix), 10, bits)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: parameter %s", ErrInvalidHash, s)
	}
	return v, nil
}

// VerifyAPIKey reports whether key matches the encoded argon2id hash.
func VerifyAPIKey(encoded, key string) (bool, error) {
	p, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	return p.matches(key), nil
}

func (p argonParams) matches(key string) bool {
	derived := argon2.IDKey([]byte(key), p.salt, p.time, p.memory, p.threads, uint32(len(p.sum)))
	return subtle.ConstantTimeCompare(p.sum, derived) == 1
}

// Verifier checks bearer keys against one configured hash. A key that passed
// once is remembered by its SHA-256 digest so later requests skip argon2.
type Verifier struct {
	params argonParams

	mu       sync.Mutex
	accepted [sha256.Size]byte
	warm     bool
}

func NewVerifier(encoded string) (*Verifier, error) {
	p, err := parseHash(encoded)
	if err != nil {
		return nil, err
	}
	return &Verifier{params: p}, nil
}

func (v *Verifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.Lock()
	if v.warm && subtle.ConstantTimeCompare(v.accepted[:], digest[:]) == 1 {
		v.mu.Unlock()
		return true
	}
	v.mu.Unlock()

	if !v.params.matches(key) {
		return false
	}
	v.mu.Lock()
	v.accepted, v.warm = digest, true
	v.mu.Unlock()
	return true
}
