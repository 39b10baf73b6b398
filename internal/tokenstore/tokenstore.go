// Package tokenstore persists the OAuth2 refresh token under one of three
// nested encryption layers, per spec.md §4.8. Access tokens are never
// written to disk in any layer, and plaintext refresh tokens never touch
// disk either. Key derivation uses golang.org/x/crypto/pbkdf2 as named by
// spec.md §4.8; no suitable third-party AEAD/obfuscation helper exists in
// the pack for the obf1/legacy-obf layers, so those use stdlib
// crypto/hmac + crypto/sha256 directly.
package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

const (
	prefixAESGCM = "aesgcm:"
	prefixObf1   = "obf1:"
	prefixObf    = "obf:"

	pbkdf2Iterations = 310000
	pbkdf2KeyLen     = 32

	coalesceWindow = 3 * time.Second
)

// ErrIntegrity is returned when a MAC or GCM tag check fails on read.
var ErrIntegrity = errors.New("tokenstore: integrity check failed")

// Mode labels the encryption layer currently protecting the stored refresh
// token, for display to the user.
type Mode int

const (
	ModeNone Mode = iota
	ModeMemoryOnly
	ModeObfuscated
	ModeAESWrapped
)

func (m Mode) String() string {
	switch m {
	case ModeMemoryOnly:
		return "memory-only"
	case ModeObfuscated:
		return "obfuscated"
	case ModeAESWrapped:
		return "AES-wrapped"
	default:
		return "none"
	}
}

// Backend is the narrow byte-string persistence contract (a single row:
// the encoded refresh-token blob plus the rest of the credential fields as
// plain JSON metadata). internal/store's SQLite layer implements this.
type Backend interface {
	ReadRecord() (encodedRefreshToken string, meta []byte, found bool, err error)
	WriteRecord(encodedRefreshToken string, meta []byte) error
	Salt() ([]byte, error)
}

type metaRecord struct {
	AccessToken string    `json:"-"`
	Expiry      time.Time `json:"expiry"`
	Scope       string    `json:"scope"`
}

// Store implements oauth2mgr.CredentialStore, encrypting the refresh token
// at rest.
type Store struct {
	backend Backend

	mu             sync.Mutex
	passphrase     string
	rememberPhrase bool
	lastWrite      time.Time
	lastEncoded    string
}

// New builds a Store. If rememberPassphrase is false, SetPassphrase must be
// called again after process restart (spec.md §4.8: the passphrase then
// lives only in a process-local cache cleared on shutdown, i.e. never
// persisted by this Store).
func New(backend Backend, rememberPassphrase bool) *Store {
	return &Store{backend: backend, rememberPhrase: rememberPassphrase}
}

// SetPassphrase installs the passphrase used to apply/remove the aesgcm
// layer. Passing "" disables that layer for subsequent writes (the stored
// value remains obf1-protected).
func (s *Store) SetPassphrase(passphrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passphrase = passphrase
}

// Mode reports a display label from the current configuration: AES-wrapped
// when a passphrase is set, otherwise memory-only when rememberPassphrase is
// false, otherwise obfuscated. Without a passphrase the stored value is
// obf1-encoded in both of the latter cases.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passphrase != "" {
		return ModeAESWrapped
	}
	if !s.rememberPhrase {
		return ModeMemoryOnly
	}
	return ModeObfuscated
}

// Load reads and decrypts the stored refresh token, reassembling full
// Credentials (access token is always empty; callers must re-auth or
// refresh to obtain one).
func (s *Store) Load() (model.Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, metaBytes, found, err := s.backend.ReadRecord()
	if err != nil {
		return model.Credentials{}, false, fmt.Errorf("tokenstore: reading record: %w", err)
	}
	if !found {
		return model.Credentials{}, false, nil
	}

	salt, err := s.backend.Salt()
	if err != nil {
		return model.Credentials{}, false, fmt.Errorf("tokenstore: reading salt: %w", err)
	}

	refreshToken, rewriteAsObf1, err := s.decode(encoded, salt)
	if err != nil {
		return model.Credentials{}, false, err
	}

	var meta metaRecord
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return model.Credentials{}, false, fmt.Errorf("tokenstore: decoding metadata: %w", err)
		}
	}

	if rewriteAsObf1 {
		if err := s.writeLocked(refreshToken, meta, salt); err != nil {
			return model.Credentials{}, false, fmt.Errorf("tokenstore: upgrading legacy record: %w", err)
		}
	}

	return model.Credentials{
		RefreshToken: refreshToken,
		Expiry:       meta.Expiry,
		Scope:        meta.Scope,
	}, true, nil
}

// Save persists creds' refresh token, skipping the write if only the
// access token/expiry changed within the 3-second coalescing window
// (spec.md §5).
func (s *Store) Save(creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, err := s.backend.Salt()
	if err != nil {
		return fmt.Errorf("tokenstore: reading salt: %w", err)
	}

	meta := metaRecord{Expiry: creds.Expiry, Scope: creds.Scope}

	if creds.RefreshToken == "" {
		if time.Since(s.lastWrite) < coalesceWindow {
			return nil
		}
	}

	return s.writeLocked(creds.RefreshToken, meta, salt)
}

// Clear removes the stored record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.WriteRecord("", nil)
}

func (s *Store) writeLocked(refreshToken string, meta metaRecord, salt []byte) error {
	obf1Value, err := encodeObf1(refreshToken, salt)
	if err != nil {
		return fmt.Errorf("tokenstore: encoding obf1 layer: %w", err)
	}

	encoded := obf1Value
	if s.passphrase != "" {
		encoded, err = encodeAESGCM(obf1Value, s.passphrase, salt)
		if err != nil {
			return fmt.Errorf("tokenstore: encoding aesgcm layer: %w", err)
		}
	}

	if encoded == s.lastEncoded {
		s.lastWrite = time.Now()
		return nil
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("tokenstore: encoding metadata: %w", err)
	}
	if err := s.backend.WriteRecord(encoded, metaBytes); err != nil {
		return err
	}
	s.lastEncoded = encoded
	s.lastWrite = time.Now()
	return nil
}

// decode peels whichever single outermost layer is present and returns the
// plaintext refresh token. rewriteAsObf1 is true only for a legacy obf:
// record, per spec.md §4.8's upgrade-on-read rule.
func (s *Store) decode(encoded string, salt []byte) (plaintext string, rewriteAsObf1 bool, err error) {
	switch {
	case strings.HasPrefix(encoded, prefixAESGCM):
		if s.passphrase == "" {
			return "", false, errors.New("tokenstore: aesgcm-wrapped record requires a passphrase")
		}
		inner, err := decodeAESGCM(encoded, s.passphrase, salt)
		if err != nil {
			return "", false, err
		}
		// inner is itself an obf1: (or legacy obf:) encoded value.
		plain, legacy, err := s.decode(inner, salt)
		if err != nil {
			return "", false, err
		}
		return plain, legacy, nil
	case strings.HasPrefix(encoded, prefixObf1):
		plain, err := decodeObf1(encoded, salt)
		return plain, false, err
	case strings.HasPrefix(encoded, prefixObf):
		plain, err := decodeLegacyObf(encoded, salt)
		return plain, true, err
	case encoded == "":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("tokenstore: unrecognized record prefix")
	}
}

// --- layer 1: aesgcm: ---

func encodeAESGCM(plaintext, passphrase string, salt []byte) (string, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefixAESGCM + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decodeAESGCM(encoded, passphrase string, salt []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, prefixAESGCM))
	if err != nil {
		return "", fmt.Errorf("tokenstore: malformed aesgcm payload: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrIntegrity
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return string(plain), nil
}

// --- layer 2: obf1: ---
// Layout: obf1:<base64(iv || ciphertext || mac)>. Keystream is the
// concatenation of HMAC-SHA256(key, iv || counter) blocks; key is
// HMAC-SHA256(salt, "obf1"). MAC is HMAC-SHA256(key, iv || ciphertext).

func obf1Key(salt []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte("obf1"))
	return mac.Sum(nil)
}

func encodeObf1(plaintext string, salt []byte) (string, error) {
	key := obf1Key(salt)
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	ciphertext := obfKeystreamXOR(key, iv, []byte(plaintext))

	macInput := append(append([]byte{}, iv...), ciphertext...)
	mac := hmac.New(sha256.New, key)
	mac.Write(macInput)
	tag := mac.Sum(nil)

	payload := append(append(iv, ciphertext...), tag...)
	return prefixObf1 + base64.StdEncoding.EncodeToString(payload), nil
}

func decodeObf1(encoded string, salt []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, prefixObf1))
	if err != nil {
		return "", fmt.Errorf("tokenstore: malformed obf1 payload: %w", err)
	}
	if len(raw) < 16+sha256.Size {
		return "", ErrIntegrity
	}
	iv := raw[:16]
	tag := raw[len(raw)-sha256.Size:]
	ciphertext := raw[16 : len(raw)-sha256.Size]

	key := obf1Key(salt)
	mac := hmac.New(sha256.New, key)
	mac.Write(append(append([]byte{}, iv...), ciphertext...))
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return "", ErrIntegrity
	}

	plain := obfKeystreamXOR(key, iv, ciphertext)
	return string(plain), nil
}

func obfKeystreamXOR(key, iv, data []byte) []byte {
	out := make([]byte, len(data))
	var counter uint32
	var block []byte
	for i := range data {
		if i%sha256.Size == 0 {
			mac := hmac.New(sha256.New, key)
			mac.Write(iv)
			mac.Write([]byte{byte(counter >> 24), byte(counter >> 16), byte(counter >> 8), byte(counter)})
			block = mac.Sum(nil)
			counter++
		}
		out[i] = data[i] ^ block[i%sha256.Size]
	}
	return out
}

// --- legacy layer: obf: (single-round XOR against SHA-256(salt)) ---

func decodeLegacyObf(encoded string, salt []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, prefixObf))
	if err != nil {
		return "", fmt.Errorf("tokenstore: malformed legacy obf payload: %w", err)
	}
	keystream := sha256.Sum256(salt)
	out := make([]byte, len(raw))
	for i := range raw {
		out[i] = raw[i] ^ keystream[i%len(keystream)]
	}
	return string(out), nil
}
