// Package vault stores the recovery signing key encrypted at rest. The
// key is sealed with AES-256-GCM under a password-derived key
// (PBKDF2-SHA256); without the password the vault file is opaque, and
// there is no fallback path.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrInvalidPassword is returned when the password fails to
	// authenticate the ciphertext.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrCorruptVault is returned when the vault file exists but cannot
	// be parsed or fails structural validation.
	ErrCorruptVault = errors.New("corrupt vault")
	// ErrNotFound is returned when no vault file exists yet.
	ErrNotFound = errors.New("vault not found")
	// ErrWriteFailed is returned when the vault file cannot be
	// persisted.
	ErrWriteFailed = errors.New("vault write failed")
)

const (
	kdfAlgorithm    = "pbkdf2-sha256"
	cipherAlgorithm = "aes-256-gcm"

	defaultIterations = 600_000
	saltSize          = 16
	keySize           = 32

	fileMode = os.FileMode(0o600)
	dirMode  = os.FileMode(0o700)
)

type kdfParams struct {
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
}

type record struct {
	Ciphertext []byte    `json:"ciphertext"`
	KDF        kdfParams `json:"kdf"`
	Cipher     string    `json:"cipher"`
	CreatedAt  time.Time `json:"created_at"`
}

// Vault seals and opens the signing key at a fixed file path.
type Vault interface {
	// Encrypt seals key under password and persists it atomically. An
	// existing vault is overwritten, reusing its salt so the password
	// check stays stable.
	Encrypt(key []byte, password string) error

	// Decrypt opens the vault and returns the signing key. The caller
	// owns the returned slice and should zero it when done.
	Decrypt(password string) ([]byte, error)

	// Verify checks the password without exposing the key. A wrong
	// password yields (false, nil); anything else wrong with the vault
	// is an error.
	Verify(password string) (bool, error)

	// Rotate re-seals the key under a new password with a fresh salt.
	Rotate(oldPassword, newPassword string) error

	// Exists reports whether a vault file is present.
	Exists() (bool, error)
}

type vault struct {
	path       string
	iterations int
}

var _ Vault = (*vault)(nil)

// Option adjusts vault construction.
type Option func(*vault)

// WithIterations overrides the PBKDF2 iteration count. Lowering it
// below the default weakens the vault; it exists for tests.
func WithIterations(n int) Option {
	return func(v *vault) {
		if n > 0 {
			v.iterations = n
		}
	}
}

// New builds a Vault persisting to path.
func New(path string, opts ...Option) Vault {
	v := &vault{
		path:       path,
		iterations: defaultIterations,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *vault) Encrypt(key []byte, password string) error {
	salt, err := v.currentSalt()
	if err != nil {
		return err
	}
	return v.seal(key, password, salt)
}

// currentSalt returns the persisted salt when a readable vault exists,
// or a fresh random one.
func (v *vault) currentSalt() ([]byte, error) {
	rec, err := v.read()
	if err == nil && len(rec.KDF.Salt) == saltSize {
		return rec.KDF.Salt, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorruptVault) {
		return nil, err
	}
	return newSalt()
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func (v *vault) seal(key []byte, password string, salt []byte) error {
	gcm, err := newGCM(password, salt, v.iterations)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	rec := record{
		Ciphertext: gcm.Seal(nonce, nonce, key, nil),
		KDF: kdfParams{
			Algorithm:  kdfAlgorithm,
			Salt:       salt,
			Iterations: v.iterations,
		},
		Cipher:    cipherAlgorithm,
		CreatedAt: time.Now().UTC(),
	}

	return v.write(rec)
}

func (v *vault) Decrypt(password string) ([]byte, error) {
	rec, err := v.read()
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(password, rec.KDF.Salt, rec.KDF.Iterations)
	if err != nil {
		return nil, err
	}

	if len(rec.Ciphertext) <= gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCorruptVault)
	}
	nonce, sealed := rec.Ciphertext[:gcm.NonceSize()], rec.Ciphertext[gcm.NonceSize():]

	key, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return key, nil
}

func (v *vault) Verify(password string) (bool, error) {
	key, err := v.Decrypt(password)
	if err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return false, nil
		}
		return false, err
	}

	zero(key)
	return true, nil
}

func (v *vault) Rotate(oldPassword, newPassword string) error {
	key, err := v.Decrypt(oldPassword)
	if err != nil {
		return err
	}
	defer zero(key)

	salt, err := newSalt()
	if err != nil {
		return err
	}
	return v.seal(key, newPassword, salt)
}

func (v *vault) Exists() (bool, error) {
	_, err := os.Stat(v.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (v *vault) read() (record, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return record{}, ErrNotFound
		}
		return record{}, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}

	switch {
	case rec.KDF.Algorithm != kdfAlgorithm:
		return record{}, fmt.Errorf("%w: unsupported kdf %q", ErrCorruptVault, rec.KDF.Algorithm)
	case rec.Cipher != cipherAlgorithm:
		return record{}, fmt.Errorf("%w: unsupported cipher %q", ErrCorruptVault, rec.Cipher)
	case len(rec.KDF.Salt) != saltSize:
		return record{}, fmt.Errorf("%w: bad salt length %d", ErrCorruptVault, len(rec.KDF.Salt))
	case rec.KDF.Iterations <= 0:
		return record{}, fmt.Errorf("%w: bad iteration count %d", ErrCorruptVault, rec.KDF.Iterations)
	}
	return rec, nil
}

// write persists the record with a temp file and rename so a crash
// never leaves a partially written vault behind.
func (v *vault) write(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
