package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIterations keeps key derivation fast in tests. Production uses
// defaultIterations.
const testIterations = 1_000

func newTestVault(t *testing.T) (Vault, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "keys", "vault.json")
	return New(path, WithIterations(testIterations)), path
}

func TestVault_EncryptDecrypt(t *testing.T) {
	t.Run("should round trip the key", func(t *testing.T) {
		v, _ := newTestVault(t)
		key := []byte("0x0123456789abcdef")

		require.NoError(t, v.Encrypt(key, "correct horse"))

		got, err := v.Decrypt("correct horse")
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})

	t.Run("should reject a wrong password without leaking plaintext", func(t *testing.T) {
		v, _ := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "right"))

		got, err := v.Decrypt("wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPassword)
		assert.Nil(t, got)
	})

	t.Run("should fail when no vault exists", func(t *testing.T) {
		v, _ := newTestVault(t)

		_, err := v.Decrypt("any")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should fail on an unparseable vault file", func(t *testing.T) {
		v, path := newTestVault(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

		_, err := v.Decrypt("any")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruptVault)
	})

	t.Run("should fail on an unsupported kdf", func(t *testing.T) {
		v, path := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "pw"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var rec map[string]any
		require.NoError(t, json.Unmarshal(data, &rec))
		rec["kdf"].(map[string]any)["algorithm"] = "scrypt"
		data, err = json.Marshal(rec)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o600))

		_, err = v.Decrypt("pw")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruptVault)
	})

	t.Run("should keep the salt stable across re-encrypts", func(t *testing.T) {
		v, path := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("first"), "pw"))
		firstSalt := readSalt(t, path)

		require.NoError(t, v.Encrypt([]byte("second"), "pw"))
		assert.Equal(t, firstSalt, readSalt(t, path))

		got, err := v.Decrypt("pw")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("should write the vault with owner-only permissions", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("file modes are not meaningful on windows")
		}

		v, path := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "pw"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		dirInfo, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
	})
}

func TestVault_Verify(t *testing.T) {
	t.Run("should confirm the right password", func(t *testing.T) {
		v, _ := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "pw"))

		ok, err := v.Verify("pw")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("should deny a wrong password without an error", func(t *testing.T) {
		v, _ := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "pw"))

		ok, err := v.Verify("nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should surface a missing vault as an error", func(t *testing.T) {
		v, _ := newTestVault(t)

		_, err := v.Verify("pw")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestVault_Rotate(t *testing.T) {
	t.Run("should re-seal under the new password with a fresh salt", func(t *testing.T) {
		v, path := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "old"))
		oldSalt := readSalt(t, path)

		require.NoError(t, v.Rotate("old", "new"))
		assert.NotEqual(t, oldSalt, readSalt(t, path))

		got, err := v.Decrypt("new")
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), got)

		_, err = v.Decrypt("old")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	})

	t.Run("should refuse to rotate with a wrong old password", func(t *testing.T) {
		v, _ := newTestVault(t)
		require.NoError(t, v.Encrypt([]byte("secret"), "old"))

		err := v.Rotate("wrong", "new")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPassword)

		got, err := v.Decrypt("old")
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), got)
	})
}

func TestVault_Exists(t *testing.T) {
	t.Run("should report presence of the vault file", func(t *testing.T) {
		v, _ := newTestVault(t)

		ok, err := v.Exists()
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, v.Encrypt([]byte("secret"), "pw"))

		ok, err = v.Exists()
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func readSalt(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec struct {
		KDF struct {
			Salt []byte `json:"salt"`
		} `json:"kdf"`
	}
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec.KDF.Salt
}
