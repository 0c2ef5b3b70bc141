// Package credentials implements a disk credential cache. Its one caller is
// cmd/arbor, which adds a cached entry's Basic Auth header to the HTTP
// client of a `status --url` session; the working-copy driver (pkg/wc) does
// not read the cache. It is not an access-control mechanism — the
// filesystem backend itself enforces none (see spec.md §1 Non-goals) — it
// only spares the operator from re-entering a password on every remote
// session.
//
// Cached entries are AES-256-GCM encrypted at rest with a key derived via
// PBKDF2-HMAC-SHA256 from a passphrase, and a bcrypt hash of that
// passphrase is stored alongside so a wrong passphrase is rejected before
// an attempted decrypt.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Errors returned by the credential cache.
var (
	ErrNotFound        = errors.New("credentials: no cached entry for host")
	ErrWrongPassphrase = errors.New("credentials: passphrase does not unlock the cache")
)

const (
	pbkdf2Iterations = 600000
	keyLen           = 32
	saltLen          = 16
)

// Entry is a cached (username, password) pair for a remote repository URL.
type Entry struct {
	Host     string
	Username string
	Password string
}

// record is the on-disk representation: the password is encrypted, the
// passphrase verifier lets Get reject a wrong passphrase before decrypting.
type record struct {
	Host       string `json:"host"`
	Username   string `json:"username"`
	Salt       string `json:"salt"`       // base64
	Verifier   string `json:"verifier"`   // bcrypt hash of the passphrase
	Ciphertext string `json:"ciphertext"` // base64: nonce || AES-GCM sealed password
}

// Cache is a passphrase-unlocked, disk-backed store of repository
// credentials, one file per host under dir.
type Cache struct {
	dir        string
	passphrase []byte
}

// Open binds a Cache to dir (created if absent) and passphrase, which
// unlocks every entry written by this or a prior Cache for the same dir.
func Open(dir string, passphrase string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("credentials: creating cache dir: %w", err)
	}
	return &Cache{dir: dir, passphrase: []byte(passphrase)}, nil
}

func (c *Cache) path(host string) string {
	return filepath.Join(c.dir, host+".cred")
}

// Put encrypts and persists an Entry for host.
func (c *Cache) Put(e Entry) error {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("credentials: generating salt: %w", err)
	}

	verifier, err := bcrypt.GenerateFromPassword(c.passphrase, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("credentials: hashing passphrase: %w", err)
	}

	key := pbkdf2.Key(c.passphrase, salt, pbkdf2Iterations, keyLen, sha256.New)
	ciphertext, err := seal(key, []byte(e.Password))
	if err != nil {
		return fmt.Errorf("credentials: encrypting password: %w", err)
	}

	rec := record{
		Host:       e.Host,
		Username:   e.Username,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Verifier:   string(verifier),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credentials: marshaling entry: %w", err)
	}
	return os.WriteFile(c.path(e.Host), data, 0600)
}

// Get decrypts and returns the cached Entry for host.
func (c *Cache) Get(host string) (Entry, error) {
	data, err := os.ReadFile(c.path(host))
	if os.IsNotExist(err) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("credentials: reading cache entry: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Entry{}, fmt.Errorf("credentials: parsing cache entry: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.Verifier), c.passphrase); err != nil {
		return Entry{}, ErrWrongPassphrase
	}

	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return Entry{}, fmt.Errorf("credentials: decoding salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return Entry{}, fmt.Errorf("credentials: decoding ciphertext: %w", err)
	}

	key := pbkdf2.Key(c.passphrase, salt, pbkdf2Iterations, keyLen, sha256.New)
	password, err := open(key, ciphertext)
	if err != nil {
		return Entry{}, fmt.Errorf("credentials: decrypting password: %w", err)
	}

	return Entry{Host: rec.Host, Username: rec.Username, Password: string(password)}, nil
}

// Forget deletes any cached entry for host. Forgetting an absent entry is
// not an error.
func (c *Cache) Forget(host string) error {
	err := os.Remove(c.path(host))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func open(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("credentials: ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
