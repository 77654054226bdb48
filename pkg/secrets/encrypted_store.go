package secrets

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
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000

	passphraseEnv  = "IGAUTOMATE_PASSPHRASE"
	passphraseFile = ".passphrase"
	fileVersion    = 1
)

// EncryptedFileStore keeps secrets in a single AES-GCM encrypted file.
// The key is derived with PBKDF2 from a passphrase taken from
// IGAUTOMATE_PASSPHRASE or a generated .passphrase file beside the store.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.RWMutex
}

type fileData struct {
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Version   int       `json:"version"`
	Modified  time.Time `json:"modified"`
}

type entry struct {
	Value        string    `json:"value"`
	LastModified time.Time `json:"last_modified"`
}

// NewEncryptedFileStore opens the store at path. An empty passphrase
// falls back to the environment and then the passphrase file.
func NewEncryptedFileStore(path, passphrase string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if passphrase == "" {
		var err error
		passphrase, err = loadPassphrase(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get passphrase: %w", err)
		}
	}

	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (e *EncryptedFileStore) Name() string { return "encrypted-file" }

// Path returns the location of the encrypted file
func (e *EncryptedFileStore) Path() string { return e.path }

func (e *EncryptedFileStore) Set(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries, salt, err := e.load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load existing data: %w", err)
	}
	if entries == nil {
		entries = make(map[string]entry)
	}

	entries[name] = entry{Value: value, LastModified: time.Now().UTC()}
	return e.save(entries, salt)
}

func (e *EncryptedFileStore) Get(name string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries, _, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load data: %w", err)
	}

	en, ok := entries[name]
	if !ok {
		return "", ErrNotFound
	}
	return en.Value, nil
}

func (e *EncryptedFileStore) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, salt, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load data: %w", err)
	}

	if _, ok := entries[name]; !ok {
		return ErrNotFound
	}
	delete(entries, name)

	if len(entries) == 0 {
		return os.Remove(e.path)
	}
	return e.save(entries, salt)
}

func (e *EncryptedFileStore) List() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries, _, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// load decrypts the file and returns its entries and salt
func (e *EncryptedFileStore) load() (map[string]entry, []byte, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, nil, err
	}

	var fd fileData
	if err := json.Unmarshal(content, &fd); err != nil {
		return nil, nil, fmt.Errorf("failed to parse file: %w", err)
	}
	if fd.Version != fileVersion {
		return nil, nil, fmt.Errorf("unsupported secrets file version %d", fd.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(fd.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(fd.Encrypted)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode encrypted data: %w", err)
	}

	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
	plain, err := decrypt(sealed, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt data: %w", err)
	}

	var entries map[string]entry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return entries, salt, nil
}

// save encrypts entries and atomically replaces the file. A nil salt
// generates a fresh one.
func (e *EncryptedFileStore) save(entries map[string]entry, salt []byte) error {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)

	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	sealed, err := encrypt(plain, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}

	content, err := json.MarshalIndent(fileData{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
		Version:   fileVersion,
		Modified:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal file data: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp, e.path)
}

// loadPassphrase reads the passphrase from the environment or dir,
// generating and saving one on first use
func loadPassphrase(dir string) (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)

	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
