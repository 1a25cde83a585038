package identity

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/backkem/trustlink/pkg/crypto"
)

// keystoreFormatVersion is the current sealed-identity format.
const keystoreFormatVersion = 1

// ScryptParams are the key-derivation work factors for a keystore.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams are the work factors used by Seal.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// blob is the on-disk JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `json:"v"`
	ID     string `json:"id"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// Seal encrypts the identity's private keys under a passphrase.
func Seal(id *Identity, passphrase string, params ScryptParams) ([]byte, error) {
	signSeed, kexPriv, err := id.secrets()
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 0, 2*KeySize)
	raw = append(raw, signSeed[:]...)
	raw = append(raw, kexPriv[:]...)
	crypto.Wipe(signSeed[:])
	crypto.Wipe(kexPriv[:])
	defer crypto.Wipe(raw)

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// Zero nonce: the salt-bound key is never reused.
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	return json.Marshal(blob{
		V:      keystoreFormatVersion,
		ID:     id.ID().String(),
		Salt:   salt[:],
		N:      params.N,
		R:      params.R,
		P:      params.P,
		Cipher: ct,
	})
}

// Open decrypts a sealed identity.
func Open(sealed []byte, passphrase string) (*Identity, error) {
	var bl blob
	if err := json.Unmarshal(sealed, &bl); err != nil {
		return nil, err
	}
	if bl.V != keystoreFormatVersion {
		return nil, ErrKeystoreVersion
	}

	key, err := scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	raw, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil || len(raw) != 2*KeySize {
		return nil, ErrWrongPassphrase
	}
	defer crypto.Wipe(raw)

	var signSeed, kexPriv [KeySize]byte
	copy(signSeed[:], raw[:KeySize])
	copy(kexPriv[:], raw[KeySize:])
	defer crypto.Wipe(signSeed[:])
	defer crypto.Wipe(kexPriv[:])

	id, err := FromSecrets(signSeed, kexPriv)
	if err != nil {
		return nil, err
	}
	if bl.ID != "" && bl.ID != id.ID().String() {
		id.Destroy()
		return nil, ErrWrongPassphrase
	}
	return id, nil
}

// SaveFile seals id and writes it to path with owner-only permissions.
func SaveFile(path string, id *Identity, passphrase string, params ScryptParams) error {
	sealed, err := Seal(id, passphrase, params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}

// LoadFile reads and opens a sealed identity from path.
func LoadFile(path, passphrase string) (*Identity, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(sealed, passphrase)
}
