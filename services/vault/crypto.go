package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/servcy/inboxstack/internal/models"
)

// metadataCipher seals and opens the integration metadata blob with
// XChaCha20-Poly1305. The nonce is prepended to the ciphertext and the whole
// payload is base64 encoded for storage in a text column.
type metadataCipher struct {
	key []byte
}

func newMetadataCipher(base64Key string) (*metadataCipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, errors.Wrap(err, "vault encryption key is not valid base64")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("vault encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &metadataCipher{key: key}, nil
}

func (c *metadataCipher) encrypt(metadata models.JSONMap) (string, error) {
	plaintext, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to initialize cipher")
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *metadataCipher) decrypt(ciphertext string) (models.JSONMap, error) {
	if ciphertext == "" {
		return models.JSONMap{}, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "metadata ciphertext is not valid base64")
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cipher")
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("metadata ciphertext is truncated")
	}

	nonce, payload := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt metadata")
	}

	var metadata models.JSONMap
	if err := json.Unmarshal(plaintext, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metadata")
	}
	return metadata, nil
}
