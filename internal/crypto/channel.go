// Package crypto implements CryptoChannel (§4.C): the signed-nonce
// handshake and the AES-256-GCM envelope that carries every control-plane
// request and response above the TLS proxy.
package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace/sealskin/internal/broker"
)

// Session is an ephemeral per-client AES-256 channel (§3's CryptoSession).
type Session struct {
	ID        string
	Key       []byte
	CreatedAt time.Time
}

// Channel holds the server's signing/decryption key and the in-memory table
// of established sessions. Per §5, CryptoSessions are touched only from
// request-handling goroutines and are protected by a narrow RWMutex.
type Channel struct {
	privateKey *rsa.PrivateKey

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewChannel constructs a Channel around the server's RSA private key.
func NewChannel(privateKey *rsa.PrivateKey) *Channel {
	return &Channel{
		privateKey: privateKey,
		sessions:   make(map[string]*Session),
	}
}

// HandshakeInitiate returns a 32-byte nonce and its RSA-PSS(SHA-256,
// salt=32) signature under the server key. Stateless.
func (c *Channel) HandshakeInitiate() (nonce, signature []byte, err error) {
	nonce = make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, broker.Internal("generate nonce", err)
	}
	digest := sha256.Sum256(nonce)
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: 32,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, nil, broker.Internal("sign nonce", err)
	}
	return nonce, sig, nil
}

// HandshakeExchange RSA-OAEP/SHA-256 decrypts a client-wrapped 32-byte AES
// key, mints a session id, and stores the key.
func (c *Channel) HandshakeExchange(encryptedSessionKey []byte) (sessionID string, err error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.privateKey, encryptedSessionKey, nil)
	if err != nil {
		return "", broker.Validation("could not decrypt session key")
	}
	if len(key) != 32 {
		return "", broker.Validation("session key must be 32 bytes")
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.sessions[id] = &Session{ID: id, Key: key, CreatedAt: time.Now()}
	c.mu.Unlock()
	return id, nil
}

// Get returns the session for id, or ok=false.
func (c *Channel) Get(id string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Envelope is the {iv, ciphertext} wire format from §4.C.
type Envelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// Encrypt seals plaintext with AES-256-GCM under the session key, with a
// fresh random 12-byte nonce and no AAD.
func Encrypt(session *Session, plaintext []byte) (Envelope, error) {
	block, err := aes.NewCipher(session.Key)
	if err != nil {
		return Envelope{}, broker.Internal("create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, broker.Internal("create gcm", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, broker.Internal("generate iv", err)
	}
	ct := gcm.Seal(nil, iv, plaintext, nil)
	return Envelope{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Decrypt opens an Envelope's ciphertext under the session key. Any
// failure (bad base64, wrong key, tampered tag) surfaces as BadRequest.
func Decrypt(session *Session, env Envelope) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, broker.Validation("invalid iv encoding")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, broker.Validation("invalid ciphertext encoding")
	}
	block, err := aes.NewCipher(session.Key)
	if err != nil {
		return nil, broker.Internal("create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, broker.Internal("create gcm", err)
	}
	pt, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, broker.Validation("decryption failed")
	}
	return pt, nil
}
