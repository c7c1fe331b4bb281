package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrNotRSA is returned for PKCS#8 keys of another algorithm.
var ErrNotRSA = errors.New("signing key is not an RSA key")

// Key is an RSA signing key. Keys are immutable once created.
type Key struct {
	privateKey  *rsa.PrivateKey
	fingerprint string
}

func newKey(pkey *rsa.PrivateKey) *Key {
	k := &Key{privateKey: pkey}
	if der, err := x509.MarshalPKIXPublicKey(&pkey.PublicKey); err == nil {
		k.fingerprint = hex.EncodeToString(sha256Digest(der))
	}
	return k
}

// NewKey parses a DER-encoded PKCS#1 private key.
func NewKey(pkeyDer []byte) (*Key, error) {
	pkey, err := x509.ParsePKCS1PrivateKey(pkeyDer)
	if err != nil {
		return nil, err
	}

	return newKey(pkey), nil
}

// ParseKey parses a PEM-encoded PKCS#1 or PKCS#8 RSA private key.
func ParseKey(pemBytes []byte) (*Key, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return NewKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pkey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSA
		}
		return newKey(pkey), nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// DecodeKey parses a base64-encoded PEM key, the form keys are configured in.
func DecodeKey(encoded string) (*Key, error) {
	compact := strings.Join(strings.Fields(encoded), "")
	pemBytes, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	return ParseKey(pemBytes)
}

// GenerateKey generates a new 2048-bit RSA key for attribute signing
func GenerateKey() (*Key, error) {
	pkey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	return newKey(pkey), nil
}

// Serialize returns the DER-encoded private key
func (k *Key) Serialize() ([]byte, error) {
	return x509.MarshalPKCS1PrivateKey(k.privateKey), nil
}

// Encoded returns the key in its configured form: base64 of the PEM.
func (k *Key) Encoded() string {
	return base64.StdEncoding.EncodeToString(k.PrivateRSAPem())
}

func sha256Digest(value []byte) []byte {
	hash := sha256.New()
	hash.Write(value)
	return hash.Sum(nil)
}

func (k *Key) PrivateRSAPem() []byte {
	return pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(k.privateKey),
		},
	)
}

func (k *Key) PublicPem() []byte {
	bytes, err := x509.MarshalPKIXPublicKey(&k.privateKey.PublicKey)
	if err != nil {
		panic(err)
	}
	return pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: bytes,
		},
	)
}

// Public returns the public half of the key.
func (k *Key) Public() *rsa.PublicKey {
	return &k.privateKey.PublicKey
}

// Fingerprint is the hex SHA-256 of the DER public key.
func (k *Key) Fingerprint() string {
	return k.fingerprint
}
