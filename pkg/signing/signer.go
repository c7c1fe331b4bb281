package signing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile"
)

const (
	// Algorithm is the JWS algorithm of every signature this package makes.
	Algorithm = "RS256"
	// SignatureType is the envelope type recorded next to each signature.
	SignatureType = "JWS"
)

// ErrContentMismatch is returned by Verify when a signature is valid but
// covers different content.
var ErrContentMismatch = errors.New("signature does not match attribute content")

// SigningError reports an attribute that could not be signed.
type SigningError struct {
	Path string
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to sign %s: %v", e.Path, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// Signer signs the attributes a publisher owns.
type Signer struct {
	key       *Key
	publisher string
}

// NewSigner creates a Signer signing as publisher.
func NewSigner(key *Key, publisher string) *Signer {
	return &Signer{key: key, publisher: publisher}
}

// Publisher returns the publisher name the signer signs as.
func (s *Signer) Publisher() string {
	return s.publisher
}

// Key returns the signing key.
func (s *Signer) Key() *Key {
	return s.key
}

// Eligible reports whether the signer is allowed to sign the attribute: it
// names this publisher and carries a value.
func (s *Signer) Eligible(l *profile.Leaf) bool {
	return l.Signature.Publisher.Name == s.publisher && l.Value != nil
}

// SignAll signs every eligible attribute of the tree in place and returns
// how many were signed. Groups are descended into, never signed.
func (s *Signer) SignAll(p *profile.Container) (int, error) {
	return s.signContainer("", p)
}

func (s *Signer) signContainer(path string, c *profile.Container) (int, error) {
	signed := 0
	for _, name := range c.Names() {
		childPath := name
		if path != "" {
			childPath = path + "." + name
		}

		switch n := c.Children[name].(type) {
		case *profile.Leaf:
			if !s.Eligible(n) {
				continue
			}
			if err := s.sign(n); err != nil {
				return signed, &SigningError{Path: childPath, Err: err}
			}
			signed++
		case *profile.Container:
			count, err := s.signContainer(childPath, n)
			signed += count
			if err != nil {
				return signed, err
			}
		}
	}
	return signed, nil
}

// SignLeaf signs a single attribute regardless of its publisher.
func (s *Signer) SignLeaf(l *profile.Leaf) error {
	return s.sign(l)
}

func (s *Signer) sign(l *profile.Leaf) error {
	// The profile format wants string values. Whether every numeric
	// attribute is really meant to be coerced is unconfirmed; this mirrors
	// what the store has accepted so far.
	l.Value = coerceNumber(l.Value)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(l.Content()))
	value, err := token.SignedString(s.key.privateKey)
	if err != nil {
		return err
	}

	l.Signature = profile.Signature{
		Publisher: profile.Publisher{
			Alg:   Algorithm,
			Typ:   SignatureType,
			Name:  s.publisher,
			Value: value,
		},
		// Reserved for a second signer
		Additional: []profile.Publisher{
			{Alg: Algorithm, Typ: SignatureType},
		},
	}
	return nil
}

// Verify checks the publisher signature of an attribute against its
// current content.
func (s *Signer) Verify(l *profile.Leaf) error {
	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithJSONNumber(),
	).ParseWithClaims(l.Signature.Publisher.Value, claims, func(*jwt.Token) (interface{}, error) {
		return s.key.Public(), nil
	})
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	signedContent, err := canonical(claims)
	if err != nil {
		return err
	}
	content, err := canonical(l.Content())
	if err != nil {
		return err
	}
	if !bytes.Equal(signedContent, content) {
		return ErrContentMismatch
	}
	return nil
}

// VerifyAll checks every attribute of the tree signed by this publisher and
// returns how many were checked.
func (s *Signer) VerifyAll(p *profile.Container) (int, error) {
	return s.verifyContainer("", p)
}

func (s *Signer) verifyContainer(path string, c *profile.Container) (int, error) {
	checked := 0
	for _, name := range c.Names() {
		childPath := name
		if path != "" {
			childPath = path + "." + name
		}

		switch n := c.Children[name].(type) {
		case *profile.Leaf:
			if n.Signature.Publisher.Name != s.publisher || n.Signature.Publisher.Value == "" {
				continue
			}
			if err := s.Verify(n); err != nil {
				return checked, &SigningError{Path: childPath, Err: err}
			}
			checked++
		case *profile.Container:
			count, err := s.verifyContainer(childPath, n)
			checked += count
			if err != nil {
				return checked, err
			}
		}
	}
	return checked, nil
}

// canonical renders v with map keys sorted at every level.
func canonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func coerceNumber(v any) any {
	switch n := v.(type) {
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	default:
		return v
	}
}
