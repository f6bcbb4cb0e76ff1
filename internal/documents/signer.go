package documents

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("documents: invalid or expired link")
	ErrInvalidPath  = errors.New("documents: invalid object path")
)

// Signer issues short-lived links to stored identity documents.
// A link is the public base URL plus a signed token naming one object.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

type linkClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

func NewSigner(secret, publicBaseURL string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("DOCUMENTS_SIGNING_SECRET is required")
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}, nil
}

// SignedURL returns a URL valid for ttl and its expiry.
func (s *Signer) SignedURL(objectPath string, ttl time.Duration) (string, time.Time, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("documents: ttl must be positive")
	}

	now := s.now()
	exp := now.Add(ttl)
	claims := linkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Path: clean,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign document link: %w", err)
	}
	return s.baseURL + "/documents/" + url.PathEscape(tok), exp, nil
}

// Verify returns the object path a token grants access to.
func (s *Signer) Verify(token string) (string, error) {
	var claims linkClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	clean, err := cleanPath(claims.Path)
	if err != nil {
		return "", ErrInvalidToken
	}
	return clean, nil
}

// cleanPath rejects anything that could escape the document root.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	clean := path.Clean("/" + p)[1:]
	if clean == "" {
		return "", ErrInvalidPath
	}
	return clean, nil
}
