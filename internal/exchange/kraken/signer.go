package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Signer authenticates private REST calls with API-Key and API-Sign headers.
// API-Sign = base64(HMAC-SHA512(base64decode(secret), path + SHA256(nonce + postdata))).
type Signer struct {
	apiKey string
	secret []byte
	nonce  NonceSource
}

// NewSigner decodes the base64 API secret
func NewSigner(apiKey, secret string, nonce NonceSource) (*Signer, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("kraken secret is not valid base64: %w", err)
	}
	return &Signer{apiKey: apiKey, secret: decoded, nonce: nonce}, nil
}

// PrepareForm stamps a fresh nonce on the form before it is encoded
func (s *Signer) PrepareForm(form url.Values) {
	form.Set("nonce", strconv.FormatInt(s.nonce.Next(), 10))
}

// SignRequest signs private endpoints; public endpoints pass through unchanged
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	if !strings.Contains(req.URL.Path, "/private/") {
		return nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	nonce := form.Get("nonce")
	if nonce == "" {
		return fmt.Errorf("private request to %s has no nonce", req.URL.Path)
	}

	req.Header.Set("API-Key", s.apiKey)
	req.Header.Set("API-Sign", s.Sign(req.URL.Path, nonce, body))
	return nil
}

// Sign computes the API-Sign value for a request path, nonce and encoded body
func (s *Signer) Sign(path, nonce string, body []byte) string {
	sha := sha256.New()
	sha.Write([]byte(nonce))
	sha.Write(body)

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(sha.Sum(nil))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
