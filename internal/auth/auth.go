// Package auth implements the Crypto Facilities challenge-response handshake
// used to authorize private feed subscriptions.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	ErrNoCredentials = errors.New("api key and secret are required")
	ErrInvalidSecret = errors.New("api secret is not valid base64")
)

// Credentials holds the API key and base64-encoded API secret.
type Credentials struct {
	APIKey    string // Public API key sent with challenge and private requests
	APISecret string // Base64-encoded secret, never transmitted
}

// Configured reports whether both key and secret are set.
func (c Credentials) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Validate checks that the credentials can sign a challenge.
func (c Credentials) Validate() error {
	if !c.Configured() {
		return ErrNoCredentials
	}
	if _, err := base64.StdEncoding.DecodeString(c.APISecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return nil
}

// Challenge is a server-issued challenge and its signature.
type Challenge struct {
	Original string
	Signed   string
}

// SignChallenge signs a challenge with the API secret:
//
//	base64(HMAC-SHA512(base64decode(secret), SHA256(challenge)))
//
// The result depends only on its inputs.
func SignChallenge(challenge, secretB64 string) (string, error) {
	digest := sha256.Sum256([]byte(challenge))

	key, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	mac := hmac.New(sha512.New, key)
	mac.Write(digest[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Sign signs challenge with the credentials' secret.
func (c Credentials) Sign(challenge string) (Challenge, error) {
	signed, err := SignChallenge(challenge, c.APISecret)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Original: challenge, Signed: signed}, nil
}
