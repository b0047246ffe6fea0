package claimtoken

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedToken indicates the token does not have the payload.signature shape.
	ErrMalformedToken = errors.New("claimtoken: malformed token")
	// ErrInvalidSignature indicates the signature does not match the payload.
	ErrInvalidSignature = errors.New("claimtoken: invalid signature")
	// ErrMalformedPayload indicates a correctly signed payload that does not parse.
	ErrMalformedPayload = errors.New("claimtoken: malformed payload")
)

const separator = "."

var encoding = base64.RawURLEncoding

// Payload is the signed content of a claim link. It is encoded, not encrypted.
type Payload struct {
	Email       string `json:"email"`
	UserAddress string `json:"userAddress"`
	PurchaseID  string `json:"purchaseId"`
	RewardUSD   string `json:"rewardUsd"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// Codec signs and verifies claim tokens with a server-held secret.
type Codec struct {
	secret []byte
}

// New builds a Codec. The secret is copied.
func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("claimtoken: secret required")
	}
	return &Codec{secret: append([]byte(nil), secret...)}, nil
}

// Encode serializes the payload and appends its HMAC-SHA256 signature.
func (c *Codec) Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("claimtoken: encode payload: %w", err)
	}
	body := encoding.EncodeToString(raw)
	return body + separator + encoding.EncodeToString(c.sign(body)), nil
}

// Decode verifies the token signature and returns its payload.
func (c *Codec) Decode(token string) (Payload, error) {
	parts := strings.Split(token, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Payload{}, ErrMalformedToken
	}
	body, sigPart := parts[0], parts[1]
	raw, err := encoding.DecodeString(body)
	if err != nil {
		return Payload{}, ErrMalformedToken
	}
	sig, err := encoding.DecodeString(sigPart)
	if err != nil || len(sig) != sha256.Size {
		return Payload{}, ErrMalformedToken
	}
	// RawURLEncoding tolerates non-zero trailing bits; require the canonical form so a
	// token has exactly one spelling.
	if encoding.EncodeToString(raw) != body || encoding.EncodeToString(sig) != sigPart {
		return Payload{}, ErrMalformedToken
	}
	if !hmac.Equal(sig, c.sign(body)) {
		return Payload{}, ErrInvalidSignature
	}
	p, err := parsePayload(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p, nil
}

func (c *Codec) sign(body string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// wirePayload accepts rewardUsd as either a JSON string or a JSON number.
type wirePayload struct {
	Email       string          `json:"email"`
	UserAddress string          `json:"userAddress"`
	PurchaseID  string          `json:"purchaseId"`
	RewardUSD   json.RawMessage `json:"rewardUsd"`
	ExpiresAt   *json.Number    `json:"expiresAt"`
}

func parsePayload(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var w wirePayload
	if err := dec.Decode(&w); err != nil {
		return Payload{}, err
	}
	if w.ExpiresAt == nil {
		return Payload{}, errors.New("expiresAt missing")
	}
	expiresAt, err := w.ExpiresAt.Int64()
	if err != nil {
		return Payload{}, fmt.Errorf("expiresAt: %w", err)
	}
	reward, err := rewardString(w.RewardUSD)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Email:       w.Email,
		UserAddress: w.UserAddress,
		PurchaseID:  w.PurchaseID,
		RewardUSD:   reward,
		ExpiresAt:   expiresAt,
	}, nil
}

func rewardString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("rewardUsd missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("rewardUsd: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("rewardUsd: %w", err)
	}
	return n.String(), nil
}

// Hash returns the hex SHA-256 of the full token string. It identifies the token in the
// claimed-set without storing the bearer credential itself.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
