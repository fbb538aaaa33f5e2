package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// ServiceAccountProvider validates HMAC-signed service tokens from the
// X-Service-Token header. CI pipelines use them to submit queries and
// approve actions without a static API key.
//
// Token format: base64(JSON payload) + "." + base64(HMAC-SHA256 signature)
// Payload: {"sub": "ci-pipeline", "perms": ["plan:*"], "scopes": ["staging"], "exp": 1234567890}
type ServiceAccountProvider struct {
	secret []byte
}

type serviceAccountPayload struct {
	Subject     string   `json:"sub"`
	Permissions []string `json:"perms"`
	Scopes      []string `json:"scopes"`
	Exp         int64    `json:"exp"`
}

// NewServiceAccountProvider creates the provider. An empty secret disables it.
func NewServiceAccountProvider(secret string) *ServiceAccountProvider {
	return &ServiceAccountProvider{secret: []byte(secret)}
}

func (p *ServiceAccountProvider) Name() string  { return "service_account" }
func (p *ServiceAccountProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate validates the service token.
// Returns (nil, nil) if no service token is present.
// Returns (nil, error) if the token is present but invalid.
func (p *ServiceAccountProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token := r.Header.Get("X-Service-Token")
	if token == "" {
		return nil, nil
	}

	payload, err := p.validateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid service account token: %w", err)
	}

	return &contracts.Identity{
		Principal: models.Principal{
			ID:          "svc:" + payload.Subject,
			DisplayName: payload.Subject,
			Permissions: payload.Permissions,
			Scopes:      payload.Scopes,
		},
		Provider:  "service_account",
		ExpiresAt: time.Unix(payload.Exp, 0),
	}, nil
}

func (p *ServiceAccountProvider) validateToken(token string) (*serviceAccountPayload, error) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return nil, fmt.Errorf("malformed token: expected payload.signature")
	}
	payloadB64, sigB64 := token[:i], token[i+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(sig, p.sign(payloadB64)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	var payload serviceAccountPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if payload.Exp == 0 {
		return nil, fmt.Errorf("token has no expiry")
	}
	if time.Now().Unix() > payload.Exp {
		return nil, fmt.Errorf("token expired")
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}
	return &payload, nil
}

func (p *ServiceAccountProvider) sign(payloadB64 string) []byte {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}

// GenerateToken creates a signed service token for subject carrying the
// given permissions and scopes.
func GenerateToken(secret []byte, subject string, permissions, scopes []string, ttl time.Duration) (string, error) {
	payloadBytes, err := json.Marshal(serviceAccountPayload{
		Subject:     subject,
		Permissions: permissions,
		Scopes:      scopes,
		Exp:         time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)
	sig := (&ServiceAccountProvider{secret: secret}).sign(payloadB64)
	return payloadB64 + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
