package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/auth"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

var alice = models.Principal{ID: "alice", Permissions: []string{"ask:*"}, Scopes: []string{"production"}}

func TestAPIKeyProvider_Disabled(t *testing.T) {
	p := auth.NewAPIKeyProvider(nil)
	if p.Enabled() {
		t.Error("Expected provider to be disabled without keys")
	}
}

func TestAPIKeyProvider_ResolvesPrincipal(t *testing.T) {
	p := auth.NewAPIKeyProvider(map[string]models.Principal{"key-1": alice})

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer key-1") },
		func(r *http.Request) { r.Header.Set("X-API-Key", "key-1") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/modes", nil)
		set(req)
		id, err := p.Authenticate(context.Background(), req)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if id == nil || id.Principal.ID != "alice" {
			t.Fatalf("Expected alice, got %+v", id)
		}
		if !id.Principal.Can(models.ModeAsk, models.CapReadInfra) {
			t.Error("Expected principal permissions to be carried over")
		}
	}
}

func TestAPIKeyProvider_UnknownKey(t *testing.T) {
	p := auth.NewAPIKeyProvider(map[string]models.Principal{"key-1": alice})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "nope")
	if id, err := p.Authenticate(context.Background(), req); err == nil || id != nil {
		t.Errorf("Expected rejection, got id=%v err=%v", id, err)
	}

	// no key at all: not this provider's concern
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if id, err := p.Authenticate(context.Background(), req); err != nil || id != nil {
		t.Errorf("Expected (nil, nil), got id=%v err=%v", id, err)
	}
}

func TestAPIKeyProvider_AddRemove(t *testing.T) {
	p := auth.NewAPIKeyProvider(nil)
	p.AddKey("k", alice)
	if !p.Enabled() {
		t.Fatal("Expected provider enabled after AddKey")
	}
	p.RemoveKey("k")
	if p.Enabled() {
		t.Error("Expected provider disabled after removing the last key")
	}
}

func TestServiceAccountProvider(t *testing.T) {
	secret := []byte("s3cret")
	p := auth.NewServiceAccountProvider(string(secret))

	token, err := auth.GenerateToken(secret, "ci", []string{"plan:*"}, []string{"staging"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", nil)
	req.Header.Set("X-Service-Token", token)
	id, err := p.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Principal.ID != "svc:ci" || !id.Principal.InScope("staging") || !id.Principal.Can(models.ModePlan, models.CapEstimateCost) {
		t.Errorf("Unexpected principal %+v", id.Principal)
	}

	tampered := strings.Replace(token, token[:4], "AAAA", 1)
	req.Header.Set("X-Service-Token", tampered)
	if _, err := p.Authenticate(context.Background(), req); err == nil {
		t.Error("Expected tampered token to be rejected")
	}

	expired, _ := auth.GenerateToken(secret, "ci", nil, nil, -time.Minute)
	req.Header.Set("X-Service-Token", expired)
	if _, err := p.Authenticate(context.Background(), req); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("Expected expiry error, got %v", err)
	}
}

func TestProviderChain_Order(t *testing.T) {
	secret := "s3cret"
	chain := auth.NewProviderChain(
		auth.NewAPIKeyProvider(map[string]models.Principal{"key-1": alice}),
		auth.NewServiceAccountProvider(secret),
	)
	if got := strings.Join(chain.ListProviders(), ","); got != "apikey,service_account" {
		t.Errorf("ListProviders = %s", got)
	}

	token, _ := auth.GenerateToken([]byte(secret), "bot", nil, nil, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Service-Token", token)
	id, err := chain.Authenticate(context.Background(), req)
	if err != nil || id == nil || id.Provider != "service_account" {
		t.Errorf("Expected service account identity, got id=%v err=%v", id, err)
	}

	anon, err := chain.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || anon != nil {
		t.Errorf("Expected anonymous, got id=%v err=%v", anon, err)
	}
}
