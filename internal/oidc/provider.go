package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"spa-gateway/internal/config"
)

// exchangeTimeout bounds the token-exchange call to the identity provider.
// A timeout is a login failure, not a gateway failure.
const exchangeTimeout = 10 * time.Second

// Claims are the identity-token claims the gateway cares about.
type Claims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
}

// Provider wraps the identity provider's client registration: discovered
// endpoints, the OAuth2 config for the authorization-code flow, and the
// ID-token verifier. Immutable after New.
type Provider struct {
	name               string
	provider           *oidc.Provider
	oauth2Config       *oauth2.Config
	verifier           *oidc.IDTokenVerifier
	endSessionEndpoint string
	postLogoutRedirect string
}

// New discovers the issuer's metadata and builds the client registration.
// postLogoutRedirect is where the provider sends the browser after ending
// its own session; for this gateway that is always the gateway's base URL.
func New(ctx context.Context, cfg config.OIDCConfig, scopes []string, postLogoutRedirect string) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile"}
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	// The end-session endpoint is optional provider metadata; logout falls
	// back to a plain base-URL redirect without it.
	var discovered struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovered); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	return &Provider{
		name:               cfg.ProviderName,
		provider:           provider,
		oauth2Config:       oauth2Config,
		verifier:           verifier,
		endSessionEndpoint: discovered.EndSessionEndpoint,
		postLogoutRedirect: postLogoutRedirect,
	}, nil
}

// Name returns the registration name (e.g. "keycloak").
func (p *Provider) Name() string {
	return p.name
}

// GenerateState generates a random state value for the authorization request.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateVerifier generates a PKCE code verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL returns the authorization-endpoint redirect target for the
// given state and PKCE verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Authenticate exchanges the authorization code, verifies the identity
// token's signature, issuer, audience and expiry, and extracts the claims
// that become the session principal. Any failure, including a provider
// timeout, is returned as an error for the caller to surface as a failed
// login.
func (p *Provider) Authenticate(ctx context.Context, code, verifier string) (*Claims, string, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, "", fmt.Errorf("code exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, "", fmt.Errorf("id_token not found in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to verify identity token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, "", fmt.Errorf("failed to parse identity token claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, "", fmt.Errorf("identity token carries no subject")
	}
	if claims.PreferredUsername == "" {
		claims.PreferredUsername = claims.Subject
	}

	return &claims, rawIDToken, nil
}

// EndSessionURL builds the provider's logout URL with the id_token_hint and
// the post-logout redirect back to the gateway. Returns an empty string when
// the provider advertises no end-session endpoint.
func (p *Provider) EndSessionURL(idTokenHint string) string {
	if p.endSessionEndpoint == "" {
		return ""
	}

	params := url.Values{}
	params.Set("client_id", p.oauth2Config.ClientID)
	params.Set("post_logout_redirect_uri", p.postLogoutRedirect)
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}

	sep := "?"
	if strings.Contains(p.endSessionEndpoint, "?") {
		sep = "&"
	}
	return p.endSessionEndpoint + sep + params.Encode()
}

// PostLogoutRedirect returns the configured post-logout redirect target.
func (p *Provider) PostLogoutRedirect() string {
	return p.postLogoutRedirect
}
