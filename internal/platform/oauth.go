package platform

import (
	"context"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/retry"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"golang.org/x/oauth2"
)

// OAuthConfig returns the oauth2 client configuration for info.
func OAuthConfig(info Info, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       info.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  info.AuthURL,
			TokenURL: info.TokenURL,
		},
	}
}

// OAuthToken runs a token endpoint call through the transport's HTTP
// client, timeout and retry policy.
func (t *Transport) OAuthToken(ctx context.Context, fn func(ctx context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	res := retry.Do(ctx, t.policy, func(ctx context.Context) (*oauth2.Token, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		return fn(context.WithValue(ctx, oauth2.HTTPClient, t.client))
	})
	return res.Value, res.Err
}

// BundleFromToken converts an oauth2 token. A refresh response without a
// new refresh token keeps the previous one.
func BundleFromToken(tok *oauth2.Token, prev vault.TokenBundle) vault.TokenBundle {
	b := vault.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        prev.Scope,
	}
	if b.RefreshToken == "" {
		b.RefreshToken = prev.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		b.ExpiresAt = tok.Expiry.UnixMilli()
	} else if tok.ExpiresIn > 0 {
		b.ExpiresAt = vault.ExpiresAtFrom(time.Now(), tok.ExpiresIn)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		b.Scope = scope
	}
	return b
}
