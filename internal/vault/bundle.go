// Package vault seals platform token bundles at rest and scopes them to
// their data source.
package vault

import "time"

// TokenBundle is the credential set held for one data source.
type TokenBundle struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is the access token expiry in epoch milliseconds. Zero
	// means the platform issued no expiry.
	ExpiresAt int64  `json:"expiresAt"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"tokenType,omitempty"`
}

// Expiry returns ExpiresAt as a time, or the zero time when unset.
func (b TokenBundle) Expiry() time.Time {
	if b.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(b.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires before now+buffer.
// A bundle without an expiry never does.
func (b TokenBundle) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	if b.ExpiresAt == 0 {
		return false
	}
	return b.ExpiresAt < now.Add(buffer).UnixMilli()
}

// Expired reports whether the access token is past its absolute expiry.
func (b TokenBundle) Expired(now time.Time) bool {
	return b.ExpiresWithin(now, 0)
}

// HasRefreshToken reports whether a refresh-token grant is possible.
func (b TokenBundle) HasRefreshToken() bool { return b.RefreshToken != "" }

// ExpiresAtFrom converts a token lifetime in seconds to epoch millis.
func ExpiresAtFrom(now time.Time, expiresIn int64) int64 {
	if expiresIn <= 0 {
		return 0
	}
	return now.Add(time.Duration(expiresIn) * time.Second).UnixMilli()
}
