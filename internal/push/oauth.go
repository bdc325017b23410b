package push

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/afterword/heartbeat/internal/retryhttp"
)

const (
	tokenEndpoint  = "https://oauth2.googleapis.com/token"
	messagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	grantType      = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = 55 * time.Minute
	refreshAfter   = 45 * time.Minute
)

// ServiceAccount is the subset of a Firebase/GCP service-account JSON
// credential this package needs to mint an OAuth2 access token.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseServiceAccount parses a Firebase service-account JSON credential.
func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("parse service account JSON: %w", err)
	}
	if sa.ProjectID == "" {
		return nil, fmt.Errorf("service account JSON is missing project_id")
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("service account JSON is missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = tokenEndpoint
	}
	return &sa, nil
}

// TokenCache holds the process-local, mutable access-token reference: a
// small struct passed explicitly, never a package-level global. It is safe
// for concurrent use.
type TokenCache struct {
	mu       sync.Mutex
	account  *ServiceAccount
	key      *rsa.PrivateKey
	client   *retryhttp.Client
	token    string
	mintedAt time.Time
}

// NewTokenCache creates a TokenCache for the given service account,
// minting nothing until the first call to Token.
func NewTokenCache(account *ServiceAccount, client *retryhttp.Client) (*TokenCache, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account private key: %w", err)
	}
	return &TokenCache{account: account, key: key, client: client}, nil
}

// Token returns a valid bearer access token, minting a new one if none is
// cached or the cached one is older than the 45-minute proactive-refresh
// threshold.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Since(c.mintedAt) < refreshAfter {
		return c.token, nil
	}
	return c.mintLocked(ctx)
}

// ForceRefresh discards the cached token and mints a new one, used after a
// 401/403 from the provider.
func (c *TokenCache) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mintLocked(ctx)
}

func (c *TokenCache) mintLocked(ctx context.Context) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.account.ClientEmail,
		Subject:   c.account.ClientEmail,
		Audience:  jwt.ClaimStrings{c.account.TokenURI},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}
	assertionClaims := struct {
		jwt.RegisteredClaims
		Scope string `json:"scope"`
	}{RegisteredClaims: claims, Scope: messagingScope}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, assertionClaims)
	signedAssertion, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign JWT assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {grantType},
		"assertion":  {signedAssertion},
	}
	body := []byte(form.Encode())

	resp, err := c.client.PostJSON(ctx, c.account.TokenURI, body, "", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", fmt.Errorf("exchange JWT assertion for access token: %w", err)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, resp.Body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access_token")
	}

	c.token = tokenResp.AccessToken
	c.mintedAt = now
	return c.token, nil
}
