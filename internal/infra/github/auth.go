package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Lifetime of a signed App JWT. GitHub rejects anything beyond ten minutes.
const appJWTLifetime = 10 * time.Minute

// AppAuth signs GitHub App JWTs and exchanges them for installation access
// tokens. It implements review.TokenSource.
type AppAuth struct {
	AppID string
	Key   *rsa.PrivateKey
	API   *Client

	now func() time.Time
}

func NewAppAuth(appID, privateKeyPath string, api *Client) (*AppAuth, error) {
	if appID == "" {
		return nil, errors.New("github app id is not configured")
	}
	pemBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read app private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return &AppAuth{AppID: appID, Key: key, API: api, now: time.Now}, nil
}

// InstallationToken exchanges a freshly signed App JWT for an installation
// access token scoped to the given installation.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	signed, err := a.appJWT()
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.API.BaseURL, installationID)
	var out struct {
		Token string `json:"token"`
	}
	if err := a.API.sendJSON(ctx, http.MethodPost, signed, url, nil, &out); err != nil {
		return "", fmt.Errorf("create installation token: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("installation token response carried no token")
	}
	return out.Token, nil
}

// appJWT issues a short-lived RS256 token identifying the App. The issued-at
// claim is backdated a minute to absorb clock skew against GitHub's servers.
func (a *AppAuth) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
		Issuer:    a.AppID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.Key)
}
