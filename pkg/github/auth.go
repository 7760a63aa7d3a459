package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication constants.
const (
	maxTokenLength     = 100
	minTokenLength     = 40
	classicTokenLength = 40
	maxAppID           = 999999999
	filePermReadOnly   = 0o400
	filePermOwnerRW    = 0o600
	jwtLifetime        = 10 * time.Minute // GitHub rejects App JWTs older than 10 minutes
	jwtRefreshMargin   = time.Minute
	installTokenMargin = 5 * time.Minute
)

// generateJWT generates a JWT token for GitHub App authentication.
func generateJWT(appID string, privateKey []byte, now time.Time) (string, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return "", errors.New("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		key, ok = parsedKey.(*rsa.PrivateKey)
		if !ok {
			return "", errors.New("private key is not RSA")
		}
	}

	claims := jwt.MapClaims{
		"iat": now.Add(-30 * time.Second).Unix(), // tolerate clock drift
		"exp": now.Add(jwtLifetime).Unix(),
		"iss": appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// newAppAuthClient creates a GitHub client with App authentication.
// Requests use an installation token for cfg.Org, created lazily on first use.
func newAppAuthClient(cfg Config) (*Client, error) {
	if err := validateAppID(cfg.AppID); err != nil {
		return nil, err
	}
	if cfg.Org == "" {
		return nil, errors.New("GitHub App authentication requires an organization")
	}

	privateKey, err := loadPrivateKey([]byte(cfg.AppKey), cfg.AppKeyPath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	jwtToken, err := generateJWT(cfg.AppID, privateKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}
	slog.Info("Generated JWT for GitHub App", "component", "auth", "app_id", cfg.AppID)

	return &Client{
		token:             jwtToken,
		tokenExpiry:       now.Add(jwtLifetime - jwtRefreshMargin),
		isAppAuth:         true,
		appID:             cfg.AppID,
		privateKeyPath:    cfg.AppKeyPath,
		privateKeyContent: privateKey,
	}, nil
}

// newPersonalTokenClient creates a GitHub client with personal token authentication.
func newPersonalTokenClient(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		cmd := exec.CommandContext(ctx, "gh", "auth", "token")
		output, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("failed to get GitHub token: %w", err)
		}
		token = strings.TrimSpace(string(output))
	}

	if err := validateToken(token); err != nil {
		return nil, err
	}

	slog.Info("Using personal access token authentication", "component", "auth")
	return &Client{token: token}, nil
}

// validateAppID validates the GitHub App ID.
func validateAppID(appID string) error {
	appIDNum, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("GitHub App ID must be numeric: %w", err)
	}
	if appIDNum <= 0 || appIDNum > maxAppID {
		return errors.New("GitHub App ID out of valid range")
	}
	return nil
}

// loadPrivateKey loads the private key from content or file path.
func loadPrivateKey(privateKeyContent []byte, keyPath string) ([]byte, error) {
	var privateKey []byte
	var err error

	switch {
	case len(privateKeyContent) > 0:
		privateKey = privateKeyContent
	case keyPath != "":
		privateKey, err = readPrivateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("no private key provided (set GITHUB_APP_KEY or github.app_key_path)")
	}

	if !bytes.Contains(privateKey, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(privateKey, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}

	return privateKey, nil
}

// readPrivateKeyFile reads and validates a private key file.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("private key path must be absolute")
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, errors.New("private key path must be a file, not a directory")
	}

	perm := fileInfo.Mode().Perm()
	if perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}

	return os.ReadFile(cleanPath)
}

// validateToken validates a GitHub personal access token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no GitHub token found")
	}
	if strings.HasPrefix(token, "github_pat_") {
		return nil
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}

	validPrefixes := []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_"}
	for _, prefix := range validPrefixes {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}

	// Could be a classic token (40 hex chars)
	if len(token) != classicTokenLength {
		return errors.New("invalid token format")
	}
	for _, r := range token {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return errors.New("invalid classic token format")
		}
	}

	return nil
}

// Token returns the credential used for API requests: the personal token, or
// under App authentication the installation token for the configured org.
func (c *Client) Token(ctx context.Context) (string, error) {
	if !c.isAppAuth {
		return c.token, nil
	}
	return c.installationToken(ctx)
}

// refreshJWTIfNeeded refreshes the JWT token if it's close to expiry.
func (c *Client) refreshJWTIfNeeded() error {
	c.tokenMutex.RLock()
	needsRefresh := time.Now().After(c.tokenExpiry)
	c.tokenMutex.RUnlock()
	if !needsRefresh {
		return nil
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	// Double-check after acquiring write lock
	now := time.Now()
	if now.Before(c.tokenExpiry) {
		return nil
	}

	newToken, err := generateJWT(c.appID, c.privateKeyContent, now)
	if err != nil {
		return fmt.Errorf("failed to generate JWT for refresh: %w", err)
	}

	c.token = newToken
	c.tokenExpiry = now.Add(jwtLifetime - jwtRefreshMargin)
	slog.Info("Refreshed GitHub App JWT", "component", "auth")
	return nil
}

// installationToken returns a cached installation token, creating a new one when expired.
func (c *Client) installationToken(ctx context.Context) (string, error) {
	c.tokenMutex.RLock()
	if c.installToken != "" && time.Now().Before(c.installExpiry) {
		token := c.installToken
		c.tokenMutex.RUnlock()
		return token, nil
	}
	c.tokenMutex.RUnlock()

	if err := c.refreshJWTIfNeeded(); err != nil {
		return "", err
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	if c.installToken != "" && time.Now().Before(c.installExpiry) {
		return c.installToken, nil
	}

	installationID, err := c.lookupInstallation(ctx)
	if err != nil {
		return "", err
	}

	var tokenResp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	if err := c.jwtRequest(ctx, http.MethodPost, apiURL, http.StatusCreated, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to create installation token: %w", err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("received empty installation token")
	}

	c.installToken = tokenResp.Token
	c.installExpiry = tokenResp.ExpiresAt.Add(-installTokenMargin)
	slog.Info("Created installation access token", "component", "auth", "org", c.org, "expires_at", tokenResp.ExpiresAt.Format(time.RFC3339))
	return c.installToken, nil
}

// lookupInstallation finds the App installation for the configured organization.
// Callers must hold tokenMutex.
func (c *Client) lookupInstallation(ctx context.Context) (int, error) {
	var installation struct {
		Account struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"account"`
		ID int `json:"id"`
	}
	apiURL := fmt.Sprintf("%s/orgs/%s/installation", c.baseURL, c.org)
	if err := c.jwtRequest(ctx, http.MethodGet, apiURL, http.StatusOK, &installation); err != nil {
		return 0, fmt.Errorf("no installation found for organization %s (is the app installed?): %w", c.org, err)
	}
	slog.Info("Found App installation", "component", "auth", "org", installation.Account.Login, "installation_id", installation.ID)
	return installation.ID, nil
}

// jwtRequest issues a request authenticated with the App JWT. Callers must hold tokenMutex.
func (c *Client) jwtRequest(ctx context.Context, method, apiURL string, want int, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, apiURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != want {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
		if err != nil {
			return fmt.Errorf("status %d (could not read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
