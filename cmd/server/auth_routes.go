package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nick-cummings/personal-assistant/pkg/connectors/outlook"
	"github.com/nick-cummings/personal-assistant/pkg/cryptobox"
)

// oauthStateStore tracks pending authorization flows. States are single
// use and expire after ten minutes.
type oauthStateStore struct {
	mu      sync.Mutex
	pending map[string]pendingAuth
}

type pendingAuth struct {
	connectorType string
	expires       time.Time
}

func newOAuthStateStore() *oauthStateStore {
	return &oauthStateStore{pending: make(map[string]pendingAuth)}
}

func (s *oauthStateStore) issue(connectorType string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.pending {
		if time.Now().After(p.expires) {
			delete(s.pending, key)
		}
	}
	s.pending[state] = pendingAuth{
		connectorType: connectorType,
		expires:       time.Now().Add(10 * time.Minute),
	}
	return state, nil
}

func (s *oauthStateStore) consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return "", false
	}
	delete(s.pending, state)
	if time.Now().After(p.expires) {
		return "", false
	}
	return p.connectorType, true
}

// oauthProvider describes one provider's authorization-code flow.
type oauthProvider struct {
	clientID     string
	clientSecret string
	authorizeURL string
	tokenURL     string
	scopes       string
	extraAuth    url.Values
}

// oauthProviders builds the provider table from environment configuration.
// A provider with no client ID is treated as not configured.
func oauthProviders() map[string]*oauthProvider {
	tenant := os.Getenv("OUTLOOK_TENANT_ID")
	if tenant == "" {
		tenant = "common"
	}

	return map[string]*oauthProvider{
		"outlook": {
			clientID:     os.Getenv("OUTLOOK_CLIENT_ID"),
			clientSecret: os.Getenv("OUTLOOK_CLIENT_SECRET"),
			authorizeURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenant),
			tokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
			scopes:       "offline_access User.Read Mail.ReadWrite Mail.Send Calendars.Read",
		},
		"confluence": {
			clientID:     os.Getenv("CONFLUENCE_CLIENT_ID"),
			clientSecret: os.Getenv("CONFLUENCE_CLIENT_SECRET"),
			authorizeURL: "https://auth.atlassian.com/authorize",
			tokenURL:     "https://auth.atlassian.com/oauth/token",
			scopes:       "read:confluence-content.all read:confluence-space.summary offline_access",
			extraAuth:    url.Values{"audience": {"api.atlassian.com"}, "prompt": {"consent"}},
		},
	}
}

func (api *API) registerAuthRoutes(router *gin.Engine) {
	if api.oauth == nil {
		api.oauth = oauthProviders()
	}
	router.GET("/api/auth/:type", api.beginAuth)
	router.GET("/api/auth/:type/callback", api.finishAuth)
}

func (api *API) redirectURI(c *gin.Context, connectorType string) string {
	if base := os.Getenv("ASSISTANT_PUBLIC_URL"); base != "" {
		return strings.TrimRight(base, "/") + "/api/auth/" + connectorType + "/callback"
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/auth/%s/callback", scheme, c.Request.Host, connectorType)
}

// beginAuth redirects the browser to the provider's consent screen.
func (api *API) beginAuth(c *gin.Context) {
	connectorType := c.Param("type")
	provider, ok := api.oauth[connectorType]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("no OAuth flow for connector %q", connectorType)})
		return
	}
	if provider.clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s OAuth client not configured", connectorType)})
		return
	}

	state, err := api.auth.issue(connectorType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generating state failed"})
		return
	}

	q := url.Values{}
	q.Set("client_id", provider.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", api.redirectURI(c, connectorType))
	q.Set("scope", provider.scopes)
	q.Set("state", state)
	for key, values := range provider.extraAuth {
		q.Set(key, values[0])
	}

	c.Redirect(http.StatusFound, provider.authorizeURL+"?"+q.Encode())
}

// finishAuth exchanges the authorization code for tokens and stores them
// encrypted on the connector row.
func (api *API) finishAuth(c *gin.Context) {
	connectorType := c.Param("type")
	provider, ok := api.oauth[connectorType]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("no OAuth flow for connector %q", connectorType)})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("provider returned %s: %s", errParam, c.Query("error_description"))})
		return
	}

	stateType, ok := api.auth.consume(c.Query("state"))
	if !ok || stateType != connectorType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	token, err := api.exchangeCode(c.Request.Context(), provider, code, api.redirectURI(c, connectorType))
	if err != nil {
		api.logger.WithError(err).Errorf("%s code exchange failed", connectorType)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := api.storeOAuthCredentials(c.Request.Context(), connectorType, provider, token); err != nil {
		api.logger.WithError(err).Errorf("storing %s credentials failed", connectorType)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := api.manager.Rebuild(c.Request.Context(), connectorType); err != nil {
		api.logger.WithError(err).Error("connector rebuild after OAuth")
	}

	c.Redirect(http.StatusFound, "/?connected="+url.QueryEscape(connectorType))
}

type oauthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (api *API) exchangeCode(ctx context.Context, provider *oauthProvider, code, redirectURI string) (*oauthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", provider.clientID)
	if provider.clientSecret != "" {
		form.Set("client_secret", provider.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var token oauthToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response had no access token")
	}
	return &token, nil
}

func (api *API) storeOAuthCredentials(ctx context.Context, connectorType string, provider *oauthProvider, token *oauthToken) error {
	var creds any
	switch connectorType {
	case "outlook":
		creds = outlook.Credentials{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
			ClientID:     provider.clientID,
			ClientSecret: provider.clientSecret,
			TenantID:     os.Getenv("OUTLOOK_TENANT_ID"),
		}
	case "confluence":
		baseURL := os.Getenv("CONFLUENCE_BASE_URL")
		if baseURL == "" {
			return fmt.Errorf("CONFLUENCE_BASE_URL must be set for the confluence connector")
		}
		creds = map[string]string{
			"base_url":     baseURL,
			"access_token": token.AccessToken,
		}
	default:
		return fmt.Errorf("no credential mapping for %q", connectorType)
	}

	ciphertext, nonce, err := cryptobox.Encrypt(creds, api.credKey)
	if err != nil {
		return fmt.Errorf("encrypting credentials: %w", err)
	}
	return api.store.SetConnectorCredentials(ctx, connectorType, ciphertext, nonce)
}
