// Package outlook wraps Microsoft Graph for mail and calendar access. The
// OAuth access token comes from the auth callback flow; refresh happens
// lazily when the stored token has expired.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

const (
	defaultGraphURL = "https://graph.microsoft.com"
	defaultLoginURL = "https://login.microsoftonline.com"
)

// Credentials is the decrypted credential blob for an Outlook connector.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
}

// PersistFunc stores refreshed credentials back on the connector row.
type PersistFunc func(ctx context.Context, creds Credentials) error

// Connector calls Microsoft Graph on the user's behalf.
type Connector struct {
	mu       sync.Mutex // guards creds; held across a refresh so it runs once
	creds    Credentials
	persist  PersistFunc
	graphURL string
	loginURL string
	client   *http.Client
}

// Option adjusts the connector, used by tests to point at a local server.
type Option func(*Connector)

// WithBaseURLs overrides the Graph and login endpoints.
func WithBaseURLs(graphURL, loginURL string) Option {
	return func(c *Connector) {
		c.graphURL = graphURL
		c.loginURL = loginURL
	}
}

// New creates the Outlook connector. persist may be nil when refreshed
// tokens need not be stored.
func New(creds Credentials, persist PersistFunc, opts ...Option) (*Connector, error) {
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("outlook access token missing: connect the account first")
	}
	c := &Connector{
		creds:    creds,
		persist:  persist,
		graphURL: defaultGraphURL,
		loginURL: defaultLoginURL,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "outlook" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return c.doJSON(ctx, http.MethodGet, "/v1.0/me", nil, &out)
}

type listMailParams struct {
	Folder string `json:"folder,omitempty" jsonschema_description:"Mail folder: inbox (default), sentitems, drafts"`
	Search string `json:"search,omitempty" jsonschema_description:"Free-text search over subject and body"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Max messages, default 10"`
}

type sendMailParams struct {
	To      []string `json:"to" jsonschema_description:"Recipient email addresses"`
	Subject string   `json:"subject" jsonschema_description:"Message subject"`
	Body    string   `json:"body" jsonschema_description:"Plain text message body"`
}

type calendarParams struct {
	Start string `json:"start,omitempty" jsonschema_description:"Window start, RFC 3339; defaults to now"`
	End   string `json:"end,omitempty" jsonschema_description:"Window end, RFC 3339; defaults to 7 days from start"`
}

type mailSummary struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	From     string `json:"from,omitempty"`
	Received string `json:"received,omitempty"`
	Preview  string `json:"preview,omitempty"`
	Unread   bool   `json:"unread"`
}

type eventSummary struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
	Online   bool   `json:"online"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "outlook_list_mail",
			Description: "List recent Outlook messages, optionally filtered by folder or search text.",
			Parameters:  tools.ParamsSchema(listMailParams{}),
			Call:        c.callListMail,
		},
		{
			Name:        "outlook_send_mail",
			Description: "Send an email from the connected Outlook account.",
			Parameters:  tools.ParamsSchema(sendMailParams{}),
			Call:        c.callSendMail,
		},
		{
			Name:        "outlook_calendar",
			Description: "List Outlook calendar events in a time window (defaults to the next 7 days).",
			Parameters:  tools.ParamsSchema(calendarParams{}),
			Call:        c.callCalendar,
		},
	}
}

func (c *Connector) callListMail(ctx context.Context, args json.RawMessage) (any, error) {
	var params listMailParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	limit := params.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}
	folder := params.Folder
	if folder == "" {
		folder = "inbox"
	}

	q := url.Values{}
	q.Set("$top", fmt.Sprint(limit))
	q.Set("$select", "id,subject,from,receivedDateTime,bodyPreview,isRead")
	if params.Search != "" {
		q.Set("$search", fmt.Sprintf("%q", params.Search))
	} else {
		q.Set("$orderby", "receivedDateTime desc")
	}

	var raw struct {
		Value []struct {
			ID      string `json:"id"`
			Subject string `json:"subject"`
			From    struct {
				EmailAddress struct {
					Name    string `json:"name"`
					Address string `json:"address"`
				} `json:"emailAddress"`
			} `json:"from"`
			ReceivedDateTime string `json:"receivedDateTime"`
			BodyPreview      string `json:"bodyPreview"`
			IsRead           bool   `json:"isRead"`
		} `json:"value"`
	}
	path := "/v1.0/me/mailFolders/" + url.PathEscape(folder) + "/messages?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	messages := make([]mailSummary, 0, len(raw.Value))
	for _, m := range raw.Value {
		from := m.From.EmailAddress.Name
		if from == "" {
			from = m.From.EmailAddress.Address
		}
		messages = append(messages, mailSummary{
			ID:       m.ID,
			Subject:  m.Subject,
			From:     from,
			Received: m.ReceivedDateTime,
			Preview:  m.BodyPreview,
			Unread:   !m.IsRead,
		})
	}
	return map[string]any{"messages": messages}, nil
}

func (c *Connector) callSendMail(ctx context.Context, args json.RawMessage) (any, error) {
	var params sendMailParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if len(params.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if params.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	type recipient struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	}
	recipients := make([]recipient, 0, len(params.To))
	for _, addr := range params.To {
		var r recipient
		r.EmailAddress.Address = addr
		recipients = append(recipients, r)
	}

	payload := map[string]any{
		"message": map[string]any{
			"subject":      params.Subject,
			"body":         map[string]any{"contentType": "Text", "content": params.Body},
			"toRecipients": recipients,
		},
		"saveToSentItems": true,
	}

	if err := c.doJSON(ctx, http.MethodPost, "/v1.0/me/sendMail", payload, nil); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": params.To, "subject": params.Subject}, nil
}

func (c *Connector) callCalendar(ctx context.Context, args json.RawMessage) (any, error) {
	var params calendarParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	if params.Start != "" {
		t, err := time.Parse(time.RFC3339, params.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		start = t
	}
	end := start.Add(7 * 24 * time.Hour)
	if params.End != "" {
		t, err := time.Parse(time.RFC3339, params.End)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		end = t
	}

	q := url.Values{}
	q.Set("startDateTime", start.Format(time.RFC3339))
	q.Set("endDateTime", end.Format(time.RFC3339))
	q.Set("$orderby", "start/dateTime")
	q.Set("$select", "id,subject,start,end,location,isOnlineMeeting")

	var raw struct {
		Value []struct {
			ID      string `json:"id"`
			Subject string `json:"subject"`
			Start   struct {
				DateTime string `json:"dateTime"`
			} `json:"start"`
			End struct {
				DateTime string `json:"dateTime"`
			} `json:"end"`
			Location struct {
				DisplayName string `json:"displayName"`
			} `json:"location"`
			IsOnlineMeeting bool `json:"isOnlineMeeting"`
		} `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1.0/me/calendarView?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}

	events := make([]eventSummary, 0, len(raw.Value))
	for _, e := range raw.Value {
		events = append(events, eventSummary{
			ID:       e.ID,
			Subject:  e.Subject,
			Start:    e.Start.DateTime,
			End:      e.End.DateTime,
			Location: e.Location.DisplayName,
			Online:   e.IsOnlineMeeting,
		})
	}
	return map[string]any{"events": events}, nil
}

func (c *Connector) doJSON(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.graphURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("outlook auth failed: reconnect the account")
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// bearer returns a valid access token, refreshing it first when the stored
// one has expired and a refresh token is available. The lock is held across
// the refresh so overlapping callers exchange the refresh token once.
func (c *Connector) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creds.ExpiresAt.IsZero() || time.Now().Before(c.creds.ExpiresAt.Add(-time.Minute)) {
		return c.creds.AccessToken, nil
	}
	if c.creds.RefreshToken == "" || c.creds.ClientID == "" {
		return c.creds.AccessToken, nil
	}

	tenant := c.creds.TenantID
	if tenant == "" {
		tenant = "common"
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.creds.RefreshToken)
	form.Set("client_id", c.creds.ClientID)
	if c.creds.ClientSecret != "" {
		form.Set("client_secret", c.creds.ClientSecret)
	}

	tokenURL := c.loginURL + "/" + url.PathEscape(tenant) + "/oauth2/v2.0/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, string(data))
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	c.creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.creds.RefreshToken = token.RefreshToken
	}
	c.creds.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	if c.persist != nil {
		if err := c.persist(ctx, c.creds); err != nil {
			return "", fmt.Errorf("storing refreshed token: %w", err)
		}
	}
	return c.creds.AccessToken, nil
}
