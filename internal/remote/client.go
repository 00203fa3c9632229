// Package remote submits assembled payloads to the reporting authority.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"harvestreport/internal/config"
	"harvestreport/internal/logging"
	"harvestreport/internal/types"
)

const userAgent = "harvestreport/1"

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Client posts payloads as JSON and decodes the authority's receipt.
type Client struct {
	httpClient *http.Client
	url        string
}

// New builds a client from remote settings. When client credentials are
// configured every request carries an OAuth2 bearer token.
func New(cfg config.RemoteConfig, timeout time.Duration) *Client {
	base := &http.Client{Timeout: timeout}
	hc := base
	if cfg.UsesOAuth() {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc = cc.Client(ctx)
		hc.Timeout = timeout
	}
	return &Client{httpClient: hc, url: cfg.SubmitURL()}
}

// NewWithHTTPClient builds a client over an existing http.Client.
func NewWithHTTPClient(hc *http.Client, url string) *Client {
	return &Client{httpClient: hc, url: url}
}

type receiptBody struct {
	ConfirmationNumber string          `json:"confirmationNumber"`
	ObjectID           json.RawMessage `json:"objectId"`
}

// Submit sends p and returns the receipt. Every failure is a
// *types.TransientError so the caller can queue the report for retry.
func (c *Client) Submit(ctx context.Context, p types.Payload) (types.Receipt, error) {
	timer := logging.StartTimer(logging.CategoryRemote, "Submit")
	defer timer.StopWithThreshold(5 * time.Second)

	body, err := json.Marshal(p)
	if err != nil {
		return types.Receipt{}, &types.TransientError{Op: "encode payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return types.Receipt{}, &types.TransientError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Get(logging.CategoryRemote).Warn("submit to %s failed: %v", c.url, err)
		return types.Receipt{}, &types.TransientError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		logging.Get(logging.CategoryRemote).Warn("submit rejected: %v", err)
		return types.Receipt{}, &types.TransientError{Op: "submit", Err: err}
	}

	var rb receiptBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return types.Receipt{}, &types.TransientError{Op: "decode receipt", Err: err}
	}
	if strings.TrimSpace(rb.ConfirmationNumber) == "" {
		return types.Receipt{}, &types.TransientError{Op: "decode receipt", Err: errors.New("missing confirmation number")}
	}

	receipt := types.Receipt{
		ConfirmationNumber: strings.TrimSpace(rb.ConfirmationNumber),
		ObjectID:           objectID(rb.ObjectID),
	}
	logging.Get(logging.CategoryRemote).Info("submitted report, confirmation %s", receipt.ConfirmationNumber)
	return receipt, nil
}

// objectID accepts the authority's object id as either a JSON string or number.
func objectID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.TrimSpace(string(raw))
}
