package config

import (
	"strings"
	"time"
)

// RemoteConfig configures the remote submission endpoint.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	Path    string `yaml:"path"`
	Timeout string `yaml:"timeout"`

	// OAuth2 client credentials; empty means unauthenticated.
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// GetRemoteTimeout returns the remote request timeout as a duration.
func (c *Config) GetRemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SubmitURL joins the base URL and submission path.
func (r RemoteConfig) SubmitURL() string {
	return strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(r.Path, "/")
}

// UsesOAuth returns whether client credentials are configured.
func (r RemoteConfig) UsesOAuth() bool {
	return r.ClientID != "" && r.ClientSecret != "" && r.TokenURL != ""
}
