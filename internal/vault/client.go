// Package vault resolves engine credentials (database, Redis, API signing key)
// from a HashiCorp Vault KV v2 secret.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"zone-position-engine/config"
)

var ErrSecretNotFound = errors.New("engine secret not found")

// EngineSecrets represents the secret data stored in Vault
type EngineSecrets struct {
	DatabasePassword string `json:"database_password"`
	RedisPassword    string `json:"redis_password"`
	JWTSecret        string `json:"jwt_secret"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        *EngineSecrets
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cacheEnabled: true,
	}, nil
}

// StoreSecrets writes the engine secrets to Vault
func (c *Client) StoreSecrets(ctx context.Context, s EngineSecrets) error {
	if !c.config.Enabled {
		// Store in local cache only (for development/testing)
		c.mu.Lock()
		c.cache = &s
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"database_password": s.DatabasePassword,
			"redis_password":    s.RedisPassword,
			"jwt_secret":        s.JWTSecret,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), secretData); err != nil {
		return fmt.Errorf("failed to store engine secrets in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache = &s
		c.mu.Unlock()
	}
	return nil
}

// GetSecrets reads the engine secrets, from cache when possible
func (c *Client) GetSecrets(ctx context.Context) (*EngineSecrets, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		cached := c.cache
		c.mu.RUnlock()
		if cached != nil {
			cp := *cached
			return &cp, nil
		}
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("%w and vault is disabled", ErrSecretNotFound)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read engine secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSecretNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	s := &EngineSecrets{
		DatabasePassword: getString(data, "database_password"),
		RedisPassword:    getString(data, "redis_password"),
		JWTSecret:        getString(data, "jwt_secret"),
	}

	if c.cacheEnabled {
		c.mu.Lock()
		cp := *s
		c.cache = &cp
		c.mu.Unlock()
	}
	return s, nil
}

// ResolveSecrets fills credentials the configuration leaves empty. Values already
// set by file or environment win. Returns the number of fields filled.
func (c *Client) ResolveSecrets(ctx context.Context, cfg *config.Config) (int, error) {
	s, err := c.GetSecrets(ctx)
	if err != nil {
		if !c.config.Enabled && errors.Is(err, ErrSecretNotFound) {
			return 0, nil
		}
		return 0, err
	}

	filled := 0
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			filled++
		}
	}
	fill(&cfg.Database.Password, s.DatabasePassword)
	fill(&cfg.Redis.Password, s.RedisPassword)
	fill(&cfg.Auth.JWTSecret, s.JWTSecret)
	return filled, nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of the engine secret
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a disabled client seeded with secrets, for tests and local runs
func NewMockClient(s *EngineSecrets) *Client {
	return &Client{
		config:       config.VaultConfig{Enabled: false},
		cache:        s,
		cacheEnabled: true,
	}
}
