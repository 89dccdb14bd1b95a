package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-position-engine/config"
)

// fakeKV serves a single KV v2 secret the way Vault does
type fakeKV struct {
	mu    sync.Mutex
	data  map[string]interface{}
	reads int
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/sys/health":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"initialized": true, "sealed": false})
	case r.URL.Path != "/v1/secret/data/zone-engine":
		http.NotFound(w, r)
	case r.Method == http.MethodGet:
		f.reads++
		if f.data == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": f.data, "metadata": map[string]interface{}{"version": 1}},
		})
	default:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.data = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": 2}})
	}
}

func newVault(t *testing.T, kv *fakeKV) *Client {
	t.Helper()
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "zone-engine",
	})
	require.NoError(t, err)
	return c
}

// ===== TEST: vault-backed secrets =====

func TestGetSecretsReadsAndCaches(t *testing.T) {
	kv := &fakeKV{data: map[string]interface{}{
		"database_password": "pg-pass",
		"redis_password":    "redis-pass",
		"jwt_secret":        "signing-key",
	}}
	c := newVault(t, kv)

	s, err := c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EngineSecrets{DatabasePassword: "pg-pass", RedisPassword: "redis-pass", JWTSecret: "signing-key"}, *s)

	_, err = c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, kv.reads)

	c.ClearCache()
	_, err = c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, kv.reads)
}

func TestGetSecretsMissing(t *testing.T) {
	c := newVault(t, &fakeKV{})
	_, err := c.GetSecrets(context.Background())
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestStoreSecretsRoundTrip(t *testing.T) {
	kv := &fakeKV{}
	c := newVault(t, kv)

	require.NoError(t, c.StoreSecrets(context.Background(), EngineSecrets{JWTSecret: "k1"}))
	assert.Equal(t, "k1", kv.data["jwt_secret"])

	c.SetCacheEnabled(false)
	s, err := c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k1", s.JWTSecret)
	assert.Equal(t, 1, kv.reads)
}

func TestHealth(t *testing.T) {
	c := newVault(t, &fakeKV{})
	assert.NoError(t, c.Health(context.Background()))
	assert.True(t, c.IsEnabled())
}

// ===== TEST: resolving configuration =====

func TestResolveSecretsKeepsExplicitValues(t *testing.T) {
	c := NewMockClient(&EngineSecrets{DatabasePassword: "from-vault", RedisPassword: "r", JWTSecret: "j"})
	cfg := config.Default()
	cfg.Database.Password = "from-env"

	n, err := c.ResolveSecrets(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "r", cfg.Redis.Password)
	assert.Equal(t, "j", cfg.Auth.JWTSecret)
}

func TestResolveSecretsDisabledWithoutCache(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())
	assert.NoError(t, c.Health(context.Background()))

	n, err := c.ResolveSecrets(context.Background(), config.Default())
	require.NoError(t, err)
	assert.Zero(t, n)
}
