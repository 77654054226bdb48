package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igautomate/internal/store/memory"
	"igautomate/pkg/config"
	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
	"igautomate/pkg/logger"
)

type secretMap map[string]string

func (s secretMap) Get(name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", errors.New("secret not found")
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Maintenance.HydrateAttempts = 1
	cfg.Maintenance.RetryBackoff = 0
	cfg.Store.ConnectTimeout = time.Second
	return cfg
}

func TestOpenStoreMemory(t *testing.T) {
	store, err := OpenStore(context.Background(), testConfig(), nil, logger.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &memory.Store{}, store)
}

func TestOpenStoreRedisThroughSecret(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.DSNSecret = "redis-dsn"
	secrets := secretMap{"redis-dsn": "redis://" + mr.Addr() + "/0"}

	store, err := OpenStore(context.Background(), cfg, secrets, logger.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := engagement.Key{TenantID: "t1", AccountID: "a1", UserID: "u1"}
	require.NoError(t, store.UpsertEngagement(ctx, key, time.Now(), 1))
	assert.True(t, mr.Exists("igautomate:accounts"))
}

func TestOpenStoreErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.DSNSecret = "missing"
	_, err := OpenStore(ctx, cfg, secretMap{}, logger.NewNopLogger())
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))

	cfg = testConfig()
	cfg.Store.Backend = "sqlite"
	_, err = OpenStore(ctx, cfg, nil, logger.NewNopLogger())
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))

	cfg = testConfig()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.DSN = "redis://127.0.0.1:1/0"
	_, err = OpenStore(ctx, cfg, nil, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestServeAndShutdown(t *testing.T) {
	store := memory.New()
	a, err := New(context.Background(), testConfig(), WithStore(store), WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	body := `{"tenant_id":"t1","account_id":"a1","user_id":"u1"}`
	resp, err := http.Post(base+"/v1/engagements", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(base + "/v1/accounts/t1/a1/limits")
	require.NoError(t, err)
	var limits map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&limits))
	resp.Body.Close()
	assert.Equal(t, float64(1), limits["engaged_users"])

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(raw), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// the final sync flushed the debounced engagement before the store closed
	rec, ok := store.Get(engagement.Key{TenantID: "t1", AccountID: "a1", UserID: "u1"})
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Count)
	http.DefaultClient.CloseIdleConnections()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.CallsPerUserPerHour = 0
	_, err := New(context.Background(), cfg, WithStore(memory.New()))
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "calls per user per hour")
}
