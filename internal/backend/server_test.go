package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerManager_Ports(t *testing.T) {
	sm := NewServerManager(8081)

	assert.Equal(t, 8081, sm.NextPort())
	assert.Equal(t, 8082, sm.NextPort())
	assert.Equal(t, "http://127.0.0.1:8081", BaseURL(8081))
}

func TestServerManager_StartMissingBinary(t *testing.T) {
	sm := NewServerManager(9000)

	err := sm.StartServer(context.Background(), ServerConfig{
		Name:    "llama",
		BinPath: filepath.Join(t.TempDir(), "llama-server"),
		Port:    9000,
	})
	assert.ErrorContains(t, err, "failed to start llama server")
	assert.Zero(t, sm.Running())
}

func TestServerManager_StopUnknown(t *testing.T) {
	sm := NewServerManager(9000)

	assert.ErrorIs(t, sm.StopServer("whisper", 9000), ErrServerNotRunning)
}

func TestWaitForServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.NoError(t, waitForServer(context.Background(), srv.URL+"/health", time.Second, nil))
	assert.Error(t, waitForServer(context.Background(), srv.URL+"/loading", 300*time.Millisecond, nil))

	exited := make(chan struct{})
	close(exited)
	assert.ErrorContains(t, waitForServer(context.Background(), srv.URL+"/loading", time.Second, exited), "exited")
}
