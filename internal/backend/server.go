package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ServerManager manages the backend server processes owned by model instances.
type ServerManager struct {
	servers  map[string]*ServerProcess
	nextPort int
	mu       sync.Mutex
}

// ServerProcess represents a server running process.
type ServerProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	Port   int
}

// ServerConfig defines how to start and check a backend server.
type ServerConfig struct {
	Env          map[string]string
	Output       io.Writer
	Name         string
	BinPath      string
	HealthPath   string
	Args         []string
	Port         int
	ReadyTimeout time.Duration
}

// NewServerManager initializes a ServerManager handing out ports from basePort.
func NewServerManager(basePort int) *ServerManager {
	return &ServerManager{
		servers:  map[string]*ServerProcess{},
		nextPort: basePort,
	}
}

// NextPort reserves a port for a new server.
func (sm *ServerManager) NextPort() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	port := sm.nextPort
	sm.nextPort++
	return port
}

// BaseURL returns the URL a server on port listens on.
func BaseURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// StartServer starts a backend server and waits until its health endpoint answers.
func (sm *ServerManager) StartServer(ctx context.Context, cfg ServerConfig) error {
	key := serverKey(cfg.Name, cfg.Port)

	sm.mu.Lock()
	if _, exists := sm.servers[key]; exists {
		sm.mu.Unlock()
		return nil // Already running
	}
	sm.mu.Unlock()

	if info, err := os.Stat(cfg.BinPath); err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", cfg.BinPath)
		}
		return fmt.Errorf("failed to start %s server: %w", cfg.Name, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, cfg.BinPath, cfg.Args...)
	cmd.Stdout = cfg.Output
	cmd.Stderr = cfg.Output

	// Backends inherit the process environment plus their own variables.
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s server: %w", cfg.Name, err)
	}

	proc := &ServerProcess{cmd: cmd, cancel: cancel, done: make(chan struct{}), Port: cfg.Port}
	go func() {
		_ = cmd.Wait()
		close(proc.done)
	}()

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	timeout := cfg.ReadyTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	if err := waitForServer(ctx, BaseURL(cfg.Port)+healthPath, timeout, proc.done); err != nil {
		cancel()
		<-proc.done
		return fmt.Errorf("%s server did not become ready: %w", cfg.Name, err)
	}

	sm.mu.Lock()
	sm.servers[key] = proc
	sm.mu.Unlock()

	slog.Info("Server started", "name", cfg.Name, "port", cfg.Port)
	return nil
}

// StopServer terminates a backend server and waits for it to exit.
func (sm *ServerManager) StopServer(name string, port int) error {
	key := serverKey(name, port)

	sm.mu.Lock()
	srv, exists := sm.servers[key]
	delete(sm.servers, key)
	sm.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrServerNotRunning, key)
	}

	srv.cancel()
	<-srv.done

	slog.Info("Server stopped", "name", name, "port", port)
	return nil
}

// StopAll terminates all running servers.
func (sm *ServerManager) StopAll() {
	sm.mu.Lock()
	servers := sm.servers
	sm.servers = map[string]*ServerProcess{}
	sm.mu.Unlock()

	for _, srv := range servers {
		srv.cancel()
		<-srv.done
	}

	slog.Info("All servers stopped", "count", len(servers))
}

// Running returns the number of running servers.
func (sm *ServerManager) Running() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return len(sm.servers)
}

func serverKey(name string, port int) string {
	return fmt.Sprintf("%s-%d", name, port)
}

// waitForServer polls url until it answers 200, the process exits or the timeout elapses.
func waitForServer(ctx context.Context, url string, timeout time.Duration, exited <-chan struct{}) error {
	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("server process exited before becoming ready")
		case <-time.After(250 * time.Millisecond):
		}
	}

	return fmt.Errorf("server failed to respond at %s within %v", url, timeout)
}
