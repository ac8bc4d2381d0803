//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poputka/internal/client"
	"poputka/internal/config"
	"poputka/internal/engine"
	"poputka/internal/models"
	"poputka/internal/ws"
)

type TestServer struct {
	APIAddr string
	BaseURL string
	DBPath  string
	Cmd     *exec.Cmd
}

func getFreePort(t *testing.T) int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	require.NoError(t, err)

	l, err := net.ListenTCP("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T) *TestServer {
	apiAddr := fmt.Sprintf("localhost:%d", getFreePort(t))
	baseURL := fmt.Sprintf("http://%s", apiAddr)
	dbPath := filepath.Join(t.TempDir(), "poputka-e2e.db")

	cmd := exec.Command(serverBinPath)
	cmd.Dir = t.TempDir() // no stray .env
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("API_ADDR=%s", apiAddr),
		fmt.Sprintf("POPUTKA_DB=%s", dbPath),
		"SEED_DEMO=true",
		"LOG_LEVEL=warn",
	)

	// Redirect output to stdout/stderr for debugging if needed
	// cmd.Stdout = os.Stdout
	// cmd.Stderr = os.Stderr

	err := cmd.Start()
	require.NoError(t, err)

	// Wait for server to be ready
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", apiAddr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return true
		}
		return false
	}, 5*time.Second, 200*time.Millisecond, "Server failed to start")

	return &TestServer{
		APIAddr: apiAddr,
		BaseURL: baseURL,
		DBPath:  dbPath,
		Cmd:     cmd,
	}
}

func (s *TestServer) Stop() {
	if s.Cmd != nil && s.Cmd.Process != nil {
		_ = s.Cmd.Process.Kill()
		_ = s.Cmd.Wait()
	}
}

// Participant is one signed-in user driving an engine the way the terminal
// view does.
type Participant struct {
	Engine *engine.Engine

	mu     sync.Mutex
	events []engine.Event
}

func (p *Participant) record(ev engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *Participant) Count(kind engine.EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Contents returns the message bodies currently shown.
func (p *Participant) Contents() []string {
	var out []string
	for _, m := range p.Engine.Snapshot() {
		out = append(out, m.Content)
	}
	return out
}

func (s *TestServer) Join(t *testing.T, userID string, role models.Role, transport config.Transport) *Participant {
	t.Helper()

	c, err := client.New(client.Config{BaseURL: s.BaseURL})
	require.NoError(t, err)

	base, err := url.Parse(s.BaseURL)
	require.NoError(t, err)

	p := &Participant{}
	cfg := engine.Config{
		UserID:                userID,
		Role:                  role,
		PollInterval:          100 * time.Millisecond,
		AutoSelectFirstThread: role.DefaultAutoSelect(),
		Transport:             transport,
		Backend:               c,
		Profiles:              c,
		OnEvent:               p.record,
	}
	if transport == config.TransportStream {
		cfg.Stream = engine.FromStream(ws.NewStream(ws.StreamConfig{
			BaseURL:       base,
			RetryInterval: 100 * time.Millisecond,
		}))
	}

	p.Engine, err = engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Engine.Dispose)

	_, err = p.Engine.LoadPartners(context.Background())
	require.NoError(t, err)
	return p
}
