package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geenii/geenii-shell/internal/config"
	"github.com/geenii/geenii-shell/internal/history"
	"github.com/geenii/geenii-shell/internal/history/sqlite"
	"github.com/geenii/geenii-shell/internal/sidecar"
	"github.com/geenii/geenii-shell/pkg/client"
)

type fakeChild struct {
	pid   int
	kills atomic.Int32
	once  sync.Once
	ch    chan sidecar.Event
}

func (c *fakeChild) Kill() error {
	c.kills.Add(1)
	c.once.Do(func() {
		c.ch <- sidecar.Terminated(nil, sidecar.IntPtr(9))
		close(c.ch)
	})
	return nil
}

func (c *fakeChild) PID() int { return c.pid }

type fakeSpawner struct {
	mu    sync.Mutex
	calls atomic.Int32
	err   error
	last  *fakeChild
}

func (f *fakeSpawner) Spawn(context.Context, string) (<-chan sidecar.Event, sidecar.Child, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, nil, f.err
	}
	ch := make(chan sidecar.Event, 4)
	ch <- sidecar.Stdout([]byte("listening\n"))
	c := &fakeChild{pid: 4242, ch: ch}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return ch, c, nil
}

func (f *fakeSpawner) child() *fakeChild {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) Sweep(context.Context, string) error {
	f.calls.Add(1)
	return errors.New("exit status 1")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sidecar.GracePeriod = 0
	cfg.API.Listen = "127.0.0.1:0"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, sp *fakeSpawner, sw *fakeSweeper) *App {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(cfg, log, sidecar.WithSpawner(sp), sidecar.WithSweeper(sw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSetupStartsSidecarOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Enabled = false
	sp, sw := &fakeSpawner{}, &fakeSweeper{}
	a := newTestApp(t, cfg, sp, sw)

	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, EventSetup))
	require.NoError(t, a.Handle(ctx, EventSetup))
	require.Eventually(t, func() bool { return a.Status().Running }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, sp.calls.Load())
	assert.Empty(t, a.APIAddr())

	require.NoError(t, a.Handle(ctx, EventExitRequested))
	assert.EqualValues(t, 1, sp.child().kills.Load())
	assert.EqualValues(t, 1, sw.calls.Load())

	require.NoError(t, a.Handle(ctx, EventExit))
	assert.EqualValues(t, 1, sp.child().kills.Load(), "second shutdown must not kill again")
	assert.EqualValues(t, 2, sw.calls.Load(), "every shutdown sweeps")
	assert.True(t, a.Status().Started)
	assert.False(t, a.Status().Running)
}

func TestStartAfterExitRequestedDoesNotSpawn(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Enabled = false
	cfg.Sidecar.AutoStart = false
	sp, sw := &fakeSpawner{}, &fakeSweeper{}
	a := newTestApp(t, cfg, sp, sw)

	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, EventExitRequested))
	require.NoError(t, a.StartServer(ctx))
	assert.EqualValues(t, 0, sp.calls.Load(), "start after shutdown must not spawn")
	assert.False(t, a.Status().Running)
	assert.EqualValues(t, 1, sw.calls.Load())
}

func TestStartServerOverAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sidecar.AutoStart = false
	sp, sw := &fakeSpawner{}, &fakeSweeper{}
	a := newTestApp(t, cfg, sp, sw)
	require.NoError(t, a.Setup(context.Background()))
	require.NotEmpty(t, a.APIAddr())

	c := client.New(client.Config{BaseURL: "http://" + a.APIAddr()})
	ctx := context.Background()
	require.NoError(t, c.StartServer(ctx))
	require.NoError(t, c.StartServer(ctx))
	assert.EqualValues(t, 1, sp.calls.Load())

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Started)
	assert.True(t, st.Running)
	assert.Equal(t, 4242, st.PID)
	assert.Equal(t, "geenii-srv", st.Name)
}

func TestStartServerFailureOverAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sidecar.AutoStart = false
	sp := &fakeSpawner{err: sidecar.ErrNotFound}
	a := newTestApp(t, cfg, sp, &fakeSweeper{})
	require.NoError(t, a.Setup(context.Background()))

	c := client.New(client.Config{BaseURL: "http://" + a.APIAddr()})
	err := c.StartServer(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	// no retry: the started flag stays set
	require.NoError(t, c.StartServer(context.Background()))
	assert.EqualValues(t, 1, sp.calls.Load())
}

func TestSetupListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := testConfig(t)
	cfg.API.Listen = ln.Addr().String()
	cfg.Sidecar.AutoStart = false
	a := newTestApp(t, cfg, &fakeSpawner{}, &fakeSweeper{})
	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control api")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	sp, sw := &fakeSpawner{}, &fakeSweeper{}
	a := newTestApp(t, cfg, sp, sw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Status().Running }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.EqualValues(t, 1, sp.child().kills.Load())
	assert.EqualValues(t, 2, sw.calls.Load())
	assert.Empty(t, a.APIAddr())
}

func TestHistoryRecorded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfg := testConfig(t)
	cfg.API.Enabled = false
	cfg.History.DSN = "sqlite://" + dbPath
	sp, sw := &fakeSpawner{}, &fakeSweeper{}
	a := newTestApp(t, cfg, sp, sw)

	ctx := context.Background()
	require.NoError(t, a.StartServer(ctx))
	require.NoError(t, a.Handle(ctx, EventExit))
	require.NoError(t, a.Close())

	sink, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	for typ, want := range map[history.EventType]int{
		history.EventSpawn: 1,
		history.EventKill:  1,
		history.EventSweep: 1,
	} {
		got, err := sink.Count(ctx, typ)
		require.NoError(t, err)
		assert.Equal(t, want, got, "events of type %s", typ)
	}
}

func TestRunEventString(t *testing.T) {
	assert.Equal(t, "setup", EventSetup.String())
	assert.Equal(t, "exit_requested", EventExitRequested.String())
	assert.Equal(t, "exit", EventExit.String())
	assert.Equal(t, "RunEvent(9)", RunEvent(9).String())

	cfg := testConfig(t)
	cfg.API.Enabled = false
	a := newTestApp(t, cfg, &fakeSpawner{}, &fakeSweeper{})
	assert.Error(t, a.Handle(context.Background(), RunEvent(9)))
}
