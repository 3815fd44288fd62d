package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"streamq/config"
	"streamq/logger"
	"streamq/queue"
	"streamq/queue/stream"

	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"
)

// sharedStore keeps the in-memory store alive across commands.
type sharedStore struct {
	*stream.MemoryStore
}

func (sharedStore) Close() error { return nil }

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, store *stream.MemoryStore) *app {
	t.Helper()

	os.Clearenv()
	t.Cleanup(os.Clearenv)
	os.Setenv("STORE_BACKEND", "memory")

	return &app{
		logOutput: io.Discard,
		openStore: func(*config.Config) (stream.Store, error) {
			return sharedStore{store}, nil
		},
	}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand(a)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr bool
	}{
		{"single", []string{"type=print"}, map[string]string{"type": "print"}, false},
		{"value with equals", []string{"q=a=b"}, map[string]string{"q": "a=b"}, false},
		{"empty value", []string{"note="}, map[string]string{"note": ""}, false},
		{"missing separator", []string{"print"}, nil, true},
		{"empty key", []string{"=x"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.args)
			if tt.wantErr {
				assert.Assert(t, err != nil)
				return
			}
			assert.NilError(t, err)
			assert.DeepEqual(t, tt.want, got)
		})
	}
}

func TestCommands_AddInfoTrimClaim(t *testing.T) {
	store := stream.NewMemoryStore()
	a := newTestApp(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := run(t, a, "add", "--stream", "jobs", "type=print", "message=hello")
		require.NoError(t, err)

		var added map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &added))
		assert.Equal(t, "jobs", added["stream"])
		assert.Assert(t, added["id"] != "")
	}

	_, err := store.EnsureGroup(ctx, "jobs", "executor", false)
	require.NoError(t, err)
	_, err = store.ReadGroup(ctx, "jobs", "executor", "worker-1", 10)
	require.NoError(t, err)

	out, err := run(t, a, "info", "jobs", "--group", "executor")
	require.NoError(t, err)
	var info queue.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, int64(3), info.Length)
	assert.Equal(t, int64(3), info.PerConsumerPending["worker-1"])

	out, err = run(t, a, "claim", "jobs", "--consumer", "worker-2", "--idle", "0s")
	require.NoError(t, err)
	var claimed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &claimed))
	assert.Equal(t, float64(3), claimed["claimed"])
	assert.Equal(t, "executor", claimed["group"])

	out, err = run(t, a, "trim", "jobs", "--max-len", "1")
	require.NoError(t, err)
	var trimmed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &trimmed))
	assert.Equal(t, float64(2), trimmed["trimmed"])
}

func TestCommands_DefaultStreamFromConfig(t *testing.T) {
	store := stream.NewMemoryStore()
	a := newTestApp(t, store)
	os.Setenv("STREAM_KEY", "chats")

	_, err := run(t, a, "add", "chatId=1")
	require.NoError(t, err)

	n, err := store.Length(context.Background(), "chats")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCommands_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"add without fields", []string{"add"}},
		{"add bad field", []string{"add", "oops"}},
		{"info unknown group", []string{"info", "jobs", "--group", "nobody"}},
		{"trim without max-len", []string{"trim", "jobs"}},
		{"trim negative", []string{"trim", "jobs", "--max-len", "-1"}},
		{"claim without consumer", []string{"claim", "jobs"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t, stream.NewMemoryStore())
			_, err := run(t, a, tt.args...)
			assert.Assert(t, err != nil)
		})
	}
}

func TestCommands_InvalidConfig(t *testing.T) {
	a := newTestApp(t, stream.NewMemoryStore())
	os.Setenv("BATCH_SIZE", "0")

	_, err := run(t, a, "info", "jobs")
	assert.ErrorContains(t, err, "invalid config")
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(&config.Config{StoreBackend: config.BackendMemory})
	assert.NilError(t, err)
	_, ok := store.(*stream.MemoryStore)
	assert.Assert(t, ok)

	store, err = openStore(&config.Config{StoreBackend: config.BackendRedis, RedisURL: "redis://localhost:6379/0"})
	assert.NilError(t, err)
	_, ok = store.(*stream.RedisStore)
	assert.Assert(t, ok)
	assert.NilError(t, store.Close())

	_, err = openStore(&config.Config{StoreBackend: config.BackendRedis, RedisURL: "not a url"})
	assert.Assert(t, err != nil)

	_, err = openStore(&config.Config{StoreBackend: "kafka"})
	assert.Assert(t, err != nil)
}

func TestListenOptions(t *testing.T) {
	cfg := &config.Config{
		BatchSize:             7,
		Concurrency:           2,
		MaxRetries:            4,
		PollDelay:             time.Millisecond,
		ClaimIdleThreshold:    time.Minute,
		ReclaimInterval:       5 * time.Second,
		ConnectTimeout:        3 * time.Second,
		CreateStreamIfMissing: false,
		ClaimPendingOnStartup: true,
	}

	opts := listenOptions(cfg)
	defaults := queue.DefaultListenOptions()

	assert.Equal(t, 7, opts.BatchSize)
	assert.Equal(t, 2, opts.Concurrency)
	assert.Equal(t, 4, opts.MaxRetries)
	assert.Equal(t, time.Millisecond, opts.PollDelay)
	assert.Equal(t, time.Minute, opts.ClaimIdleThreshold)
	assert.Equal(t, 5*time.Second, opts.ReclaimInterval)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.Equal(t, false, opts.CreateStreamIfMissing)
	assert.Equal(t, true, opts.ClaimPendingOnStartup)
	assert.Equal(t, defaults.OperationTimeout, opts.OperationTimeout)
	assert.Equal(t, defaults.GroupCreateAttempts, opts.GroupCreateAttempts)
}

func TestCreateHandlerRegistry(t *testing.T) {
	lg := logger.New("INFO", io.Discard)
	q := queue.New(stream.NewMemoryStore(), lg)

	registry, err := createHandlerRegistry(&config.Config{}, q, lg)
	require.NoError(t, err)
	assert.DeepEqual(t, []string{"print", "sleep"}, registry.GetRegisteredTypes())

	registry, err = createHandlerRegistry(&config.Config{
		SummarizerURL: "http://localhost:8000/v1",
		ResultStream:  "jobs:results",
	}, q, lg)
	require.NoError(t, err)
	assert.DeepEqual(t, []string{"print", "sleep", "summarize"}, registry.GetRegisteredTypes())
}

func TestServe_ProcessesEntriesUntilCancelled(t *testing.T) {
	store := stream.NewMemoryStore()
	a := newTestApp(t, store)
	logs := &syncBuffer{}
	a.logOutput = logs

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	os.Setenv("PORT", strconv.Itoa(port))
	os.Setenv("POLL_DELAY", "5ms")
	os.Setenv("CONSUMER_NAME", "test-worker")
	require.NoError(t, a.load(""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.serve(ctx)
	}()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Post(base+"/streams/jobs/entries", "application/json",
			bytes.NewReader([]byte(`{"type":"print","message":"from test"}`)))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "printed: from test")
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		summary, err := store.PendingSummary(context.Background(), "jobs", "executor")
		return err == nil && summary.Total == 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
