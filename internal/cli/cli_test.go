package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "name: alice\n" +
		"data_dir: " + filepath.Join(dir, "data") + "\n" +
		"download_dir: " + filepath.Join(dir, "downloads") + "\n" +
		"retry:\n  max_attempts: 1\n  timeout: 200ms\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func startServer(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	server := transport.NewServer(transport.ServerConfig{
		Identity:    "bob",
		DownloadDir: dir,
		Logger:      logger.Discard(),
	})
	require.NoError(t, server.Listen(transport.Endpoint{Host: "127.0.0.1", Port: 0}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx, nil) }()

	_, port, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)
	return port, dir
}

func closedPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	return port
}

func TestPing_Alive(t *testing.T) {
	port, _ := startServer(t)

	out, err := execute(t, "--config", writeConfig(t), "ping", "127.0.0.1", port)
	require.NoError(t, err)
	assert.Contains(t, out, "is alive")
}

func TestPing_Unreachable(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "ping", "127.0.0.1", closedPort(t))
	assert.ErrorIs(t, err, errUnreachable)
	assert.Contains(t, out, "is unreachable")
}

func TestSend_Delivered(t *testing.T) {
	port, downloads := startServer(t)
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("meeting at noon"), 0o644))

	out, err := execute(t, "--config", writeConfig(t), "send", "127.0.0.1", port, file)
	require.NoError(t, err)
	assert.Contains(t, out, "delivered")

	got, err := os.ReadFile(filepath.Join(downloads, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "meeting at noon", string(got))
}

func TestSend_MissingFile(t *testing.T) {
	port, _ := startServer(t)

	_, err := execute(t, "--config", writeConfig(t), "send", "127.0.0.1", port, filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, peer.ErrFileAccess)
}

func TestSend_BadPort(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "send", "127.0.0.1", "http", "x")
	assert.ErrorIs(t, err, transport.ErrInvalidEndpoint)
}

func TestProgressHandler(t *testing.T) {
	var out bytes.Buffer
	h := newProgressHandler(&out)
	info := transport.TransferInfo{Name: "video.mp4", Size: 100, Sender: "bob", RemoteAddr: "10.0.0.3:5000"}

	h.OnTransferStart(info)
	assert.Equal(t, 1, h.active())

	h.OnProgress(info, 50)
	assert.Equal(t, 1, h.active())

	h.OnProgress(info, 100)
	assert.Zero(t, h.active())
	assert.Contains(t, out.String(), "video.mp4 from bob")
}

func TestProgressHandler_EmptyFile(t *testing.T) {
	var out bytes.Buffer
	h := newProgressHandler(&out)

	h.OnTransferStart(transport.TransferInfo{Name: "empty.txt", Sender: "bob"})
	assert.Zero(t, h.active())
	assert.Contains(t, out.String(), "empty.txt from bob (empty)")
}

func TestWriteDeliveries(t *testing.T) {
	var out bytes.Buffer
	err := writeDeliveries(&out, []db.Delivery{{
		ID:        "0123456789abcdef",
		Host:      "10.0.0.2",
		Port:      9000,
		Path:      "/home/alice/report.pdf",
		Status:    db.StatusPolling,
		Attempts:  2,
		UpdatedAt: time.Now(),
	}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "01234567")
	assert.Contains(t, lines[1], "polling")
	assert.Contains(t, lines[1], "10.0.0.2:9000")
	assert.Contains(t, lines[1], "report.pdf")
}

type fakeSpawner struct {
	requests []peer.DeferredRequest
	err      error
}

func (s *fakeSpawner) Spawn(_ context.Context, req peer.DeferredRequest) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.requests = append(s.requests, req)
	return 5000 + len(s.requests), nil
}

func TestResumeDeliveries(t *testing.T) {
	log = logger.Discard()
	gdb, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	ctx := context.Background()
	deliveries := store.NewDeliveryStore(gdb)
	ep := transport.Endpoint{Host: "10.0.0.2", Port: 9000}

	running, err := deliveries.RecordDeferred(ctx, ep, "/a.txt", "alice")
	require.NoError(t, err)
	require.NoError(t, deliveries.SetPID(ctx, running, 111))

	orphaned, err := deliveries.RecordDeferred(ctx, ep, "/b.txt", "alice")
	require.NoError(t, err)
	require.NoError(t, deliveries.SetPID(ctx, orphaned, 222))

	done, err := deliveries.RecordDeferred(ctx, ep, "/c.txt", "alice")
	require.NoError(t, err)
	require.NoError(t, deliveries.SetStatus(ctx, done, db.StatusDelivered, 1, ""))

	spawner := &fakeSpawner{}
	alive := func(pid int) bool { return pid == 111 }

	n, err := resumeDeliveries(ctx, deliveries, spawner, alive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, spawner.requests, 1)
	assert.Equal(t, orphaned, spawner.requests[0].ID)
	assert.Equal(t, "/b.txt", spawner.requests[0].Path)
	assert.Equal(t, ep, spawner.requests[0].Endpoint)

	d, err := deliveries.Get(ctx, orphaned)
	require.NoError(t, err)
	assert.Equal(t, 5001, d.PID)
}

func TestResumeDeliveries_SpawnFailure(t *testing.T) {
	log = logger.Discard()
	gdb, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	ctx := context.Background()
	deliveries := store.NewDeliveryStore(gdb)
	_, err = deliveries.RecordDeferred(ctx, transport.Endpoint{Host: "10.0.0.2", Port: 9000}, "/a.txt", "alice")
	require.NoError(t, err)

	n, err := resumeDeliveries(ctx, deliveries, &fakeSpawner{err: errors.New("no such file")}, func(int) bool { return false })
	require.NoError(t, err)
	assert.Zero(t, n)
}
