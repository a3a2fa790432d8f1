package ltp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// TestMain ensures no reader goroutines or worker processes outlive a test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// handlerFunc answers one request. A nil reply means "stay silent";
// hangup makes the fake worker drop the connection as if it crashed.
type handlerFunc func(req request) (rep *reply, hangup bool)

// fakeLauncher hands out one end of a net.Pipe and serves the other end
// with a scripted worker.
type fakeLauncher struct {
	ready   reply
	handler handlerFunc

	mu       sync.Mutex
	requests []request
	argv     []string
	done     chan struct{}
}

func newFakeLauncher(t *testing.T, handler handlerFunc) *fakeLauncher {
	t.Helper()
	f := &fakeLauncher{
		ready:   reply{ID: readyID, OK: true},
		handler: handler,
		done:    make(chan struct{}),
	}
	t.Cleanup(func() {
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Error("fake worker did not stop")
		}
	})
	return f
}

func (f *fakeLauncher) Launch(_ context.Context, argv []string) (io.ReadWriteCloser, error) {
	f.argv = argv
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func (f *fakeLauncher) serve(conn net.Conn) {
	defer close(f.done)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	if err := enc.Encode(f.ready); err != nil || !f.ready.OK {
		return
	}

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		rep, hangup := f.handler(req)
		if hangup {
			return
		}
		if rep == nil {
			continue
		}
		if rep.ID == "" {
			rep.ID = req.ID
		}
		if err := enc.Encode(rep); err != nil {
			return
		}
	}
}

func (f *fakeLauncher) recorded() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

// okResult builds a successful reply carrying result as JSON.
func okResult(t *testing.T, result any) *reply {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	return &reply{OK: true, Result: data}
}

// argsOf round-trips a request's args into a generic map for assertions.
func argsOf(t *testing.T, req request) map[string]any {
	t.Helper()
	data, err := json.Marshal(req.Args)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestLoad_Ready(t *testing.T) {
	launcher := newFakeLauncher(t, func(request) (*reply, bool) { return nil, false })

	m, err := Load(context.Background(), launcher, "data/LTP/base1", WithPython("/opt/venv/bin/python"))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "data/LTP/base1", m.Path())
	require.Len(t, launcher.argv, 5)
	assert.Equal(t, "/opt/venv/bin/python", launcher.argv[0])
	assert.Equal(t, "data/LTP/base1", launcher.argv[4])
}

func TestLoad_LibraryError(t *testing.T) {
	launcher := newFakeLauncher(t, nil)
	launcher.ready = reply{ID: readyID, OK: false, Error: "FileNotFoundError: data/LTP/base1/config.json"}

	m, err := Load(context.Background(), launcher, "data/LTP/base1")
	require.Error(t, err)
	assert.Nil(t, m)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitWorkerError, cliErr.Code)

	var workerErr *WorkerError
	require.True(t, errors.As(err, &workerErr))
	assert.Equal(t, "load", workerErr.Op)
	assert.Contains(t, workerErr.Message, "FileNotFoundError")
}

type failingLauncher struct{}

func (failingLauncher) Launch(context.Context, []string) (io.ReadWriteCloser, error) {
	return nil, errors.New("exec: \"python3\": executable file not found in $PATH")
}

func TestLoad_LaunchError(t *testing.T) {
	_, err := Load(context.Background(), failingLauncher{}, "data/LTP/legacy")

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitWorkerError, cliErr.Code)
	assert.Contains(t, err.Error(), "executable file not found")
}

func TestModel_Pipeline(t *testing.T) {
	launcher := newFakeLauncher(t, func(req request) (*reply, bool) {
		return okResult(t, map[string]any{
			"cws": [][]string{{"他", "叫", "汤姆", "去", "拿", "外衣", "。"}},
			"pos": [][]string{{"r", "v", "nh", "v", "v", "n", "wp"}},
			"ner": [][]any{{[]any{"Nh", "汤姆", 2, 2}}},
		}), false
	})

	m, err := Load(context.Background(), launcher, "data/LTP/legacy")
	require.NoError(t, err)
	defer m.Close()

	out, err := m.Pipeline(context.Background(), []string{"他叫汤姆去拿外衣。"},
		[]model.Task{model.TaskCWS, model.TaskPOS, model.TaskNER})
	require.NoError(t, err)

	assert.Equal(t, []string{"他", "叫", "汤姆", "去", "拿", "外衣", "。"}, out.CWS[0])
	assert.Equal(t, []model.Entity{{Label: "Nh", Text: "汤姆", Start: 2, End: 2}}, out.NER[0])
	assert.Nil(t, out.SDP)

	reqs := launcher.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "pipeline", reqs[0].Op)
	assert.NotEmpty(t, reqs[0].ID)
	args := argsOf(t, reqs[0])
	assert.Equal(t, []any{"他叫汤姆去拿外衣。"}, args["sentences"])
	assert.Equal(t, []any{"cws", "pos", "ner"}, args["tasks"])
}

func TestModel_PipelineLibraryError(t *testing.T) {
	launcher := newFakeLauncher(t, func(req request) (*reply, bool) {
		return &reply{OK: false, Error: "ValueError: ner requires pos"}, false
	})

	m, err := Load(context.Background(), launcher, "data/LTP/legacy")
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Pipeline(context.Background(), []string{"他叫汤姆去拿外衣。"},
		[]model.Task{model.TaskCWS, model.TaskNER})

	var workerErr *WorkerError
	require.True(t, errors.As(err, &workerErr))
	assert.Equal(t, "ltp pipeline: ValueError: ner requires pos", err.Error())

	// A library error leaves the worker usable.
	_, err = m.Pipeline(context.Background(), []string{"x"}, []model.Task{model.TaskCWS})
	assert.True(t, errors.As(err, &workerErr), "second call reaches the worker again")
}

func TestModel_VocabularyAndDevice(t *testing.T) {
	launcher := newFakeLauncher(t, func(req request) (*reply, bool) {
		if req.Op == "accelerator" {
			return okResult(t, map[string]bool{"available": true}), false
		}
		return okResult(t, map[string]any{}), false
	})

	m, err := Load(context.Background(), launcher, "data/LTP/base1")
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	available, err := m.AcceleratorAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, m.To(ctx, "cuda"))
	require.NoError(t, m.AddWord(ctx, "汤姆去", 2))
	require.NoError(t, m.AddWords(ctx, []string{"外套", "外衣"}, 2))

	reqs := launcher.recorded()
	require.Len(t, reqs, 4)
	assert.Equal(t, "accelerator", reqs[0].Op)
	assert.Equal(t, "to", reqs[1].Op)
	assert.Equal(t, map[string]any{"device": "cuda"}, argsOf(t, reqs[1]))
	assert.Equal(t, "add_words", reqs[2].Op)
	assert.Equal(t, map[string]any{"words": []any{"汤姆去"}, "freq": float64(2)}, argsOf(t, reqs[2]))
	assert.Equal(t, map[string]any{"words": []any{"外套", "外衣"}, "freq": float64(2)}, argsOf(t, reqs[3]))

	ids := map[string]bool{}
	for _, r := range reqs {
		ids[r.ID] = true
	}
	assert.Len(t, ids, 4, "every request carries a fresh id")
}

func TestModel_ContextCancelClosesWorker(t *testing.T) {
	launcher := newFakeLauncher(t, func(req request) (*reply, bool) {
		// Never answer: simulates a long-running pipeline.
		return nil, false
	})

	m, err := Load(context.Background(), launcher, "data/LTP/base1")
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Pipeline(ctx, []string{"美狄亚这一天很不幸。"}, []model.Task{model.TaskCWS})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = m.AcceleratorAvailable(context.Background())
	assert.ErrorIs(t, err, ErrClosed, "an interrupted stream cannot be reused")
}

func TestModel_WorkerCrash(t *testing.T) {
	launcher := newFakeLauncher(t, func(req request) (*reply, bool) {
		return nil, true
	})

	m, err := Load(context.Background(), launcher, "data/LTP/base1")
	require.NoError(t, err)
	defer m.Close()

	err = m.To(context.Background(), "cuda")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ltp worker exited during to")

	assert.ErrorIs(t, m.To(context.Background(), "cuda"), ErrClosed)
}

func TestModel_MismatchedReplyID(t *testing.T) {
	launcher := newFakeLauncher(t, func(req request) (*reply, bool) {
		return &reply{ID: "someone-else", OK: true}, false
	})

	m, err := Load(context.Background(), launcher, "data/LTP/base1")
	require.NoError(t, err)
	defer m.Close()

	err = m.To(context.Background(), "cpu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `replied to "someone-else"`)
}

func TestModel_CloseIsIdempotent(t *testing.T) {
	launcher := newFakeLauncher(t, func(request) (*reply, bool) { return nil, false })

	m, err := Load(context.Background(), launcher, "data/LTP/base1")
	require.NoError(t, err)

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

// TestLoad_RealWorker runs the embedded helper against a real checkpoint.
// It needs a Python environment with the ltp package installed.
func TestLoad_RealWorker(t *testing.T) {
	checkpoint := os.Getenv("TEST_LTP_CHECKPOINT")
	if checkpoint == "" {
		t.Skip("TEST_LTP_CHECKPOINT not set")
	}

	launcher := &ExecLauncher{}
	m, err := Load(context.Background(), launcher, checkpoint, WithPython(os.Getenv("TEST_LTP_PYTHON")))
	require.NoError(t, err)
	defer m.Close()

	out, err := m.Pipeline(context.Background(), []string{"他叫汤姆去拿外衣。"}, []model.Task{model.TaskCWS})
	require.NoError(t, err)
	require.Len(t, out.CWS, 1)
	assert.NotEmpty(t, out.CWS[0])
}
