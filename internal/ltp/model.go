package ltp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// readyID is the reply id the worker uses for its load handshake.
const readyID = "ready"

// ErrClosed is returned by calls on a Model whose worker has been closed
// or has died.
var ErrClosed = errors.New("ltp worker is closed")

// WorkerError is an exception raised inside the LTP library, reported back
// by the worker. Message is the library's own "Type: text" description.
type WorkerError struct {
	Op      string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("ltp %s: %s", e.Op, e.Message)
}

// request is one line sent to the worker. ID is echoed in the reply.
type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

// reply is one line received from the worker. Result is decoded by the
// caller into the shape the op returns; Error is set when OK is false.
type reply struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Model is one loaded LTP checkpoint hosted by a worker process.
// Calls are serialized; a Model is safe for use by multiple goroutines.
//
// Usage:
//
//	m, err := ltp.Load(ctx, &ltp.ExecLauncher{}, "data/LTP/base1")
//	if err != nil { /* *model.CLIError wrapping a *WorkerError */ }
//	defer m.Close()
//	out, err := m.Pipeline(ctx, sentences, model.AllTasks)
type Model struct {
	path   string
	logger *zap.Logger

	// mu guards everything below and serializes request/reply pairs.
	mu   sync.Mutex
	conn io.ReadWriteCloser
	enc  *json.Encoder
	dec  *json.Decoder

	// closed is set once conn has been closed, by Close or after a
	// protocol failure.
	closed bool
}

type loadOptions struct {
	python string
	logger *zap.Logger
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithPython sets the interpreter that runs the worker helper.
func WithPython(python string) LoadOption {
	return func(o *loadOptions) {
		o.python = python
	}
}

// WithLogger attaches a logger for protocol-level debug output.
func WithLogger(logger *zap.Logger) LoadOption {
	return func(o *loadOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Load starts a worker for the checkpoint at path and waits until the
// library has finished constructing the model. A missing or unreadable
// checkpoint surfaces here as a *WorkerError.
//
// Both failure modes are wrapped in a *model.CLIError with ExitWorkerError:
// the launcher failing to start the worker, and the worker failing to load
// the checkpoint. ctx bounds the wait for the ready reply; cancelling it
// stops the worker.
func Load(ctx context.Context, launcher Launcher, path string, opts ...LoadOption) (*Model, error) {
	o := loadOptions{python: DefaultPython, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := launcher.Launch(ctx, WorkerArgs(o.python, path))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitWorkerError,
			fmt.Sprintf("failed to start LTP worker for %q", path), err)
	}

	m := newModel(path, conn, o.logger)
	m.mu.Lock()
	_, err = m.receive(ctx, readyID, "load")
	m.mu.Unlock()
	if err != nil {
		_ = m.Close()
		return nil, model.WrapCLIError(model.ExitWorkerError,
			fmt.Sprintf("failed to load LTP model %q", path), err)
	}

	o.logger.Debug("ltp model loaded", zap.String("path", path))
	return m, nil
}

func newModel(path string, conn io.ReadWriteCloser, logger *zap.Logger) *Model {
	return &Model{
		path:   path,
		logger: logger,
		conn:   conn,
		enc:    json.NewEncoder(conn),
		dec:    json.NewDecoder(conn),
	}
}

// Path returns the checkpoint path the model was loaded from.
func (m *Model) Path() string {
	return m.path
}

// AcceleratorAvailable reports whether the worker sees a CUDA device
// (torch.cuda.is_available in the worker).
func (m *Model) AcceleratorAvailable(ctx context.Context) (bool, error) {
	var result struct {
		Available bool `json:"available"`
	}
	if err := m.call(ctx, "accelerator", nil, &result); err != nil {
		return false, err
	}
	return result.Available, nil
}

// To moves the model's computation to device (e.g. "cuda", "cuda:1", "cpu").
func (m *Model) To(ctx context.Context, device string) error {
	return m.call(ctx, "to", map[string]any{"device": device}, nil)
}

// AddWord adds one custom vocabulary entry with the given frequency.
// The worker forwards a single word to the library's add_word.
func (m *Model) AddWord(ctx context.Context, word string, freq int) error {
	return m.AddWords(ctx, []string{word}, freq)
}

// AddWords adds several custom vocabulary entries sharing one frequency.
// The worker forwards them to the library's add_words in one call.
func (m *Model) AddWords(ctx context.Context, words []string, freq int) error {
	return m.call(ctx, "add_words", map[string]any{"words": words, "freq": freq}, nil)
}

// Pipeline runs the requested analysis tasks over sentences. The task list
// is passed to the library unchanged; an invalid combination (for example
// ner without pos) is reported as a *WorkerError.
func (m *Model) Pipeline(ctx context.Context, sentences []string, tasks []model.Task) (*model.NLPOutput, error) {
	args := map[string]any{
		"sentences": sentences,
		"tasks":     model.TaskNames(tasks),
	}
	var out model.NLPOutput
	if err := m.call(ctx, "pipeline", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close stops the worker and returns the launcher's verdict on how it
// exited (for ExecLauncher, the exit error with the stderr tail). It is
// safe to call more than once; later calls return nil.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown()
}

// shutdown closes the connection once. Callers hold m.mu.
func (m *Model) shutdown() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.conn.Close()
}

// call sends one request and waits for its reply. A library error comes
// back as *WorkerError and leaves the worker usable; transport and protocol
// errors close it. result, when non-nil, receives the decoded reply
// payload.
func (m *Model) call(ctx context.Context, op string, args any, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	id := uuid.NewString()
	m.logger.Debug("ltp request", zap.String("op", op), zap.String("id", id))
	if err := m.enc.Encode(request{ID: id, Op: op, Args: args}); err != nil {
		return m.fail(fmt.Errorf("send %s request: %w", op, err))
	}

	rep, err := m.receive(ctx, id, op)
	if err != nil {
		return err
	}
	if result != nil && len(rep.Result) > 0 {
		if err := json.Unmarshal(rep.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", op, err)
		}
	}
	return nil
}

// receive reads the next reply and checks that it answers id. The read
// runs on its own goroutine so ctx can interrupt it; an interrupted or
// broken stream leaves the Model closed, because the reply order can no
// longer be trusted. Callers hold m.mu.
func (m *Model) receive(ctx context.Context, id, op string) (*reply, error) {
	type decoded struct {
		rep reply
		err error
	}
	ch := make(chan decoded, 1)
	go func() {
		var d decoded
		d.err = m.dec.Decode(&d.rep)
		ch <- d
	}()

	var d decoded
	select {
	case d = <-ch:
	case <-ctx.Done():
		_ = m.shutdown()
		<-ch
		return nil, ctx.Err()
	}

	if d.err != nil {
		if errors.Is(d.err, io.EOF) || errors.Is(d.err, io.ErrUnexpectedEOF) {
			if closeErr := m.shutdown(); closeErr != nil {
				return nil, fmt.Errorf("ltp worker exited during %s: %w", op, closeErr)
			}
			return nil, fmt.Errorf("ltp worker exited during %s", op)
		}
		return nil, m.fail(fmt.Errorf("read %s reply: %w", op, d.err))
	}
	if d.rep.ID != id {
		return nil, m.fail(fmt.Errorf("ltp worker replied to %q while waiting for %q", d.rep.ID, id))
	}
	if !d.rep.OK {
		return nil, &WorkerError{Op: op, Message: d.rep.Error}
	}
	return &d.rep, nil
}

// fail closes the worker after a protocol error and returns err.
func (m *Model) fail(err error) error {
	_ = m.shutdown()
	return err
}
