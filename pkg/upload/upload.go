// Package upload drives file transfers against a target folder.
//
// Transfers run strictly sequentially: transfer N+1 does not start
// until transfer N has reached a terminal state, so at most one
// transfer is ever in flight from a coordinator. This bounds peak
// bandwidth and memory at the cost of throughput.
package upload

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault-go/internal/metrics"
	"github.com/cloudvault/cloudvault-go/pkg/models"
	"github.com/cloudvault/cloudvault-go/pkg/protocol"
)

// Status is an UploadTask lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is DONE or FAILED.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task tracks one file transfer's progress and status.
type Task struct {
	ID       string
	FileName string
	Progress int // 0..100, monotonic
	Status   Status
	Err      error
}

// Source supplies one file's content. Open is called once per
// transfer attempt so a transfer never reuses a consumed reader.
type Source struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileSource builds a Source from a local file path.
func FileSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, err
	}
	return Source{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Transport sends one authorized streaming request. Implemented by
// the session store.
type Transport interface {
	DoStream(ctx context.Context, method, path, contentType string, body io.Reader, out any) error
}

// Result is the terminal outcome of one enqueued file.
type Result struct {
	Task        *Task
	Node        *models.Node // server-echoed node, set when done
	StorageUsed *int64       // updated quota figure, when the server sent one
}

// Coordinator transfers enqueued files one at a time.
type Coordinator struct {
	transport  Transport
	log        *zap.Logger
	onProgress func(Task) // optional snapshot callback

	mu    sync.Mutex
	tasks []*Task
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProgress registers a callback invoked with a task snapshot on
// every state or progress change.
func WithProgress(fn func(Task)) Option {
	return func(c *Coordinator) { c.onProgress = fn }
}

// WithLogger sets the coordinator's logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New creates a coordinator over the given transport.
func New(t Transport, opts ...Option) *Coordinator {
	c := &Coordinator{transport: t, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tasks returns a snapshot of the tasks not yet acknowledged.
func (c *Coordinator) Tasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, len(c.tasks))
	for i, t := range c.tasks {
		out[i] = *t
	}
	return out
}

// Enqueue transfers the given files into the target folder, strictly
// in order, and returns one terminal Result per source. Returning the
// results acknowledges the tasks and removes them from the coordinator.
func (c *Coordinator) Enqueue(ctx context.Context, sources []Source, targetFolderID string) []Result {
	tasks := make([]*Task, len(sources))
	c.mu.Lock()
	for i, src := range sources {
		tasks[i] = &Task{
			ID:       uuid.NewString(),
			FileName: src.Name,
			Status:   StatusPending,
		}
		c.tasks = append(c.tasks, tasks[i])
	}
	c.mu.Unlock()

	results := make([]Result, len(sources))
	for i, src := range sources {
		results[i] = c.transferOne(ctx, tasks[i], src, targetFolderID)
		c.acknowledge(tasks[i].ID)
	}
	return results
}

func (c *Coordinator) transferOne(ctx context.Context, task *Task, src Source, targetFolderID string) Result {
	c.setStatus(task, StatusInProgress)
	c.log.Debug("upload started",
		zap.String("file", src.Name),
		zap.Int64("size", src.Size))

	resp, err := c.send(ctx, task, src, targetFolderID)
	if err != nil {
		c.setFailed(task, err)
		metrics.ObserveUpload(string(StatusFailed))
		c.log.Warn("upload failed", zap.String("file", src.Name), zap.Error(err))
		return Result{Task: task}
	}

	c.setProgress(task, 100)
	c.setStatus(task, StatusDone)
	metrics.ObserveUpload(string(StatusDone))
	metrics.AddUploadBytes(src.Size)
	c.log.Info("upload complete", zap.String("file", src.Name))
	return Result{Task: task, Node: resp.File, StorageUsed: resp.StorageUsed}
}

func (c *Coordinator) send(ctx context.Context, task *Task, src Source, targetFolderID string) (*protocol.UploadResponse, error) {
	content, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer content.Close()

	boundary := "cloudvault-" + uuid.NewString()
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeMultipart(pw, boundary, src, targetFolderID, &progressReader{
			r:     content,
			total: src.Size,
			report: func(percent int) {
				c.setProgress(task, percent)
			},
		}))
	}()

	var resp protocol.UploadResponse
	err = c.transport.DoStream(ctx, "POST", "/api/files/upload",
		"multipart/form-data; boundary="+boundary, pr, &resp)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &resp, nil
}

// writeMultipart streams the form body: the parentFolder field first,
// then the file part with a sniffed content type.
func writeMultipart(w io.Writer, boundary string, src Source, targetFolderID string, content io.Reader) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}
	if err := mw.WriteField("parentFolder", targetFolderID); err != nil {
		return err
	}

	// Sniff the content type from the leading bytes, then replay them.
	head := make([]byte, 512)
	n, rerr := io.ReadFull(content, head)
	if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
		return rerr
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(src.Name)+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, io.MultiReader(bytes.NewReader(head), content)); err != nil {
		return err
	}
	return mw.Close()
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '"' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func (c *Coordinator) setStatus(task *Task, status Status) {
	c.mu.Lock()
	task.Status = status
	snapshot := *task
	c.mu.Unlock()
	if c.onProgress != nil {
		c.onProgress(snapshot)
	}
}

// setFailed records the failure cause and the terminal status under one
// lock acquisition; Tasks may snapshot concurrently.
func (c *Coordinator) setFailed(task *Task, err error) {
	c.mu.Lock()
	task.Err = err
	task.Status = StatusFailed
	snapshot := *task
	c.mu.Unlock()
	if c.onProgress != nil {
		c.onProgress(snapshot)
	}
}

// setProgress raises the task's progress to percent. Progress is
// monotonic: a smaller value never replaces a larger one.
func (c *Coordinator) setProgress(task *Task, percent int) {
	c.mu.Lock()
	if percent > 100 {
		percent = 100
	}
	if percent <= task.Progress {
		c.mu.Unlock()
		return
	}
	task.Progress = percent
	snapshot := *task
	c.mu.Unlock()
	if c.onProgress != nil {
		c.onProgress(snapshot)
	}
}

func (c *Coordinator) acknowledge(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tasks {
		if t.ID == taskID {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			return
		}
	}
}

// progressReader reports bytes-sent/bytes-total as a percentage while
// the multipart body is streamed.
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report func(percent int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 && p.total > 0 {
		p.sent += int64(n)
		percent := int(p.sent * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		p.report(percent)
	}
	return n, err
}
