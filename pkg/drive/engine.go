// Package drive wires the session store, navigation stack, directory
// cache and upload coordinator into the operation surface the UI layer
// calls.
//
// Control flow: a navigation change re-fetches the folder's children
// through the session's authorized request capability, the active
// search filter derives the visible view, and confirmed mutations
// (upload, folder create, delete) reconcile the cache and the quota
// figure. Authorization failure anywhere tears down the session once,
// centrally; callers observe it through Session().Authenticated().
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault-go/internal/metrics"
	"github.com/cloudvault/cloudvault-go/pkg/dircache"
	"github.com/cloudvault/cloudvault-go/pkg/localcache"
	"github.com/cloudvault/cloudvault-go/pkg/models"
	"github.com/cloudvault/cloudvault-go/pkg/nav"
	"github.com/cloudvault/cloudvault-go/pkg/protocol"
	"github.com/cloudvault/cloudvault-go/pkg/session"
	"github.com/cloudvault/cloudvault-go/pkg/upload"
)

// Engine is the navigation-and-synchronization engine.
type Engine struct {
	sess    *session.Store
	nav     *nav.Stack
	cache   *dircache.Cache
	uploads *upload.Coordinator
	files   *localcache.Store // nil disables download materialization
	log     *zap.Logger

	onUpload func(upload.Task)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithDownloadCache materializes downloads into the given store.
func WithDownloadCache(store *localcache.Store) Option {
	return func(e *Engine) { e.files = store }
}

// WithUploadProgress registers a per-task progress callback.
func WithUploadProgress(fn func(upload.Task)) Option {
	return func(e *Engine) { e.onUpload = fn }
}

// New creates an engine positioned at the root.
func New(sess *session.Store, opts ...Option) *Engine {
	e := &Engine{
		sess: sess,
		nav:  nav.New(),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = dircache.New(e.log)
	uploadOpts := []upload.Option{upload.WithLogger(e.log)}
	if e.onUpload != nil {
		uploadOpts = append(uploadOpts, upload.WithProgress(e.onUpload))
	}
	e.uploads = upload.New(sess, uploadOpts...)
	return e
}

// Session returns the session store.
func (e *Engine) Session() *session.Store { return e.sess }

// Nav returns the navigation stack.
func (e *Engine) Nav() *nav.Stack { return e.nav }

// Cache returns the directory cache.
func (e *Engine) Cache() *dircache.Cache { return e.cache }

// Uploads returns the upload coordinator.
func (e *Engine) Uploads() *upload.Coordinator { return e.uploads }

// listChildren fetches the mixed child array for a folder.
func (e *Engine) listChildren(ctx context.Context, folderID string) ([]*models.Node, error) {
	var resp protocol.ListResponse
	path := "/api/files?parentFolder=" + url.QueryEscape(folderID)
	if err := e.sess.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// Refresh re-fetches the current folder's children. On authorization
// failure the session is already torn down and Refresh reports nil;
// the caller reacts to session loss, not to this call. Any other
// failure is returned and the cache keeps its previous view.
func (e *Engine) Refresh(ctx context.Context) error {
	loc := e.nav.Current()
	err := e.cache.Load(ctx, loc.FolderID, e.listChildren)
	if session.IsKind(err, session.KindAuthRejected) {
		e.log.Info("session lost while loading folder", zap.String("path", loc.Path))
		return nil
	}
	return err
}

// EnterFolder navigates into a folder and loads its children.
func (e *Engine) EnterFolder(ctx context.Context, folder *models.Node) error {
	if folder == nil || !folder.IsFolder() {
		return fmt.Errorf("not a folder")
	}
	e.nav.Enter(nav.Location{FolderID: folder.ID, Path: folder.Path})
	return e.Refresh(ctx)
}

// Back returns to the previous location and loads it.
func (e *Engine) Back(ctx context.Context) error {
	e.nav.Back()
	return e.Refresh(ctx)
}

// GoToRoot returns to the root, clears history and loads it.
func (e *Engine) GoToRoot(ctx context.Context) error {
	e.nav.GoToRoot()
	return e.Refresh(ctx)
}

// Search sets the active query and returns the visible view. Local
// only; never touches the network.
func (e *Engine) Search(query string) dircache.View {
	return e.cache.ApplySearch(query)
}

// Visible returns the current visible view.
func (e *Engine) Visible() dircache.View {
	return e.cache.Visible()
}

// Upload transfers the given files into the current folder, one at a
// time, reconciling each confirmed node and the quota figure as it
// completes. The per-file outcomes are returned in enqueue order.
func (e *Engine) Upload(ctx context.Context, sources []upload.Source) []upload.Result {
	target := e.nav.Current().FolderID
	results := e.uploads.Enqueue(ctx, sources, target)
	for _, r := range results {
		if r.Task.Status != upload.StatusDone {
			continue
		}
		e.cache.ConfirmCreate(r.Node)
		e.reconcileQuota(ctx, r.StorageUsed)
	}
	return results
}

// CreateFolder creates a folder in the current folder and applies the
// server-echoed node to the cache.
func (e *Engine) CreateFolder(ctx context.Context, name string) (*models.Node, error) {
	var resp protocol.FolderCreateResponse
	err := e.sess.Do(ctx, http.MethodPost, "/api/files/folder", protocol.FolderCreateRequest{
		Name:         name,
		ParentFolder: e.nav.Current().FolderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	e.cache.ConfirmCreate(resp.Folder)
	return resp.Folder, nil
}

// Delete removes a node. A folder's descendants are deleted by the
// server from the single DELETE on the folder id; locally only the
// deleted id leaves the view.
func (e *Engine) Delete(ctx context.Context, node *models.Node) error {
	var resp protocol.DeleteResponse
	if err := e.sess.Do(ctx, http.MethodDelete, "/api/files/"+node.ID, nil, &resp); err != nil {
		return err
	}
	e.cache.ConfirmDelete(node.ID, node.Type)
	if e.files != nil && !node.IsFolder() {
		e.files.Remove(node.ID)
	}
	e.reconcileQuota(ctx, resp.StorageUsed)
	return nil
}

// reconcileQuota applies a server-provided quota figure, or re-resolves
// the profile when the mutation response omitted one. The client never
// computes quota locally.
func (e *Engine) reconcileQuota(ctx context.Context, storageUsed *int64) {
	if storageUsed != nil {
		e.sess.UpdateStorageUsed(*storageUsed)
		return
	}
	if _, err := e.sess.FetchUser(ctx); err != nil {
		e.log.Warn("failed to refresh quota figure", zap.Error(err))
	}
}

// Download resolves a file's short-lived retrieval URL and materializes
// the content into the download cache, returning the local path.
func (e *Engine) Download(ctx context.Context, fileID string) (string, error) {
	if e.files == nil {
		return "", fmt.Errorf("download cache not configured")
	}
	if path, ok := e.files.Path(fileID); ok {
		return path, nil
	}

	var resp protocol.DownloadResponse
	if err := e.sess.Do(ctx, http.MethodGet, "/api/files/"+fileID+"/download", nil, &resp); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resp.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	res, err := e.sess.HTTPClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch download url: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download url returned %d", res.StatusCode)
	}

	cr := &countingReader{r: res.Body}
	path, err := e.files.Put(fileID, resp.FileName, cr)
	if err != nil {
		return "", err
	}
	metrics.AddDownloadBytes(cr.n)
	e.log.Info("downloaded file",
		zap.String("file", resp.FileName),
		zap.String("path", path))
	return path, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
