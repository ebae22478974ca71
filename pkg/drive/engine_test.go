package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudvault/cloudvault-go/pkg/localcache"
	"github.com/cloudvault/cloudvault-go/pkg/models"
	"github.com/cloudvault/cloudvault-go/pkg/retry"
	"github.com/cloudvault/cloudvault-go/pkg/session"
	"github.com/cloudvault/cloudvault-go/pkg/upload"
)

// fakeBackend is an in-memory rendition of the file store API.
type fakeBackend struct {
	mu          sync.Mutex
	nodes       map[string]*models.Node // by id
	blobs       map[string][]byte       // file id -> content
	storageUsed int64
	nextID      int

	meCalls     int
	deleteCalls []string
	rejectAll   bool // every authorized call answers 401
	failLists   bool // folder listings answer 500
	omitQuota   bool // mutation responses drop the storageUsed figure
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nodes: make(map[string]*models.Node),
		blobs: make(map[string][]byte),
	}
}

func (b *fakeBackend) addNode(name string, kind models.NodeKind, parent string) *models.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addNodeLocked(name, kind, parent)
}

func (b *fakeBackend) addNodeLocked(name string, kind models.NodeKind, parent string) *models.Node {
	b.nextID++
	n := &models.Node{
		ID:       fmt.Sprintf("id-%d", b.nextID),
		Name:     name,
		Type:     kind,
		ParentID: parent,
		Path:     "/" + name,
	}
	b.nodes[n.ID] = n
	return n
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if b.rejectAll || r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Invalid token"}`))
			return false
		}
		return true
	}
	user := func() map[string]any {
		return map[string]any{
			"_id": "u1", "firstName": "Alice", "lastName": "Doe",
			"email": "alice@example.com", "storageUsed": b.storageUsed,
		}
	}

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, map[string]any{"token": "test-token", "user": user()})
	})

	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.meCalls++
		writeJSON(w, map[string]any{"user": user()})
	})

	mux.HandleFunc("GET /api/files", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failLists {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		parent := r.URL.Query().Get("parentFolder")
		children := []*models.Node{}
		for _, n := range b.nodes {
			if n.ParentID == parent {
				children = append(children, n)
			}
		}
		writeJSON(w, map[string]any{"files": children})
	})

	mux.HandleFunc("POST /api/files/upload", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"No file uploaded"}`))
			return
		}
		content, _ := io.ReadAll(file)
		file.Close()

		b.mu.Lock()
		defer b.mu.Unlock()
		n := b.addNodeLocked(hdr.Filename, models.KindFile, r.FormValue("parentFolder"))
		n.Size = int64(len(content))
		b.blobs[n.ID] = content
		b.storageUsed += n.Size
		writeJSON(w, map[string]any{"file": n, "storageUsed": b.storageUsed})
	})

	mux.HandleFunc("POST /api/files/folder", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		var req struct {
			Name         string `json:"name"`
			ParentFolder string `json:"parentFolder"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		for _, n := range b.nodes {
			if n.IsFolder() && n.ParentID == req.ParentFolder && n.Name == req.Name {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"message":"Folder name already exists"}`))
				return
			}
		}
		writeJSON(w, map[string]any{"folder": b.addNodeLocked(req.Name, models.KindFolder, req.ParentFolder)})
	})

	mux.HandleFunc("DELETE /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		id := r.PathValue("id")
		b.mu.Lock()
		defer b.mu.Unlock()
		b.deleteCalls = append(b.deleteCalls, id)
		n, ok := b.nodes[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"File not found"}`))
			return
		}
		// The server cascades into descendants from the one request.
		var drop func(id string)
		drop = func(id string) {
			for cid, c := range b.nodes {
				if c.ParentID == id {
					drop(cid)
				}
			}
			if victim := b.nodes[id]; victim != nil && !victim.IsFolder() {
				b.storageUsed -= victim.Size
				delete(b.blobs, id)
			}
			delete(b.nodes, id)
		}
		drop(n.ID)
		if b.omitQuota {
			writeJSON(w, map[string]any{})
			return
		}
		writeJSON(w, map[string]any{"storageUsed": b.storageUsed})
	})

	mux.HandleFunc("GET /api/files/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		id := r.PathValue("id")
		b.mu.Lock()
		n, ok := b.nodes[id]
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"File not found"}`))
			return
		}
		writeJSON(w, map[string]any{
			"downloadUrl": "http://" + r.Host + "/blob/" + id,
			"fileName":    n.Name,
		})
	})

	mux.HandleFunc("GET /blob/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		content, ok := b.blobs[r.PathValue("id")]
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(content)
	})

	return mux
}

func testEngine(t *testing.T, b *fakeBackend, opts ...Option) *Engine {
	t.Helper()
	ts := httptest.NewServer(b.handler(t))
	t.Cleanup(ts.Close)

	sess := session.New(session.Config{
		BaseURL:   ts.URL,
		TokenPath: filepath.Join(t.TempDir(), "token.json"),
		RetryConfig: retry.Config{
			MaxAttempts: 2,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
			Multiplier:  1,
		},
	})
	if err := sess.Login(context.Background(), "alice@example.com", "pass"); err != nil {
		t.Fatal(err)
	}
	return New(sess, opts...)
}

func memSource(name, content string) upload.Source {
	return upload.Source{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestRefreshLoadsCurrentFolder(t *testing.T) {
	b := newFakeBackend()
	b.addNode("docs", models.KindFolder, "")
	b.addNode("a.txt", models.KindFile, "")

	e := testEngine(t, b)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	v := e.Visible()
	if len(v.Folders) != 1 || len(v.Files) != 1 {
		t.Errorf("expected 1 folder + 1 file at root, got %d/%d",
			len(v.Folders), len(v.Files))
	}
}

func TestEnterFolderAndBack(t *testing.T) {
	b := newFakeBackend()
	docs := b.addNode("docs", models.KindFolder, "")
	b.addNode("inside.txt", models.KindFile, docs.ID)
	b.addNode("root.txt", models.KindFile, "")

	e := testEngine(t, b)
	e.Refresh(context.Background())

	if err := e.EnterFolder(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	v := e.Visible()
	if len(v.Files) != 1 || v.Files[0].Name != "inside.txt" {
		t.Errorf("expected docs contents, got %+v", v.Files)
	}
	if e.Nav().Current().FolderID != docs.ID {
		t.Errorf("expected location %s, got %s", docs.ID, e.Nav().Current().FolderID)
	}

	if err := e.Back(context.Background()); err != nil {
		t.Fatal(err)
	}
	v = e.Visible()
	if len(v.Files) != 1 || v.Files[0].Name != "root.txt" {
		t.Errorf("expected root contents after back, got %+v", v.Files)
	}
}

func TestEnterFolderRejectsFiles(t *testing.T) {
	b := newFakeBackend()
	file := b.addNode("a.txt", models.KindFile, "")
	e := testEngine(t, b)

	if err := e.EnterFolder(context.Background(), file); err == nil {
		t.Error("expected error entering a file")
	}
	if err := e.EnterFolder(context.Background(), nil); err == nil {
		t.Error("expected error entering nil")
	}
}

func TestUploadSequentialWithQuota(t *testing.T) {
	b := newFakeBackend()
	e := testEngine(t, b)
	e.Refresh(context.Background())

	results := e.Upload(context.Background(), []upload.Source{
		memSource("a.txt", strings.Repeat("a", 10)),
		memSource("b.txt", strings.Repeat("b", 20)),
	})

	for _, r := range results {
		if r.Task.Status != upload.StatusDone {
			t.Fatalf("%s: %v", r.Task.FileName, r.Task.Err)
		}
	}

	v := e.Visible()
	if len(v.Files) != 2 || v.Files[0].Name != "a.txt" || v.Files[1].Name != "b.txt" {
		t.Errorf("expected files in arrival order, got %+v", v.Files)
	}
	if got := e.Session().StorageUsed(); got != 30 {
		t.Errorf("expected quota 30 from server figures, got %d", got)
	}
	if b.meCalls != 0 {
		t.Errorf("quota came with each response; expected no profile refetch, got %d", b.meCalls)
	}
}

func TestUploadTargetsCurrentFolder(t *testing.T) {
	b := newFakeBackend()
	docs := b.addNode("docs", models.KindFolder, "")
	e := testEngine(t, b)
	e.Refresh(context.Background())
	e.EnterFolder(context.Background(), docs)

	results := e.Upload(context.Background(), []upload.Source{memSource("in.txt", "x")})
	if results[0].Task.Status != upload.StatusDone {
		t.Fatal(results[0].Task.Err)
	}
	if got := results[0].Node.ParentID; got != docs.ID {
		t.Errorf("uploaded into %q, want %q", got, docs.ID)
	}
	if v := e.Visible(); len(v.Files) != 1 {
		t.Errorf("expected uploaded file visible in current folder, got %d", len(v.Files))
	}
}

func TestCreateFolder(t *testing.T) {
	b := newFakeBackend()
	e := testEngine(t, b)
	e.Refresh(context.Background())

	folder, err := e.CreateFolder(context.Background(), "projects")
	if err != nil {
		t.Fatal(err)
	}
	if folder.Name != "projects" || !folder.IsFolder() {
		t.Errorf("unexpected node %+v", folder)
	}
	if v := e.Visible(); len(v.Folders) != 1 {
		t.Errorf("expected folder in view, got %d", len(v.Folders))
	}

	// Duplicate names surface the backend's message verbatim.
	_, err = e.CreateFolder(context.Background(), "projects")
	if !session.IsKind(err, session.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Folder name already exists") {
		t.Errorf("expected backend message preserved, got %v", err)
	}
}

func TestDeleteFolderSingleRequest(t *testing.T) {
	b := newFakeBackend()
	docs := b.addNode("docs", models.KindFolder, "")
	inner := b.addNode("inner.txt", models.KindFile, docs.ID)
	inner.Size = 10
	b.blobs[inner.ID] = []byte(strings.Repeat("x", 10))
	b.storageUsed = 10
	b.addNode("keep.txt", models.KindFile, "")

	e := testEngine(t, b)
	e.Refresh(context.Background())

	if err := e.Delete(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	if len(b.deleteCalls) != 1 || b.deleteCalls[0] != docs.ID {
		t.Errorf("folder delete must be one request on the folder id, got %v", b.deleteCalls)
	}
	v := e.Visible()
	if len(v.Folders) != 0 {
		t.Error("deleted folder still visible")
	}
	if len(v.Files) != 1 || v.Files[0].Name != "keep.txt" {
		t.Errorf("unrelated file lost from view: %+v", v.Files)
	}
	if got := e.Session().StorageUsed(); got != 0 {
		t.Errorf("expected quota 0 after cascade delete, got %d", got)
	}
}

func TestDeleteEvictsDownloadCache(t *testing.T) {
	b := newFakeBackend()
	file := b.addNode("a.txt", models.KindFile, "")
	b.blobs[file.ID] = []byte("cached bytes")

	store, err := localcache.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	e := testEngine(t, b, WithDownloadCache(store))
	e.Refresh(context.Background())

	path, err := e.Download(context.Background(), file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Delete(context.Background(), file); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Path(file.ID); ok {
		t.Error("expected cached copy evicted with the node")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected local file removed, got %v", err)
	}
}

func TestRefreshAuthRejectionTearsDownQuietly(t *testing.T) {
	b := newFakeBackend()
	b.addNode("a.txt", models.KindFile, "")

	e := testEngine(t, b)
	e.Refresh(context.Background())

	b.mu.Lock()
	b.rejectAll = true
	b.mu.Unlock()

	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("auth loss is reported through session state, not an error: %v", err)
	}
	if e.Session().Authenticated() {
		t.Error("expected session torn down")
	}
	// The last good view survives for the caller to render or discard.
	if v := e.Visible(); len(v.Files) != 1 {
		t.Errorf("expected previous view retained, got %d files", len(v.Files))
	}
}

func TestRefreshFailurePreservesView(t *testing.T) {
	b := newFakeBackend()
	b.addNode("a.txt", models.KindFile, "")
	b.addNode("b.txt", models.KindFile, "")

	e := testEngine(t, b)
	e.Refresh(context.Background())

	b.mu.Lock()
	b.failLists = true
	b.mu.Unlock()

	if err := e.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from failing load")
	}
	if v := e.Visible(); len(v.Files) != 2 {
		t.Errorf("failed load must keep the previous view, got %d files", len(v.Files))
	}
}

func TestSearchIsLocal(t *testing.T) {
	b := newFakeBackend()
	b.addNode("Report.pdf", models.KindFile, "")
	b.addNode("notes.txt", models.KindFile, "")

	e := testEngine(t, b)
	e.Refresh(context.Background())

	b.mu.Lock()
	b.failLists = true // any further listing would now fail loudly
	b.mu.Unlock()

	v := e.Search("report")
	if len(v.Files) != 1 || v.Files[0].Name != "Report.pdf" {
		t.Errorf("search result wrong: %+v", v.Files)
	}
	v = e.Search("")
	if len(v.Files) != 2 {
		t.Errorf("clearing the query must restore the full set, got %d", len(v.Files))
	}
}

func TestDownloadMaterializesAndCaches(t *testing.T) {
	b := newFakeBackend()
	file := b.addNode("report.pdf", models.KindFile, "")
	b.blobs[file.ID] = []byte("pdf content here")

	store, err := localcache.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	e := testEngine(t, b, WithDownloadCache(store))

	path, err := e.Download(context.Background(), file.ID)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pdf content here" {
		t.Errorf("content = %q", data)
	}

	// Second download is served from the cache even if the backend
	// would refuse.
	b.mu.Lock()
	b.rejectAll = true
	b.mu.Unlock()
	again, err := e.Download(context.Background(), file.ID)
	if err != nil || again != path {
		t.Errorf("expected cache hit %q, got %q (%v)", path, again, err)
	}
}

func TestDownloadWithoutCacheConfigured(t *testing.T) {
	b := newFakeBackend()
	file := b.addNode("a.txt", models.KindFile, "")
	e := testEngine(t, b)

	if _, err := e.Download(context.Background(), file.ID); err == nil {
		t.Error("expected error when no download cache is configured")
	}
}

func TestDeleteFallsBackToProfileForQuota(t *testing.T) {
	// When a mutation response omits the storage figure the engine
	// re-resolves the profile instead of computing locally.
	b := newFakeBackend()
	file := b.addNode("a.txt", models.KindFile, "")
	file.Size = 10
	b.storageUsed = 10
	b.omitQuota = true

	e := testEngine(t, b)
	e.Refresh(context.Background())

	if err := e.Delete(context.Background(), file); err != nil {
		t.Fatal(err)
	}
	if b.meCalls == 0 {
		t.Error("expected a profile refetch when the response omits the quota figure")
	}
	if got := e.Session().StorageUsed(); got != 0 {
		t.Errorf("expected quota 0 from refreshed profile, got %d", got)
	}
}
