// Package dircache materializes one folder's children and applies
// confirmed server mutations to them.
//
// The cache holds the unfiltered node sets for the current folder,
// partitioned by kind, plus a derived visible view produced by the
// active search query. Mutations are applied only after the server has
// confirmed them; the cache never speculates.
package dircache

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault-go/internal/metrics"
	"github.com/cloudvault/cloudvault-go/pkg/models"
)

// FetchFunc lists the children of a folder. An empty folderID is the
// root.
type FetchFunc func(ctx context.Context, folderID string) ([]*models.Node, error)

// View is a kind-partitioned set of nodes.
type View struct {
	Folders []*models.Node
	Files   []*models.Node
}

// Len returns the total number of nodes in the view.
func (v View) Len() int {
	return len(v.Folders) + len(v.Files)
}

// Cache is the per-folder directory cache.
type Cache struct {
	log *zap.Logger

	mu         sync.Mutex
	generation uint64 // most recently started load
	allFiles   []*models.Node
	allFolders []*models.Node
	query      string
}

// New creates an empty cache.
func New(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{log: log}
}

// Load fetches the children of folderID and replaces the cached sets
// wholesale. Every navigation re-fetches from scratch; there is no
// incremental merge.
//
// Loads are generation-guarded: when navigation changes again before a
// previous load resolves, the stale response is discarded instead of
// overwriting the newer one. On failure the cache keeps its previous
// contents — a failed refresh must not destroy a previously-good view.
func (c *Cache) Load(ctx context.Context, folderID string, fetch FetchFunc) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	nodes, err := fetch(ctx, folderID)
	if err != nil {
		metrics.ObserveFolderLoad("failed")
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		metrics.ObserveFolderLoad("stale")
		c.log.Debug("discarding stale folder listing",
			zap.String("folder", folderID),
			zap.Uint64("generation", gen))
		return nil
	}

	c.allFiles = c.allFiles[:0:0]
	c.allFolders = c.allFolders[:0:0]
	for _, n := range nodes {
		if n.IsFolder() {
			c.allFolders = append(c.allFolders, n)
		} else {
			c.allFiles = append(c.allFiles, n)
		}
	}
	metrics.ObserveFolderLoad("applied")
	return nil
}

// ApplySearch sets the active query and returns the visible view.
// Matching is a case-insensitive substring test on the node name; an
// empty (or all-whitespace) query makes the visible view equal the
// full set. Pure with respect to the cached contents and the network.
func (c *Cache) ApplySearch(query string) View {
	c.mu.Lock()
	c.query = query
	c.mu.Unlock()
	return c.Visible()
}

// Query returns the active search query.
func (c *Cache) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Visible returns the view filtered by the active query.
func (c *Cache) Visible() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(c.query))
	if q == "" {
		return View{
			Folders: append([]*models.Node(nil), c.allFolders...),
			Files:   append([]*models.Node(nil), c.allFiles...),
		}
	}

	match := func(nodes []*models.Node) []*models.Node {
		var out []*models.Node
		for _, n := range nodes {
			if strings.Contains(strings.ToLower(n.Name), q) {
				out = append(out, n)
			}
		}
		return out
	}
	return View{Folders: match(c.allFolders), Files: match(c.allFiles)}
}

// All returns the unfiltered view.
func (c *Cache) All() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Folders: append([]*models.Node(nil), c.allFolders...),
		Files:   append([]*models.Node(nil), c.allFiles...),
	}
}

// ConfirmCreate appends a server-echoed node to the cached sets. Only
// ever called after the server has returned the created entity.
func (c *Cache) ConfirmCreate(node *models.Node) {
	if node == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if node.IsFolder() {
		c.allFolders = append(c.allFolders, node)
	} else {
		c.allFiles = append(c.allFiles, node)
	}
}

// ConfirmDelete removes the node with the given id after a successful
// server deletion. A deleted folder's descendants are the server's
// responsibility; only the deleted id leaves the current view.
func (c *Cache) ConfirmDelete(id string, kind models.NodeKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == models.KindFolder {
		c.allFolders = remove(c.allFolders, id)
	} else {
		c.allFiles = remove(c.allFiles, id)
	}
}

func remove(nodes []*models.Node, id string) []*models.Node {
	for i, n := range nodes {
		if n.ID == id {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}
