// Package models contains the data types shared across the client.
package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// NodeKind distinguishes files from folders.
type NodeKind string

const (
	KindFile   NodeKind = "file"
	KindFolder NodeKind = "folder"
)

// Node represents a file or folder in the remote hierarchy.
// All Node state originates from server responses; the client never
// mutates size or type locally.
type Node struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Type      NodeKind  `json:"type"`
	ParentID  string    `json:"parentFolder,omitempty"` // empty = root
	Path      string    `json:"path"`
	Size      int64     `json:"size,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsFolder returns true if the node is a folder.
func (n *Node) IsFolder() bool {
	return n.Type == KindFolder
}

// User is the authenticated account profile.
type User struct {
	ID           string `json:"_id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	StorageUsed  int64  `json:"storageUsed"`
	StorageLimit int64  `json:"storageLimit,omitempty"`
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count as a human-readable string ("1.5 MB").
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	s := strconv.FormatFloat(v, 'f', 2, 64)
	// Trim trailing zeros so 5.00 reads as 5, matching the web client.
	f, _ := strconv.ParseFloat(s, 64)
	return fmt.Sprintf("%v %s", f, sizeUnits[i])
}
