// Package files provides an in-memory implementation of the file
// metadata collaborator. Real deployments point the gateway at the file
// service; this implementation backs tests and local development.
package files

import (
	"context"
	"errors"
	"sync"

	"github.com/lumachat/gateway/internal/collab"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrNotOwner     = errors.New("file not owned by user")
	ErrUnverified   = errors.New("file metadata unverified")
)

// Memory is a map-backed collab.FileResolver.
type Memory struct {
	mu     sync.RWMutex
	files  map[string]*collab.FileInfo
	owners map[string]string
}

// NewMemory builds an empty resolver.
func NewMemory() *Memory {
	return &Memory{
		files:  make(map[string]*collab.FileInfo),
		owners: make(map[string]string),
	}
}

// Put registers a file with its owner.
func (m *Memory) Put(info *collab.FileInfo, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[info.ID] = info
	m.owners[info.ID] = ownerID
}

// ResolveOwned fetches metadata and verifies ownership.
func (m *Memory) ResolveOwned(_ context.Context, fileID, ownerID string) (*collab.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, err := m.lookup(fileID)
	if err != nil {
		return nil, err
	}
	if m.owners[fileID] != ownerID {
		return nil, ErrNotOwner
	}
	return info, nil
}

// ResolveBatch fetches metadata for several file ids; any unknown id
// fails the whole batch.
func (m *Memory) ResolveBatch(_ context.Context, fileIDs []string) ([]*collab.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*collab.FileInfo, 0, len(fileIDs))
	for _, id := range fileIDs {
		info, err := m.lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (m *Memory) lookup(fileID string) (*collab.FileInfo, error) {
	info, ok := m.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	if info.Size <= 0 || info.MimeType == "" {
		return nil, ErrUnverified
	}
	return info, nil
}
