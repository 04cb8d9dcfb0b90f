package database

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process DocumentStore used for development and tests.
// Values are normalized through JSON so reads look the same as on the networked backends.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]map[string]any        // path -> data
	children  map[string]map[string]struct{} // collection path -> doc ids
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]map[string]any),
		children:  make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) GetDocument(ctx context.Context, docPath string) (map[string]any, bool, error) {
	if _, _, err := splitDocPath(docPath); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	doc, ok := m.documents[docPath]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	data, err := normalize(doc)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *MemoryStore) SetDocument(ctx context.Context, docPath string, data map[string]any) error {
	parent, id, err := splitDocPath(docPath)
	if err != nil {
		return err
	}
	doc, err := normalize(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.documents[docPath] = doc
	if m.children[parent] == nil {
		m.children[parent] = make(map[string]struct{})
	}
	m.children[parent][id] = struct{}{}
	return nil
}

func (m *MemoryStore) UpdateDocument(ctx context.Context, docPath string, data map[string]any) error {
	if _, _, err := splitDocPath(docPath); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[docPath]
	if !ok {
		return ErrDocumentNotFound
	}
	merged := maps.Clone(doc)
	maps.Copy(merged, fields)
	m.documents[docPath] = merged
	return nil
}

// ListDocuments yields documents in id order from a snapshot taken at call time
func (m *MemoryStore) ListDocuments(ctx context.Context, collectionPath string) iter.Seq2[DocumentRef, error] {
	if err := validateCollectionPath(collectionPath); err != nil {
		return errSeq(err)
	}

	m.mu.RLock()
	ids := slices.Sorted(maps.Keys(m.children[collectionPath]))
	m.mu.RUnlock()

	return func(yield func(DocumentRef, error) bool) {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(DocumentRef{}, err)
				return
			}
			if !yield(DocumentRef{ID: id, Path: collectionPath + "/" + id}, nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// normalize deep-copies a document into plain JSON types
func normalize(data map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}
