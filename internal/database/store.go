package database

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"
)

// ErrDocumentNotFound is returned by UpdateDocument when the target does not exist
var ErrDocumentNotFound = errors.New("document not found")

// ErrInvalidPath is returned for paths with empty segments or the wrong parity
var ErrInvalidPath = errors.New("invalid document path")

// DocumentRef identifies one document inside a collection
type DocumentRef struct {
	ID   string
	Path string
}

// DocumentStore is a hierarchical document namespace:
// collection/document/collection/document/...
//
// Single-document operations are atomic. Nothing spans documents.
type DocumentStore interface {
	// GetDocument returns the document data, or exists=false when absent
	GetDocument(ctx context.Context, docPath string) (data map[string]any, exists bool, err error)

	// SetDocument fully replaces the document, creating it if absent
	SetDocument(ctx context.Context, docPath string, data map[string]any) error

	// UpdateDocument overwrites the given top-level fields of an existing document.
	// Returns ErrDocumentNotFound when the document does not exist.
	UpdateDocument(ctx context.Context, docPath string, data map[string]any) error

	// ListDocuments lazily yields the documents directly under a collection
	ListDocuments(ctx context.Context, collectionPath string) iter.Seq2[DocumentRef, error]

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DocPath joins segments into a document path (even number of segments)
func DocPath(segments ...string) (string, error) {
	if len(segments) == 0 || len(segments)%2 != 0 {
		return "", fmt.Errorf("%w: document path needs collection/document pairs, got %d segments", ErrInvalidPath, len(segments))
	}
	return joinSegments(segments)
}

// CollectionPath joins segments into a collection path (odd number of segments)
func CollectionPath(segments ...string) (string, error) {
	if len(segments)%2 != 1 {
		return "", fmt.Errorf("%w: collection path needs an odd number of segments, got %d", ErrInvalidPath, len(segments))
	}
	return joinSegments(segments)
}

// ValidateSegment rejects values that cannot be used as a single path segment
func ValidateSegment(segment string) error {
	if strings.TrimSpace(segment) == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.Contains(segment, "/") {
		return fmt.Errorf("%w: segment %q contains '/'", ErrInvalidPath, segment)
	}
	return nil
}

func joinSegments(segments []string) (string, error) {
	for _, s := range segments {
		if err := ValidateSegment(s); err != nil {
			return "", err
		}
	}
	return strings.Join(segments, "/"), nil
}

// splitDocPath returns the parent collection path and the document id
func splitDocPath(docPath string) (parent, id string, err error) {
	segments := strings.Split(docPath, "/")
	if len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, docPath)
	}
	if _, err := joinSegments(segments); err != nil {
		return "", "", err
	}
	return path.Dir(docPath), path.Base(docPath), nil
}

// validateCollectionPath checks a collection path before it is listed
func validateCollectionPath(collectionPath string) error {
	segments := strings.Split(collectionPath, "/")
	if len(segments)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, collectionPath)
	}
	_, err := joinSegments(segments)
	return err
}

// errSeq yields a single error
func errSeq(err error) iter.Seq2[DocumentRef, error] {
	return func(yield func(DocumentRef, error) bool) {
		yield(DocumentRef{}, err)
	}
}
