package database

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreProbeDoc is read by Ping; it never needs to exist
const firestoreProbeDoc = "_health/probe"

// Firestore is a DocumentStore backed by Cloud Firestore, whose path model it mirrors directly
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to Firestore. The credentials file is used when present,
// otherwise application default credentials apply.
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err == nil {
			opts = append(opts, option.WithCredentialsFile(credentialsFile))
		} else {
			log.Printf("⚠️  Firestore credentials file %s not found, using default credentials", credentialsFile)
		}
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.Printf("✅ Connected to Firestore project: %s", projectID)
	return &Firestore{client: client}, nil
}

func (f *Firestore) doc(docPath string) (*firestore.DocumentRef, error) {
	if _, _, err := splitDocPath(docPath); err != nil {
		return nil, err
	}
	ref := f.client.Doc(docPath)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, docPath)
	}
	return ref, nil
}

func (f *Firestore) GetDocument(ctx context.Context, docPath string) (map[string]any, bool, error) {
	ref, err := f.doc(docPath)
	if err != nil {
		return nil, false, err
	}

	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get document %s: %w", docPath, err)
	}

	data, err := normalize(snap.Data())
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (f *Firestore) SetDocument(ctx context.Context, docPath string, data map[string]any) error {
	ref, err := f.doc(docPath)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set document %s: %w", docPath, err)
	}
	return nil
}

func (f *Firestore) UpdateDocument(ctx context.Context, docPath string, data map[string]any) error {
	ref, err := f.doc(docPath)
	if err != nil {
		return err
	}

	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}

	_, err = ref.Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", docPath, err)
	}
	return nil
}

func (f *Firestore) ListDocuments(ctx context.Context, collectionPath string) iter.Seq2[DocumentRef, error] {
	if err := validateCollectionPath(collectionPath); err != nil {
		return errSeq(err)
	}

	return func(yield func(DocumentRef, error) bool) {
		col := f.client.Collection(collectionPath)
		if col == nil {
			yield(DocumentRef{}, fmt.Errorf("%w: %q", ErrInvalidPath, collectionPath))
			return
		}

		// DocumentRefs includes parents that only exist through their subcollections
		it := col.DocumentRefs(ctx)
		for {
			ref, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(DocumentRef{}, fmt.Errorf("failed to list %s: %w", collectionPath, err))
				return
			}
			if !yield(DocumentRef{ID: ref.ID, Path: collectionPath + "/" + ref.ID}, nil) {
				return
			}
		}
	}
}

func (f *Firestore) Ping(ctx context.Context) error {
	_, err := f.client.Doc(firestoreProbeDoc).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

func (f *Firestore) Close(ctx context.Context) error {
	log.Println("🔌 Closing Firestore client...")
	return f.client.Close()
}
