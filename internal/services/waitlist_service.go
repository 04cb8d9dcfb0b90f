package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

// CollectionWaitlist holds one document per signed-up address
const CollectionWaitlist = "waitlist"

// WaitlistService records early-access sign-ups
type WaitlistService struct {
	store database.DocumentStore
	now   func() time.Time
}

// NewWaitlistService creates the service
func NewWaitlistService(store database.DocumentStore) *WaitlistService {
	return &WaitlistService{store: store, now: time.Now}
}

// WaitlistDocID derives a stable document id from the normalized address,
// so signing up twice updates the same entry
func WaitlistDocID(email string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:16])
}

// Add stores the address and returns the waitlist document id
func (s *WaitlistService) Add(ctx context.Context, email string) (string, error) {
	address, err := ParseEmailAddress(email)
	if err != nil {
		return "", err
	}

	docID := WaitlistDocID(address)
	path, err := database.DocPath(CollectionWaitlist, docID)
	if err != nil {
		return "", NewValidationError(err.Error())
	}

	entry := models.WaitlistEntry{
		Email:     address,
		Timestamp: s.now().UTC().Format(TimestampLayout),
	}
	if err := s.store.SetDocument(ctx, path, map[string]any{
		"email":     entry.Email,
		"timestamp": entry.Timestamp,
	}); err != nil {
		log.Printf("❌ [WAITLIST] Failed to add %s: %v", address, err)
		return "", NewStorageError("failed to save waitlist entry", fmt.Errorf("set %s: %w", path, err))
	}

	log.Printf("✅ [WAITLIST] Added %s", address)
	return docID, nil
}
