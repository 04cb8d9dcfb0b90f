package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

// CollectionSessions is the root collection of all session documents
const CollectionSessions = "sessions"

// TimestampLayout is fixed-width UTC so string order equals time order
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Record kinds, used as sub-collection names and metric labels
const (
	KindDistortions = "cognitive_distortions"
	KindTasks       = "tasks"
	KindSummary     = "summary"
	KindResources   = "resources"
)

var slotDocIDs = map[string]string{
	KindDistortions: models.DistortionsDocID,
	KindTasks:       models.TasksDocID,
	KindSummary:     models.SummaryDocID,
	KindResources:   models.ResourcesDocID,
}

// SessionRepository keeps one document per record kind under sessions/{id}.
//
// Distortions and tasks are append-only lists; summary and resources are replaced on
// every write. Appends are an unlocked read-modify-write: two concurrent appends to the
// same slot can lose one of them.
type SessionRepository struct {
	store   database.DocumentStore
	metrics *Metrics
	now     func() time.Time
}

// NewSessionRepository creates a repository over the given store
func NewSessionRepository(store database.DocumentStore, metrics *Metrics) *SessionRepository {
	return &SessionRepository{
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock replaces the time source used for timestamps
func (r *SessionRepository) SetClock(now func() time.Time) {
	r.now = now
}

func (r *SessionRepository) timestamp() string {
	return r.now().UTC().Format(TimestampLayout)
}

// ValidateSessionID rejects ids that cannot address a session document
func ValidateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return NewValidationError("No session id provided")
	}
	if err := database.ValidateSegment(sessionID); err != nil {
		return NewValidationError(fmt.Sprintf("Invalid session id %q", sessionID))
	}
	return nil
}

func slotPath(sessionID, kind string) (string, error) {
	return database.DocPath(CollectionSessions, sessionID, kind, slotDocIDs[kind])
}

// AppendDistortions adds distortion tags to the session's list in arrival order.
// Blank tags are dropped; a write with no remaining tags is rejected.
func (r *SessionRepository) AppendDistortions(ctx context.Context, sessionID string, distortions []string) (models.WriteResult, error) {
	items := make([]string, 0, len(distortions))
	for _, d := range distortions {
		if d = strings.TrimSpace(d); d != "" {
			items = append(items, d)
		}
	}
	if len(items) == 0 {
		return failed(models.DistortionsDocID), NewValidationError("No cognitive distortions provided")
	}

	return r.appendItems(ctx, sessionID, KindDistortions, "distortions", items)
}

// AppendTask adds one task to the session's task list
func (r *SessionRepository) AppendTask(ctx context.Context, sessionID, task string) (models.WriteResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return failed(models.TasksDocID), NewValidationError("No task provided")
	}

	return r.appendItems(ctx, sessionID, KindTasks, "tasks", []string{task})
}

func (r *SessionRepository) appendItems(ctx context.Context, sessionID, kind, field string, items []string) (models.WriteResult, error) {
	docID := slotDocIDs[kind]
	if err := ValidateSessionID(sessionID); err != nil {
		return failed(docID), err
	}

	path, err := slotPath(sessionID, kind)
	if err != nil {
		return failed(docID), NewValidationError(err.Error())
	}

	err = r.writeAppend(ctx, sessionID, path, field, items)
	r.metrics.RecordSessionWrite(kind, err)
	if err != nil {
		log.Printf("❌ [SESSION] Failed to append %s for session %s: %v", kind, sessionID, err)
		return failed(docID), NewStorageError(fmt.Sprintf("failed to save %s", kind), err)
	}

	return models.WriteResult{DocumentID: docID, Status: models.SaveStatusSuccess}, nil
}

func (r *SessionRepository) writeAppend(ctx context.Context, sessionID, path, field string, items []string) error {
	existing, exists, err := r.store.GetDocument(ctx, path)
	if err != nil {
		return err
	}

	ts := r.timestamp()
	if err := r.touchSession(ctx, sessionID, ts); err != nil {
		return err
	}

	if !exists {
		return r.store.SetDocument(ctx, path, map[string]any{
			"sessionId": sessionID,
			"timestamp": ts,
			field:       items,
		})
	}

	merged := append(stringList(existing[field]), items...)
	return r.store.UpdateDocument(ctx, path, map[string]any{
		"timestamp": ts,
		field:       merged,
	})
}

// SaveSummary replaces the session summary
func (r *SessionRepository) SaveSummary(ctx context.Context, sessionID string, in models.SummaryInput) (models.WriteResult, error) {
	distortions := in.IdentifiedCognitiveDistortions
	if distortions == nil {
		distortions = []string{}
	}

	return r.overwrite(ctx, sessionID, KindSummary, func(ts string) map[string]any {
		return map[string]any{
			"sessionId":            sessionID,
			"timestamp":            ts,
			"summary":              in.ConversationSummary,
			"cognitiveDistortions": distortions,
			"suggestedExercises":   in.SuggestedExercises,
		}
	})
}

// SaveResources replaces the session resources with the result of one fetch.
// An empty list is stored as such and reads back as found.
func (r *SessionRepository) SaveResources(ctx context.Context, sessionID, query string, resources []models.Resource) (models.WriteResult, error) {
	if resources == nil {
		resources = []models.Resource{}
	}

	return r.overwrite(ctx, sessionID, KindResources, func(ts string) map[string]any {
		return map[string]any{
			"sessionId": sessionID,
			"timestamp": ts,
			"query":     query,
			"resources": toDocumentList(resources),
		}
	})
}

func (r *SessionRepository) overwrite(ctx context.Context, sessionID, kind string, build func(ts string) map[string]any) (models.WriteResult, error) {
	docID := slotDocIDs[kind]
	if err := ValidateSessionID(sessionID); err != nil {
		return failed(docID), err
	}

	path, err := slotPath(sessionID, kind)
	if err != nil {
		return failed(docID), NewValidationError(err.Error())
	}

	ts := r.timestamp()
	err = r.touchSession(ctx, sessionID, ts)
	if err == nil {
		err = r.store.SetDocument(ctx, path, build(ts))
	}
	r.metrics.RecordSessionWrite(kind, err)
	if err != nil {
		log.Printf("❌ [SESSION] Failed to save %s for session %s: %v", kind, sessionID, err)
		return failed(docID), NewStorageError(fmt.Sprintf("failed to save %s", kind), err)
	}

	return models.WriteResult{DocumentID: docID, Status: models.SaveStatusSuccess}, nil
}

// touchSession writes the parent document so the session shows up in listings
func (r *SessionRepository) touchSession(ctx context.Context, sessionID, ts string) error {
	path, err := database.DocPath(CollectionSessions, sessionID)
	if err != nil {
		return err
	}
	doc, err := toDocument(models.SessionMeta{SessionID: sessionID, UpdatedAt: ts})
	if err != nil {
		return err
	}
	return r.store.SetDocument(ctx, path, doc)
}

// GetDistortions returns the session's distortion list or a not-found error
func (r *SessionRepository) GetDistortions(ctx context.Context, sessionID string) (*models.DistortionsRecord, error) {
	var rec models.DistortionsRecord
	if err := r.read(ctx, sessionID, KindDistortions, &rec); err != nil {
		return nil, err
	}
	rec.ID = models.DistortionsDocID
	rec.SessionID = sessionID
	if rec.Distortions == nil {
		rec.Distortions = []string{}
	}
	return &rec, nil
}

// GetTasks returns the session's task list or a not-found error
func (r *SessionRepository) GetTasks(ctx context.Context, sessionID string) (*models.TasksRecord, error) {
	var rec models.TasksRecord
	if err := r.read(ctx, sessionID, KindTasks, &rec); err != nil {
		return nil, err
	}
	rec.ID = models.TasksDocID
	rec.SessionID = sessionID
	if rec.Tasks == nil {
		rec.Tasks = []string{}
	}
	return &rec, nil
}

// GetSummary returns the session summary; its ID is the session id
func (r *SessionRepository) GetSummary(ctx context.Context, sessionID string) (*models.SummaryRecord, error) {
	var rec models.SummaryRecord
	if err := r.read(ctx, sessionID, KindSummary, &rec); err != nil {
		return nil, err
	}
	rec.ID = sessionID
	rec.SessionID = sessionID
	if rec.CognitiveDistortions == nil {
		rec.CognitiveDistortions = []string{}
	}
	return &rec, nil
}

// GetResources returns the stored resources or a not-found error
func (r *SessionRepository) GetResources(ctx context.Context, sessionID string) (*models.ResourcesRecord, error) {
	var rec models.ResourcesRecord
	if err := r.read(ctx, sessionID, KindResources, &rec); err != nil {
		return nil, err
	}
	rec.ID = models.ResourcesDocID
	rec.SessionID = sessionID
	if rec.Resources == nil {
		rec.Resources = []models.Resource{}
	}
	return &rec, nil
}

func (r *SessionRepository) read(ctx context.Context, sessionID, kind string, out any) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	path, err := slotPath(sessionID, kind)
	if err != nil {
		return NewValidationError(err.Error())
	}

	data, exists, err := r.store.GetDocument(ctx, path)
	if err != nil {
		r.metrics.RecordSessionRead(kind, "error")
		return NewStorageError(fmt.Sprintf("failed to read %s", kind), err)
	}
	if !exists {
		r.metrics.RecordSessionRead(kind, "not_found")
		return NewNotFoundError(fmt.Sprintf("no %s stored for session %s", kind, sessionID))
	}
	r.metrics.RecordSessionRead(kind, "found")

	if err := fromDocument(data, out); err != nil {
		return NewStorageError(fmt.Sprintf("malformed %s document", kind), err)
	}
	return nil
}

// ListSessions enumerates every session that has received at least one write
func (r *SessionRepository) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	for ref, err := range r.store.ListDocuments(ctx, CollectionSessions) {
		if err != nil {
			return nil, NewStorageError("failed to list sessions", err)
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// ListSummaries returns every stored summary, newest first.
// Sessions without a summary are skipped; equal timestamps keep enumeration order.
func (r *SessionRepository) ListSummaries(ctx context.Context) ([]models.SummaryRecord, error) {
	ids, err := r.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SummaryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetSummary(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *rec)
	}

	slices.SortStableFunc(summaries, func(a, b models.SummaryRecord) int {
		return strings.Compare(b.Timestamp, a.Timestamp)
	})
	return summaries, nil
}

func failed(docID string) models.WriteResult {
	return models.WriteResult{DocumentID: docID, Status: models.SaveStatusError}
}

// stringList reads a stored list field, skipping non-string entries
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return slices.Clone(list)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func toDocumentList(resources []models.Resource) []map[string]any {
	out := make([]map[string]any, 0, len(resources))
	for _, res := range resources {
		doc := map[string]any{
			"url":   res.URL,
			"title": res.Title,
			"text":  res.Text,
		}
		if res.Image != "" {
			doc["image"] = res.Image
		}
		out = append(out, doc)
	}
	return out
}

// toDocument flattens a record into the plain JSON map the stores accept
func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
