package models

// Slot document ids under sessions/{id}/<collection>/
const (
	DistortionsDocID = "distortions_doc"
	TasksDocID       = "tasks_doc"
	SummaryDocID     = "summary_doc"
	ResourcesDocID   = "resources_doc"
)

// SaveStatus is the outcome reported to the voice agent after a write
type SaveStatus string

const (
	SaveStatusSuccess SaveStatus = "success"
	SaveStatusError   SaveStatus = "error"
)

// WriteResult identifies the slot a write landed in
type WriteResult struct {
	DocumentID string     `json:"documentId"`
	Status     SaveStatus `json:"status"`
}

// DistortionsRecord is the append-only list of cognitive distortion tags of a session
type DistortionsRecord struct {
	ID          string   `json:"id,omitempty"`
	SessionID   string   `json:"sessionId"`
	Timestamp   string   `json:"timestamp"`
	Distortions []string `json:"distortions"`
}

// TasksRecord is the append-only list of tasks agreed during a session
type TasksRecord struct {
	ID        string   `json:"id,omitempty"`
	SessionID string   `json:"sessionId"`
	Timestamp string   `json:"timestamp"`
	Tasks     []string `json:"tasks"`
}

// SummaryRecord is the closing summary of a session; each write replaces it
type SummaryRecord struct {
	ID                   string   `json:"id,omitempty"`
	SessionID            string   `json:"sessionId"`
	Timestamp            string   `json:"timestamp"`
	Summary              string   `json:"summary"`
	CognitiveDistortions []string `json:"cognitiveDistortions"`
	SuggestedExercises   string   `json:"suggestedExercises"`
}

// SummaryInput carries the fields the agent sends with summarizeConversation
type SummaryInput struct {
	ConversationSummary            string   `json:"conversationSummary"`
	IdentifiedCognitiveDistortions []string `json:"identifiedCognitiveDistortions"`
	SuggestedExercises             string   `json:"suggestedExercises"`
}

// ResourcesRecord holds the result of the latest background resource fetch
type ResourcesRecord struct {
	ID        string     `json:"id,omitempty"`
	SessionID string     `json:"sessionId"`
	Timestamp string     `json:"timestamp"`
	Query     string     `json:"query,omitempty"`
	Resources []Resource `json:"resources"`
}

// Resource is one reading suggestion stored for the front-end
type Resource struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// SessionMeta is the parent document written at sessions/{id}
type SessionMeta struct {
	SessionID string `json:"sessionId"`
	UpdatedAt string `json:"updatedAt"`
}
