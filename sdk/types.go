package parley

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StructuredData carries the optional card payload attached to an assistant
// turn (project lists, publications, and similar renderable items).
type StructuredData struct {
	Items    []map[string]any `json:"items"`
	ItemType string           `json:"item_type"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Turn is one entry of the append-only conversation log.
//
// MessageID is set only on assistant turns created with a pending
// enhancement; it is the sole join key for matching the later enhancement
// result back to this turn.
type Turn struct {
	Role               Role            `json:"role"`
	Content            string          `json:"content"`
	Structured         *StructuredData `json:"structured_data,omitempty"`
	MessageID          string          `json:"message_id,omitempty"`
	EnhancementPending bool            `json:"enhancement_pending,omitempty"`
	Enhanced           bool            `json:"enhanced,omitempty"`
	IsError            bool            `json:"is_error,omitempty"`
}

// HistoryEntry is the trimmed turn representation sent as query context.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// QueryRequest is the payload of POST /query.
type QueryRequest struct {
	Text                string         `json:"text"`
	SessionID           string         `json:"session_id"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	UserID              string         `json:"user_id"`
}

// Enhancement status values reported by the backend.
const (
	EnhancementPending   = "pending"
	EnhancementNone      = "none"
	EnhancementCompleted = "completed"
	EnhancementFailed    = "failed"
	EnhancementTimeout   = "timeout"
)

// LLMEnhancement announces that a slower, higher-quality answer may follow
// the fast synchronous one.
type LLMEnhancement struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

// QueryResponse is the backend's answer to a query.
type QueryResponse struct {
	Response       string           `json:"response"`
	Items          []map[string]any `json:"items,omitempty"`
	ItemType       string           `json:"item_type,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	LLMEnhancement *LLMEnhancement  `json:"llm_enhancement,omitempty"`
}

// structured extracts the card payload of a response, or nil when the
// response carries none.
func (r *QueryResponse) structured() *StructuredData {
	if len(r.Items) == 0 && r.ItemType == "" {
		return nil
	}
	return &StructuredData{
		Items:    r.Items,
		ItemType: r.ItemType,
		Metadata: r.Metadata,
	}
}

// EnhancementResult is the body of GET /enhancement/{task_id}.
type EnhancementResult struct {
	Status string         `json:"status"`
	Result *QueryResponse `json:"result,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type transcriptionResponse struct {
	Transcription string `json:"transcription"`
}
