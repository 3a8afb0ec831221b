// Package aiclient provides the typed HTTP client for the remote AI inference
// backend, together with the response union and the normalization helpers
// that flatten heterogeneous upstream shapes into message content/metadata.
//
// The upstream distinguishes its response shapes structurally (field
// presence) rather than by an explicit tag. The discrimination happens
// exactly once, here at the client boundary: each call site knows which
// endpoint it hit and constructs a Response with the matching Kind, so
// consumers never re-infer the shape from field presence.
package aiclient

import "encoding/json"

// Kind identifies the upstream response shape carried by a Response.
type Kind string

const (
	// KindChat is the plain-chat response shape.
	KindChat Kind = "chat"
	// KindAgentChat is the agentic-chat response shape (session id, no document id).
	KindAgentChat Kind = "agent_chat"
	// KindUploadAndChat is the upload-and-chat shape (document id + agent_response).
	KindUploadAndChat Kind = "upload_and_chat"
)

// HistoryMessage is a single prior turn sent with plain-chat requests.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IntermediateStep is one tool invocation recorded by the agent. Result may
// be a bare string or a structured object (query_time, chunks_used,
// total_chunks, answer/sources, ...), so it is kept raw until inspected.
type IntermediateStep struct {
	Tool   string          `json:"tool"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ChatResponse is the plain-chat shape. UpdatedSummary, when present, is the
// refreshed rolling summary the caller should persist on the conversation.
type ChatResponse struct {
	Response       string `json:"response"`
	UpdatedSummary string `json:"updated_summary,omitempty"`
}

// AgentChatResponse is the agentic-chat shape. Response is kept raw because
// the upstream occasionally returns a structured object instead of a string.
type AgentChatResponse struct {
	Response          json.RawMessage    `json:"response"`
	SessionID         string             `json:"session_id"`
	ToolsUsed         []string           `json:"tools_used,omitempty"`
	IntermediateSteps []IntermediateStep `json:"intermediate_steps,omitempty"`
	RawResults        []json.RawMessage  `json:"raw_results,omitempty"`
	LanguageInfo      json.RawMessage    `json:"language_info,omitempty"`
}

// UploadAndChatResponse is the upload-and-chat shape: the document was
// ingested and the agent answered the initial message against it.
type UploadAndChatResponse struct {
	DocumentID        string             `json:"document_id"`
	StorageURL        string             `json:"storage_url,omitempty"`
	AgentResponse     json.RawMessage    `json:"agent_response"`
	SessionID         string             `json:"session_id"`
	ToolsUsed         []string           `json:"tools_used,omitempty"`
	IntermediateSteps []IntermediateStep `json:"intermediate_steps,omitempty"`
	RawResults        []json.RawMessage  `json:"raw_results,omitempty"`
	LanguageInfo      json.RawMessage    `json:"language_info,omitempty"`
	DeduplicationInfo json.RawMessage    `json:"deduplication_info,omitempty"`
}

// Response is the tagged union over the three upstream shapes. Exactly one
// of the payload pointers matching Kind is non-nil.
type Response struct {
	Kind   Kind                   `json:"kind"`
	Chat   *ChatResponse          `json:"chat,omitempty"`
	Agent  *AgentChatResponse     `json:"agent,omitempty"`
	Upload *UploadAndChatResponse `json:"upload,omitempty"`
}

// NewChatResponse wraps a plain-chat payload.
func NewChatResponse(p *ChatResponse) *Response { return &Response{Kind: KindChat, Chat: p} }

// NewAgentChatResponse wraps an agentic-chat payload.
func NewAgentChatResponse(p *AgentChatResponse) *Response {
	return &Response{Kind: KindAgentChat, Agent: p}
}

// NewUploadAndChatResponse wraps an upload-and-chat payload.
func NewUploadAndChatResponse(p *UploadAndChatResponse) *Response {
	return &Response{Kind: KindUploadAndChat, Upload: p}
}

// DetectLanguageResponse mirrors the upstream language-detection shape.
type DetectLanguageResponse struct {
	InputDetection struct {
		Language     string            `json:"language"`
		Confidence   float64           `json:"confidence"`
		Method       string            `json:"method"`
		Supported    bool              `json:"supported"`
		DisplayName  string            `json:"display_name"`
		Alternatives []json.RawMessage `json:"alternatives,omitempty"`
	} `json:"input_detection"`
	SuggestedOutput struct {
		Language    string `json:"language"`
		DisplayName string `json:"display_name"`
	} `json:"suggested_output"`
}

// TranslateResponse mirrors the upstream translation shape.
type TranslateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// DocGenResponse mirrors the upstream document-generation shape.
type DocGenResponse struct {
	DocumentContent string `json:"document_content"`
}
