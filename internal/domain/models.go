// Package domain defines the persistence models for conversations, messages,
// share links, and users. These types are mapped with GORM and form the core
// data layer of the application.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Conversation modes. NORMAL is plain chat with rolling-summary support;
// AGENTIC routes messages through the tool-using agent, optionally bound to
// an uploaded document and an upstream session.
const (
	ModeNormal  = "NORMAL"
	ModeAgentic = "AGENTIC"
)

// Message roles.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Conversation represents a chat thread owned by a user. It carries the
// orchestration state the AI backend needs across turns: the selected mode,
// an optionally bound document, an upstream session id, and a rolling summary.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the owner; indexed for efficient retrieval.
//   - Title: human-readable title (defaulted when not provided).
//   - Mode: NORMAL or AGENTIC (enforced by DB constraint).
//   - DocumentID / DocumentName: document bound by a previous upload, reused
//     across agentic turns without re-upload.
//   - SessionID: opaque upstream session correlating agentic turns.
//   - Summary / SummaryUpdatedAt: rolling summary maintained in NORMAL mode.
//   - IsShared: per-conversation toggle gating share-link reads.
//   - LastMessageAt: stamped on every message exchange; drives list ordering.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Conversation struct {
	ID               string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID           string         `json:"user_id"            gorm:"type:varchar(64);not null;index:idx_user_conversations"`
	Title            string         `json:"title"              gorm:"type:varchar(255);not null;default:'New chat'"`
	Mode             string         `json:"mode"               gorm:"type:varchar(16);not null;default:'NORMAL';check:mode IN ('NORMAL','AGENTIC')"`
	DocumentID       *string        `json:"document_id,omitempty"   gorm:"type:varchar(128)"`
	DocumentName     *string        `json:"document_name,omitempty" gorm:"type:varchar(255)"`
	SessionID        *string        `json:"session_id,omitempty"    gorm:"type:varchar(128)"`
	Summary          *string        `json:"summary,omitempty"       gorm:"type:text"`
	SummaryUpdatedAt *time.Time     `json:"summary_updated_at,omitempty"`
	IsShared         bool           `json:"is_shared"          gorm:"not null;default:false"`
	LastMessageAt    *time.Time     `json:"last_message_at,omitempty" gorm:"index"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message represents a single utterance within a conversation, authored by
// either the user or the assistant. Messages are immutable once created and
// are cascade-deleted with their conversation.
//
// Attachments holds the filenames sent alongside a user message. Metadata
// carries the normalized upstream response summary (tool usage, timings,
// cache-hit flag, resolved document id) for assistant messages.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	Role           string         `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('USER','ASSISTANT')"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	Attachments    datatypes.JSON `json:"attachments,omitempty" gorm:"type:text"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"    gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	// Conversation is the parent thread. Messages are cascade-deleted if
	// their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// SharedLink is a token-gated, unauthenticated read view of a conversation.
// At most one link exists per (user, conversation) pair (enforced by unique
// index); the link is minted lazily and reused on re-enable.
//
// A link is usable only while the owner's ShareEnabled flag and the
// conversation's IsShared flag are both true, it is unexpired, and its view
// counter has not reached MaxViews (when set).
type SharedLink struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID         string         `json:"user_id"         gorm:"type:varchar(64);not null;index;uniqueIndex:ux_share_user_conversation,priority:1"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;uniqueIndex:ux_share_user_conversation,priority:2"`
	Token          string         `json:"token"           gorm:"type:varchar(64);not null;uniqueIndex:ux_share_token"`
	ViewCount      int            `json:"view_count"      gorm:"not null;default:0"`
	MaxViews       *int           `json:"max_views,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	// Conversation is the shared thread. Links are cascade-deleted if the
	// conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SharedLink.
func (SharedLink) TableName() string { return "shared_links" }

// User holds the minimal account state this service owns: display identity
// and the global sharing toggle consulted by the share-link read path.
// Registration and authentication live elsewhere; rows here are provisioned
// lazily on first use.
type User struct {
	ID           string         `json:"id"            gorm:"type:varchar(64);primaryKey"`
	Name         string         `json:"name"          gorm:"type:varchar(255)"`
	Email        string         `json:"email"         gorm:"type:varchar(255)"`
	ShareEnabled bool           `json:"share_enabled" gorm:"not null;default:false"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Feedback represents a user-provided rating on a specific assistant message.
// A user can only leave one feedback entry per message (enforced by unique index).
type Feedback struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	MessageID string         `json:"message_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_message_user"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index;uniqueIndex:ux_feedback_message_user"`
	Value     int            `json:"value"      gorm:"not null;check:value IN (-1,1)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Message is the rated assistant message. Feedback is cascade-deleted
	// if the underlying message is removed.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }
