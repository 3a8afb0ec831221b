// Package services – ChatService
//
// This file implements ChatService, the orchestrator that owns the lifecycle
// of conversations and message exchanges. It validates inputs, enforces
// ownership, runs the cache gate in front of the AI backend, dispatches each
// turn to the right upstream operation based on conversation state (mode,
// bound document, upstream session), and persists the user/assistant message
// pair together with any state transitions in one transaction.
//
// Conversation state is only advanced after a successful upstream call: a
// failed or timed-out AI request leaves no messages and no state changes
// behind, so the client can retry the same request safely.
//
// Observability: the heavier public methods are OpenTelemetry-instrumented;
// spans include conversation/user identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/casemate/go-conversation-backend/internal/aiclient"
	"github.com/casemate/go-conversation-backend/internal/cache"
	"github.com/casemate/go-conversation-backend/internal/domain"
	"github.com/casemate/go-conversation-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// historyWindowDefault bounds how many prior messages accompany a
	// plain-chat request upstream.
	historyWindowDefault = 20

	// default titles we consider placeholders and eligible for auto-generation
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"

	// listCacheName is the per-user cache slot holding the conversation listing.
	listCacheName = "conversations"
)

// AIClient is the upstream contract ChatService depends on. *aiclient.Client
// satisfies it; tests substitute fakes.
type AIClient interface {
	// Chat sends a plain-chat turn with history and an optional rolling summary.
	Chat(ctx context.Context, prompt string, history []aiclient.HistoryMessage, summary string) (*aiclient.Response, error)

	// AgentChat sends an agentic turn, optionally continuing a session and/or
	// targeting a bound document.
	AgentChat(ctx context.Context, message, sessionID, documentID string) (*aiclient.Response, error)

	// AgentUploadAndChat uploads file bytes and asks an initial question about
	// them in one request.
	AgentUploadAndChat(ctx context.Context, file []byte, fileName, initialMessage, sessionID, inputLanguage, outputLanguage string) (*aiclient.Response, error)
}

// Cache is the caching contract ChatService depends on. *cache.ResponseCache
// satisfies it; tests substitute fakes. All methods must tolerate absence of
// a backing store (miss/no-op).
type Cache interface {
	GetAIResponse(ctx context.Context, prompt, mode string) (*aiclient.Response, bool, error)
	SetAIResponse(ctx context.Context, prompt, mode string, resp *aiclient.Response) error
	GetUserData(ctx context.Context, userID, name string, out any) (bool, error)
	SetUserData(ctx context.Context, userID, name string, v any) error
	ClearUserCache(ctx context.Context, userID string) error
}

var (
	_ AIClient = (*aiclient.Client)(nil)
	_ Cache    = (*cache.ResponseCache)(nil)
)

// FileUpload carries an uploaded document alongside a send-message request.
type FileUpload struct {
	Name string
	Data []byte
}

// ConversationState is the post-exchange orchestration state returned to the
// client so it can surface the bound document and session.
type ConversationState struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// CreateConversationInput holds the optional fields accepted when creating a
// conversation. A zero value is valid and yields a fresh NORMAL conversation.
type CreateConversationInput struct {
	ID           string
	Title        string
	Mode         string
	DocumentID   string
	DocumentName string
	SessionID    string
}

// ConversationListItem is one row of the cached conversation listing,
// including a short preview of the latest message.
type ConversationListItem struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Mode          string     `json:"mode"`
	IsShared      bool       `json:"is_shared"`
	DocumentName  *string    `json:"document_name,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Preview       string     `json:"preview,omitempty"`
}

// ChatService coordinates conversations, the cache gate, and the AI backend.
type ChatService struct {
	DB    *gorm.DB
	AI    AIClient
	Cache Cache

	// HistoryWindow caps how many prior messages are replayed upstream.
	HistoryWindow int

	// Title generation config
	TitleMaxLen int
	TitleLocale language.Tag
}

// NewChatService constructs a ChatService with sane defaults.
func NewChatService(db *gorm.DB, ai AIClient, c Cache) *ChatService {
	return &ChatService{
		DB:            db,
		AI:            ai,
		Cache:         c,
		HistoryWindow: historyWindowDefault,
		TitleMaxLen:   60,
		TitleLocale:   language.Und,
	}
}

// CreateConversation inserts a new conversation owned by userID. Titles are
// normalized, trimmed, clipped, and a default fallback is applied. An invalid
// mode is rejected; an empty one defaults to NORMAL. Clients may supply their
// own id plus an initial document/session binding (e.g. after an out-of-band
// upload).
func (s *ChatService) CreateConversation(ctx context.Context, userID string, in CreateConversationInput) (*domain.Conversation, error) {
	title := normalizeTitle(in.Title)
	if title == "" {
		title = defaultTitleNew
	}

	mode, err := normalizeMode(in.Mode)
	if err != nil {
		return nil, err
	}

	conv := &domain.Conversation{
		ID:     strings.TrimSpace(in.ID),
		UserID: userID,
		Title:  s.clipTitle(title),
		Mode:   mode,
	}
	if v := strings.TrimSpace(in.DocumentID); v != "" {
		conv.DocumentID = &v
	}
	if v := strings.TrimSpace(in.DocumentName); v != "" {
		conv.DocumentName = &v
	}
	if v := strings.TrimSpace(in.SessionID); v != "" {
		conv.SessionID = &v
	}

	created, err := repo.CreateConversation(ctx, s.DB, conv)
	if err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, userID)
	return created, nil
}

// SendMessage runs one exchange: it resolves the conversation, consults the
// response cache, dispatches to the matching upstream operation, and persists
// the user and assistant messages plus any state transition atomically.
//
// The mode argument, when non-empty, switches the conversation for this and
// subsequent turns; a file forces AGENTIC regardless. The returned state
// reflects any document/session binding produced by this exchange.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID, text, mode string, file *FileUpload, inputLanguage, outputLanguage string) (*domain.Message, *ConversationState, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.Bool("has_file", file != nil),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" && file == nil {
		return nil, nil, ErrEmptyMessage
	}

	conv, err := repo.GetConversation(ctx, s.DB, conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrConversationNotFound
		}
		return nil, nil, err
	}

	effMode, err := effectiveMode(conv.Mode, mode, file != nil)
	if err != nil {
		return nil, nil, err
	}

	// Cache gate. File requests always reach the backend: uploads mutate
	// upstream state, so replaying a cached answer would skip the ingestion.
	var resp *aiclient.Response
	cached := false
	if file == nil {
		if hit, ok, cerr := s.cacheGetAI(ctx, text, effMode); cerr != nil {
			log.Warn().Err(cerr).Str("conversation_id", conv.ID).Msg("ai response cache lookup failed")
		} else if ok {
			resp = hit
			cached = true
			span.SetAttributes(attribute.Bool("cache.hit", true))
		}
	}

	if resp == nil {
		// History is a local read; load it before the upstream call so a DB
		// failure here is not reported as an AI backend error.
		var history []aiclient.HistoryMessage
		if file == nil && effMode != domain.ModeAgentic {
			history, err = s.history(ctx, conv.ID)
			if err != nil {
				return nil, nil, err
			}
		}
		resp, err = s.dispatch(ctx, conv, effMode, text, file, history, inputLanguage, outputLanguage)
		if err != nil {
			return nil, nil, mapUpstreamErr(err)
		}
		if file == nil {
			if cerr := s.cacheSetAI(ctx, text, effMode, resp); cerr != nil {
				log.Warn().Err(cerr).Str("conversation_id", conv.ID).Msg("ai response cache store failed")
			}
		}
	}

	content := resp.Text()
	if strings.TrimSpace(content) == "" {
		content = "AI response received but content could not be extracted."
	}

	metadata := resp.MetadataSummary()
	if cached {
		metadata["cached"] = true
	}
	if _, ok := metadata["document_id"]; !ok && conv.DocumentID != nil {
		metadata["document_id"] = *conv.DocumentID
	}

	now := time.Now().UTC()
	var assistant *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var attachments []string
		if file != nil {
			attachments = []string{file.Name}
		}
		if _, err := repo.CreateMessage(tx, conv.ID, domain.RoleUser, text, attachments, nil); err != nil {
			return err
		}
		m, err := repo.CreateMessage(tx, conv.ID, domain.RoleAssistant, content, nil, metadata)
		if err != nil {
			return err
		}
		assistant = m

		updates := map[string]any{"last_message_at": now}
		// State transitions come only from a live upstream exchange. A cached
		// response is shared across conversations and users (keyed by prompt
		// and mode), so its session/document/summary must never bind here.
		if !cached {
			if effMode != conv.Mode {
				updates["mode"] = effMode
			}
			if sid := resp.SessionID(); sid != "" && (conv.SessionID == nil || *conv.SessionID != sid) {
				updates["session_id"] = sid
			}
			if did := resp.DocumentID(); did != "" {
				updates["document_id"] = did
				if file != nil {
					updates["document_name"] = file.Name
				}
			}
			if resp.Kind == aiclient.KindChat && resp.Chat != nil && resp.Chat.UpdatedSummary != "" {
				updates["summary"] = resp.Chat.UpdatedSummary
				updates["summary_updated_at"] = now
			}
		}
		if s.shouldAutoTitle(conv.Title) && text != "" {
			if gen := s.generateTitle(text); gen != "" {
				updates["title"] = s.clipTitle(gen)
			}
		}
		return repo.UpdateConversation(ctx, tx, conv.ID, updates)
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidateUser(ctx, userID)

	state := &ConversationState{
		ID:         conv.ID,
		SessionID:  deref(conv.SessionID),
		DocumentID: deref(conv.DocumentID),
	}
	if !cached {
		if sid := resp.SessionID(); sid != "" {
			state.SessionID = sid
		}
		if did := resp.DocumentID(); did != "" {
			state.DocumentID = did
		}
	}
	return assistant, state, nil
}

// dispatch routes one turn to the upstream operation matching the
// conversation state. The decision depends only on inputs and loaded state,
// never on response shape. Every error it returns is an upstream failure;
// local reads (the history window) happen in the caller.
func (s *ChatService) dispatch(ctx context.Context, conv *domain.Conversation, mode, text string, file *FileUpload, history []aiclient.HistoryMessage, inputLanguage, outputLanguage string) (*aiclient.Response, error) {
	session := deref(conv.SessionID)

	switch {
	case file != nil:
		return s.AI.AgentUploadAndChat(ctx, file.Data, file.Name, text, session, inputLanguage, outputLanguage)
	case mode == domain.ModeAgentic:
		return s.AI.AgentChat(ctx, text, session, deref(conv.DocumentID))
	default:
		return s.AI.Chat(ctx, text, history, deref(conv.Summary))
	}
}

// history loads the newest window of messages in chronological order, with
// roles lowercased to the upstream convention.
func (s *ChatService) history(ctx context.Context, conversationID string) ([]aiclient.HistoryMessage, error) {
	window := s.HistoryWindow
	if window <= 0 {
		window = historyWindowDefault
	}
	msgs, err := repo.RecentMessages(s.DB.WithContext(ctx), conversationID, window)
	if err != nil {
		return nil, err
	}
	out := make([]aiclient.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, aiclient.HistoryMessage{
			Role:    strings.ToLower(m.Role),
			Content: m.Content,
		})
	}
	return out, nil
}

// GetConversations returns the user's conversations ordered by last activity,
// each with a short preview of its latest message. Listings are cached
// per-user and invalidated on every mutation.
func (s *ChatService) GetConversations(ctx context.Context, userID string) ([]ConversationListItem, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "GetConversations",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var items []ConversationListItem
	if s.Cache != nil {
		found, err := s.Cache.GetUserData(ctx, userID, listCacheName, &items)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("conversation list cache lookup failed")
		} else if found {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return items, nil
		}
	}

	convs, err := repo.ListConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}

	items = make([]ConversationListItem, 0, len(convs))
	for _, c := range convs {
		item := ConversationListItem{
			ID:            c.ID,
			Title:         c.Title,
			Mode:          c.Mode,
			IsShared:      c.IsShared,
			DocumentName:  c.DocumentName,
			LastMessageAt: c.LastMessageAt,
			CreatedAt:     c.CreatedAt,
		}
		if latest, err := repo.LatestMessage(s.DB.WithContext(ctx), c.ID); err == nil {
			item.Preview = clipRunes(latest.Content, 120)
		}
		items = append(items, item)
	}

	if s.Cache != nil {
		if err := s.Cache.SetUserData(ctx, userID, listCacheName, items); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("conversation list cache store failed")
		}
	}
	return items, nil
}

// GetConversationInfo returns a single conversation with its orchestration
// state, scoped to the owner.
func (s *ChatService) GetConversationInfo(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	conv, err := repo.GetConversation(ctx, s.DB, conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// GetConversationMessages returns the full ordered message history of a
// conversation, scoped to the owner.
func (s *ChatService) GetConversationMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	if _, err := repo.GetConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return repo.ListMessages(s.DB.WithContext(ctx), conversationID, 0)
}

// DeleteConversation removes a conversation owned by userID, along with its
// messages and share links.
func (s *ChatService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := repo.DeleteConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	s.invalidateUser(ctx, userID)
	return nil
}

// DeleteAllConversations removes every conversation owned by userID and
// returns how many were deleted.
func (s *ChatService) DeleteAllConversations(ctx context.Context, userID string) (int64, error) {
	n, err := repo.DeleteAllConversations(ctx, s.DB, userID)
	if err != nil {
		return 0, err
	}
	s.invalidateUser(ctx, userID)
	return n, nil
}

// --- cache plumbing ---

func (s *ChatService) cacheGetAI(ctx context.Context, prompt, mode string) (*aiclient.Response, bool, error) {
	if s.Cache == nil {
		return nil, false, nil
	}
	return s.Cache.GetAIResponse(ctx, prompt, mode)
}

func (s *ChatService) cacheSetAI(ctx context.Context, prompt, mode string, resp *aiclient.Response) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.SetAIResponse(ctx, prompt, mode, resp)
}

// invalidateUser drops the user's cached listings. Best effort: a stale entry
// expires on its own TTL anyway.
func (s *ChatService) invalidateUser(ctx context.Context, userID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.ClearUserCache(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("user cache invalidation failed")
	}
}

// --- mode and upstream error helpers ---

// effectiveMode resolves the mode for this turn: a file forces AGENTIC, an
// explicit request overrides the stored mode, otherwise the stored mode holds.
func effectiveMode(current, requested string, hasFile bool) (string, error) {
	if hasFile {
		return domain.ModeAgentic, nil
	}
	if strings.TrimSpace(requested) == "" {
		return current, nil
	}
	return normalizeMode(requested)
}

// normalizeMode validates a requested mode. Empty defaults to NORMAL.
func normalizeMode(mode string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "":
		return domain.ModeNormal, nil
	case domain.ModeNormal:
		return domain.ModeNormal, nil
	case domain.ModeAgentic:
		return domain.ModeAgentic, nil
	default:
		return "", ErrInvalidMode
	}
}

// mapUpstreamErr folds client-level failures into the two service sentinels
// handlers map to 503/502.
func mapUpstreamErr(err error) error {
	if errors.Is(err, aiclient.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var se *aiclient.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: upstream status %d", ErrUpstreamFailed, se.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
}

// --- title helpers ---

// shouldAutoTitle reports whether the current title is a placeholder.
func (s *ChatService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitle derives a concise title from the first prompt.
func (s *ChatService) generateTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocaleOrDefault())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a title to the configured maximum rune length.
func (s *ChatService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// titleLocaleOrDefault returns the configured locale for casing or English if unset.
func (s *ChatService) titleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// Extract Unicode letters with optional trailing numbers (e.g., "report2025").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}

// --- small utilities ---

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// clipRunes truncates s to at most n runes, appending an ellipsis when cut.
func clipRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
