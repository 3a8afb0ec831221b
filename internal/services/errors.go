// Package services defines the business logic for conversations, messages,
// sharing, language operations, and feedback. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Conversation-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyMessage is returned when a send-message request carries neither
	// text nor a file.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrInvalidMode is returned when a requested conversation mode is not
	// one of NORMAL or AGENTIC.
	ErrInvalidMode = errors.New("invalid conversation mode")

	// ErrUpstreamTimeout is returned when the AI backend did not answer within
	// the configured deadline. The hosted backend sleeps when idle, so this is
	// a retryable condition, not a hard failure.
	ErrUpstreamTimeout = errors.New("ai backend timed out")

	// ErrUpstreamFailed is returned when the AI backend answered with an error
	// or could not be reached at all.
	ErrUpstreamFailed = errors.New("ai backend request failed")
)

// Share-link errors, ordered the way the read path checks them.
var (
	// ErrShareLinkNotFound indicates that no link exists for the given token.
	ErrShareLinkNotFound = errors.New("share link not found")

	// ErrSharingDisabled indicates the link owner has sharing switched off
	// account-wide.
	ErrSharingDisabled = errors.New("sharing is disabled for this user")

	// ErrConversationNotShared indicates the conversation behind the link is
	// no longer marked as shared.
	ErrConversationNotShared = errors.New("conversation is not shared")

	// ErrShareLinkExpired indicates the link's expiry has passed.
	ErrShareLinkExpired = errors.New("share link has expired")

	// ErrShareViewLimit indicates the link's view budget is spent.
	ErrShareViewLimit = errors.New("share link view limit reached")
)

// Feedback-related errors.
var (
	// ErrInvalidFeedback is returned when a feedback value is outside the
	// allowed set (currently -1 or 1).
	ErrInvalidFeedback = errors.New("feedback value must be -1 or 1")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbiddenFeedback is returned when a user attempts to leave feedback
	// on a message they are not permitted to rate.
	ErrForbiddenFeedback = errors.New("cannot leave feedback on this message")

	// ErrDuplicateFeedback is returned when a user attempts to leave feedback
	// on a message that they have already rated.
	ErrDuplicateFeedback = errors.New("feedback already exists")
)
