// Package services defines the business logic for sessions, messages, and
// webhooks. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Session-related errors.
var (
	// ErrSessionNotFound indicates that the requested session does not exist
	// or has been deactivated.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or does not belong to the current session.
	ErrMessageNotFound = errors.New("message not found")
)

// Message-dispatch validation errors.
var (
	// ErrRecipientRequired is returned when a send request has no recipient.
	ErrRecipientRequired = errors.New("recipient is required")

	// ErrTextRequired is returned when a text send request has no text body.
	ErrTextRequired = errors.New("text is required for text messages")

	// ErrMediaURLRequired is returned when a media send request has no media URL.
	ErrMediaURLRequired = errors.New("mediaUrl is required for media messages")

	// ErrUnsupportedType is returned when the message type is outside the
	// allowed set (text, image, video, audio, document).
	ErrUnsupportedType = errors.New("unsupported message type")
)

// Webhook configuration errors.
var (
	// ErrInvalidWebhookURL is returned when a webhook URL is not an absolute
	// http or https URL.
	ErrInvalidWebhookURL = errors.New("webhook url must be a valid http(s) URL")

	// ErrNoWebhookConfigured is returned when an operation requires a webhook
	// URL but none is configured for the session.
	ErrNoWebhookConfigured = errors.New("no webhook configured for this session")
)
