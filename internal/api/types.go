// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the knowledge-base QA backend.
package api

import "time"

// =============================================================================
// CONTEXT TYPES
// =============================================================================

// Context is a server-tracked conversation thread.
type Context struct {
	ID           string    `json:"context_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	TurnCount    int       `json:"turn_count"`
	IsActive     bool      `json:"is_active"`
	Label        string    `json:"label,omitempty"`
}

// contextsResponse is the wire envelope for listing contexts.
type contextsResponse struct {
	Contexts   []Context `json:"contexts"`
	TotalCount int       `json:"total_count"`
}

// createContextResponse is the wire envelope for context creation.
type createContextResponse struct {
	Success   bool   `json:"success"`
	ContextID string `json:"context_id"`
	Message   string `json:"message"`
}

// switchContextRequest is the body for activating a context.
type switchContextRequest struct {
	ContextID string `json:"context_id"`
}

// =============================================================================
// TURN TYPES
// =============================================================================

// Source is a cited document fragment backing an assistant answer.
type Source struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Pages    []int  `json:"pages"`
}

// Turn is one completed question/answer round within a context.
type Turn struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Timestamp int64    `json:"timestamp"`
	Sources   []Source `json:"sources"`
	Feedback  string   `json:"feedback,omitempty"`
}

// TurnResponse is the full history of a context.
type TurnResponse struct {
	ContextLabel string `json:"context_label"`
	Turns        []Turn `json:"turns"`
}

// =============================================================================
// QUERY TYPES
// =============================================================================

// QueryRequest is a question issued against a context.
type QueryRequest struct {
	Question        string   `json:"question"`
	ContextID       string   `json:"context_id"`
	ActiveSources   []string `json:"active_sources,omitempty"`
	WebSearchActive bool     `json:"web_search_active"`
	SessionID       string   `json:"session_id,omitempty"`
	ContextLabel    string   `json:"context_label,omitempty"`
}

// QueryResponse is the non-streaming answer to a query.
type QueryResponse struct {
	Answer    string   `json:"answer"`
	ContextID string   `json:"context_id"`
	Sources   []Source `json:"sources"`
}

// =============================================================================
// STREAM EVENT TYPES
// =============================================================================

// EventType tags a StreamEvent.
type EventType string

const (
	EventStatus    EventType = "status"
	EventToken     EventType = "token"
	EventAnswer    EventType = "answer"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventSessionID EventType = "session_id"
)

// StreamEvent is one incremental unit of a streaming generation response.
// Which fields are meaningful depends on Type:
//
//	status     - Message
//	token      - Content (one incremental fragment)
//	answer     - Content (the complete answer, superseding prior tokens)
//	done       - Sources, ContextID, Reindexing (terminal)
//	error      - Message, Code (terminal)
//	session_id - SessionID (resumption token, may arrive at any point)
type StreamEvent struct {
	Type       EventType `json:"type"`
	Message    string    `json:"message,omitempty"`
	Content    string    `json:"content,omitempty"`
	Code       string    `json:"code,omitempty"`
	Sources    []Source  `json:"sources,omitempty"`
	ContextID  string    `json:"context_id,omitempty"`
	Reindexing bool      `json:"reindexing_in_progress,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// StreamCallback receives each decoded stream event in transport order.
type StreamCallback func(event StreamEvent)

// =============================================================================
// AUXILIARY TYPES
// =============================================================================

// FilterRulesResponse maps documentation versions to document filters,
// used to scope retrieval to the selected version.
type FilterRulesResponse struct {
	Versions map[string][]string `json:"versions"`
	Default  string              `json:"default,omitempty"`
}

// HealthResponse reports backend readiness.
type HealthResponse struct {
	Status               string `json:"status"`
	DocumentsLoaded      int    `json:"documents_loaded"`
	VectorDBInitialized  bool   `json:"vector_db_initialized"`
}

// FeedbackType rates a completed turn.
type FeedbackType string

const (
	FeedbackLike    FeedbackType = "like"
	FeedbackDislike FeedbackType = "dislike"
)

// feedbackRequest is the body for turn feedback.
type feedbackRequest struct {
	ContextID string       `json:"context_id"`
	TurnIndex int          `json:"turn_index"`
	Type      FeedbackType `json:"type"`
}

// OfferSourceRequest proposes a new document source for the knowledge base.
type OfferSourceRequest struct {
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// OfferSourceResponse acknowledges a proposed source.
type OfferSourceResponse struct {
	LinkID string `json:"link_id"`
}

// TokenResponse is returned by the auth endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
