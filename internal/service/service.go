// Package service implements the conversation and message business rules.
package service

import (
	"teamchat/internal/event"
)

// RealtimeNotifier fans server-initiated events out to the live connections
// of specific actors. The gateway implements it; services treat delivery as
// best effort.
type RealtimeNotifier interface {
	NotifyActors(employeeIDs []string, ev event.WsEvent)
}

// NoopNotifier discards events. Used when the gateway is not wired, and in
// tests.
type NoopNotifier struct{}

func (NoopNotifier) NotifyActors([]string, event.WsEvent) {}

// ListOptions is the page window for conversation listings; Type optionally
// filters by conversation type.
type ListOptions struct {
	Page  int64
	Limit int64
	Type  string
}

// AddResult reports which participants an add actually inserted; ids already
// present are skipped, not errors.
type AddResult struct {
	AddedParticipants []string `json:"addedParticipants"`
	Count             int      `json:"count"`
}
