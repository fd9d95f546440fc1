package service

import (
	"context"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

// Journal records conversation activity. Publishing is best-effort.
type Journal interface {
	Publish(ctx context.Context, event *model.ConversationEvent) error
}

type nopJournal struct{}

func (nopJournal) Publish(context.Context, *model.ConversationEvent) error { return nil }

// ActivityReader reads journaled activity back.
type ActivityReader interface {
	Recent(ctx context.Context, tenantID, sessionID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, error)
}
