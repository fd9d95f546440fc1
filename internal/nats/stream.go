package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

const (
	// StreamName is the name of the activity stream.
	StreamName = "MEMHUB_ACTIVITY"

	// SubjectPrefix is the prefix for all activity subjects.
	SubjectPrefix = "memhub"

	// newChatToken stands in for the session of a turn that has none yet.
	newChatToken = "_new"
)

// Journal publishes conversation activity to JetStream.
type Journal struct {
	client *Client
}

// NewJournal creates a journal on client.
func NewJournal(client *Client) *Journal {
	return &Journal{client: client}
}

// EnsureStream creates the activity stream when it does not exist.
func (j *Journal) EnsureStream(ctx context.Context) error {
	js := j.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Memory Hub client activity",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	j.client.logger.Info("created activity stream", zap.String("stream", StreamName))
	return nil
}

// EventSubject returns the subject for an activity event.
func EventSubject(tenantID, sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, token(tenantID), sessionToken(sessionID), eventType)
}

// SessionFilter matches every event of one session, or of the whole tenant
// when sessionID is empty.
func SessionFilter(tenantID, sessionID string) string {
	if sessionID == "" {
		return fmt.Sprintf("%s.%s.>", SubjectPrefix, token(tenantID))
	}
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(tenantID), sessionToken(sessionID))
}

// token makes s usable as a single subject token.
func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

func sessionToken(sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		return newChatToken
	}
	return token(sessionID)
}

// Publish publishes an activity event.
func (j *Journal) Publish(ctx context.Context, event *model.ConversationEvent) error {
	subject := EventSubject(event.TenantID, event.SessionID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := j.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to limit events of a tenant, or of one session, oldest
// first, starting after sequence afterSequence. It also returns the last
// sequence read.
func (j *Journal) Recent(ctx context.Context, tenantID, sessionID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SessionFilter(tenantID, sessionID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := j.client.JetStream().OrderedConsumer(ctx, StreamName, cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch events: %w", err)
	}

	var (
		events       []model.ConversationEvent
		lastSequence uint64
	)
	for msg := range batch.Messages() {
		var evt model.ConversationEvent
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			j.client.logger.Debug("skipping undecodable activity event", zap.Error(err))
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		events = append(events, evt)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, 0, fmt.Errorf("failed to read events: %w", err)
	}

	return events, lastSequence, nil
}
