package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/transport"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
	"github.com/capitalize-ai/memory-hub/pkg/metrics"
)

// InterruptedSuffix is appended to every partially saved answer.
const InterruptedSuffix = "\n\n> **⚠️ Conversation interrupted**  \n>"

// PartialSaver persists truncated answers.
type PartialSaver interface {
	SavePartial(ctx context.Context, id auth.Identity, req model.SavePartialRequest) error
}

// PartialRequest is what remains of an aborted turn.
type PartialRequest struct {
	SessionID   string
	ClientReqID string
	Text        string
	Reason      string
}

// Recovery flushes partial answers of aborted streams, at most once per
// client request id.
type Recovery struct {
	saver  PartialSaver
	auth   Authenticator
	logger *logger.Logger

	mu    sync.Mutex
	saved map[string]struct{}
}

// NewRecovery creates a partial-save recovery.
func NewRecovery(saver PartialSaver, authn Authenticator, log *logger.Logger) *Recovery {
	return &Recovery{
		saver:  saver,
		auth:   authn,
		logger: log,
		saved:  make(map[string]struct{}),
	}
}

// Save posts the partial answer when there is a session, an idempotency key
// and non-empty text, and the key has not been saved before. It reports
// whether the answer was stored. Failures are logged and swallowed.
func (r *Recovery) Save(ctx context.Context, req PartialRequest) bool {
	text := strings.TrimSpace(req.Text)
	if req.SessionID == "" || req.ClientReqID == "" || text == "" {
		return false
	}

	r.mu.Lock()
	if _, done := r.saved[req.ClientReqID]; done {
		r.mu.Unlock()
		return false
	}
	r.saved[req.ClientReqID] = struct{}{}
	r.mu.Unlock()

	reason := req.Reason
	if reason == "" {
		reason = model.ReasonClientAbort
	}

	id, err := r.auth.Identity()
	if err != nil {
		r.logger.Debug("skipping partial save without identity", zap.Error(err))
		metrics.RecordPartialSave(reason, "skipped")
		return false
	}

	err = r.saver.SavePartial(ctx, id, model.SavePartialRequest{
		SessionID:   req.SessionID,
		Message:     text + InterruptedSuffix,
		ClientReqID: req.ClientReqID,
		Reason:      reason,
	})
	if err != nil {
		if transport.IsAuthError(err) {
			metrics.RecordAuthFailure()
			r.auth.SignOut(err.Error())
		}
		r.logger.Warn("partial save failed",
			zap.Error(err),
			zap.String("session_id", req.SessionID),
			zap.String("client_req_id", req.ClientReqID),
		)
		metrics.RecordPartialSave(reason, "failed")
		return false
	}

	r.logger.Info("partial answer saved",
		zap.String("session_id", req.SessionID),
		zap.String("client_req_id", req.ClientReqID),
		zap.String("reason", reason),
	)
	metrics.RecordPartialSave(reason, "saved")
	return true
}
