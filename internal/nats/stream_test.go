package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		name      string
		tenant    string
		session   string
		eventType model.EventType
		want      string
	}{
		{"plain", "acme", "42", model.EventTypeTurnCompleted, "memhub.acme.42.event.turn_completed"},
		{"new chat", "acme", "", model.EventTypeTurnAborted, "memhub.acme._new.event.turn_aborted"},
		{"wildcards escaped", "a.b", "x>y*", model.EventTypePartialSaved, "memhub.a_b.x_y_.event.partial_saved"},
		{"missing tenant", "", "7", model.EventTypeSessionDeleted, "memhub._.7.event.session_deleted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventSubject(tt.tenant, tt.session, tt.eventType))
		})
	}
}

func TestSessionFilter(t *testing.T) {
	assert.Equal(t, "memhub.acme.>", SessionFilter("acme", ""))
	assert.Equal(t, "memhub.acme.42.>", SessionFilter("acme", "42"))
}
