// internal/audit/audit_test.go
package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.Publish(Record{RoomJID: "room1@conference.example", EventType: EventAccessApproved})
	assert.NoError(t, p.Close())
}

func TestRecordOmitsEmptySubject(t *testing.T) {
	data, err := json.Marshal(Record{
		RoomJID:   "room1@conference.example",
		EventType: EventLobbyEnabled,
		ActorJID:  "alice@example.com",
		Timestamp: 1,
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "subject_id")
	assert.NotContains(t, m, "nick")
	assert.Equal(t, "lobby_enabled", m["event_type"])
}
