// internal/audit/audit.go

// Package audit records admission decisions on a Redis queue. The
// auditor worker drains the queue into Postgres. Publishing is best
// effort: a dead queue costs a log line, never an admission.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueue is the Redis list the auditor worker drains.
const DefaultQueue = "anteroom_admissions"

// Admission event types on the trail.
const (
	EventLobbyEnabled   = "lobby_enabled"
	EventLobbyDisabled  = "lobby_disabled"
	EventAccessApproved = "access_approved"
	EventAccessDenied   = "access_denied"
	EventMemberKicked   = "member_kicked"
)

// Record is one admission decision. SubjectID is the room-local
// occupant id of the member acted on, empty for room-level events.
type Record struct {
	RoomJID   string `json:"room_jid"`
	EventType string `json:"event_type"`
	ActorJID  string `json:"actor_jid"`
	SubjectID string `json:"subject_id,omitempty"`
	Nick      string `json:"nick,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// Publisher pushes records onto the queue. A nil Publisher drops
// everything silently, so the audit trail stays optional wiring.
type Publisher struct {
	rdb   *redis.Client
	queue string
	log   *logrus.Entry
}

// Options configures a Publisher.
type Options struct {
	Addr  string
	DB    int
	Queue string        // "" uses DefaultQueue
	Log   *logrus.Entry // nil uses the standard logger
}

// NewPublisher connects a Redis client and verifies it with a ping.
func NewPublisher(ctx context.Context, opts Options) (*Publisher, error) {
	queue := opts.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	logger := opts.Log
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return &Publisher{rdb: rdb, queue: queue, log: logger}, nil
}

// Publish stamps rec and enqueues it. Failures are logged and
// dropped: the admission already happened, the trail must not undo or
// delay it. Safe on a nil Publisher.
func (p *Publisher) Publish(rec Record) {
	if p == nil || p.rdb == nil {
		return
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		p.log.WithError(err).Warn("marshaling audit record")
		return
	}
	// Detached context: the record outlives the client connection
	// that triggered it.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		p.log.WithError(err).WithField("queue", p.queue).Warn("pushing audit record")
	}
}

// Close releases the Redis client. Safe on a nil Publisher.
func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
