// internal/database/rooms.go
package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anteroom-dev/anteroom/internal/room"
)

// RoomStore keeps room configuration rows so a restart leaves
// protected rooms protected. It implements room.ConfigStore.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

// SaveRoomConfig upserts the room's durable state.
func (s *RoomStore) SaveRoomConfig(ctx context.Context, cfg room.RoomConfig) error {
	q := `
	INSERT INTO rooms (jid, name, members_only, password_hash, owner_jid, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (jid)
	DO UPDATE SET name = $2, members_only = $3, password_hash = $4, owner_jid = $5, updated_at = NOW()
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, cfg.RoomJID, cfg.Name, cfg.MembersOnly, cfg.PasswordHash, cfg.OwnerJID)
		return err
	})
}

// LoadRoomConfig fetches a room's stored configuration, (nil, nil)
// when the room has none.
func (s *RoomStore) LoadRoomConfig(ctx context.Context, roomJID string) (*room.RoomConfig, error) {
	q := `
	SELECT jid, name, members_only, password_hash, owner_jid
	FROM rooms
	WHERE jid = $1
	`
	var cfg room.RoomConfig
	err := s.pool.QueryRow(ctx, q, roomJID).Scan(
		&cfg.RoomJID,
		&cfg.Name,
		&cfg.MembersOnly,
		&cfg.PasswordHash,
		&cfg.OwnerJID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DeleteRoomConfig drops a room's stored configuration.
func (s *RoomStore) DeleteRoomConfig(ctx context.Context, roomJID string) error {
	q := `DELETE FROM rooms WHERE jid = $1`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, roomJID)
		return err
	})
}
