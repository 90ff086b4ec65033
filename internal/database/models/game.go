package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Game is one voting round. At most one game per room has a null EndedAt;
// a partial unique index on (room_id) WHERE ended_at IS NULL backs the
// invariant. Games are never deleted.
type Game struct {
	bun.BaseModel

	ID            uint `bun:",pk,autoincrement"`
	RoomID        uint
	ScrumMasterID string
	CreatedAt     time.Time
	EndedAt       *time.Time
}
