package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Invitation records one issued room invite. Token is the jti baked into the
// signed invite token; the signature proves authenticity, the row tracks
// single use.
type Invitation struct {
	bun.BaseModel

	ID          uint   `bun:",pk,autoincrement"`
	Token       string `bun:",unique"`
	RoomID      uint
	Email       string
	InvitedByID string
	CreatedAt   time.Time
	Accepted    bool
	AcceptedAt  *time.Time
}
