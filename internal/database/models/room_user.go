package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Role string

const (
	RoleScrumMaster Role = "SCRUM_MASTER"
	RoleVoter       Role = "VOTER"
)

// RoomUser is one user's membership in a room. Exactly one SCRUM_MASTER per
// room is expected at steady state; leave promotes the longest-tenured
// remaining member.
type RoomUser struct {
	bun.BaseModel

	ID          uint   `bun:",pk,autoincrement"`
	RoomID      uint   `bun:",unique:room_users_room_user"`
	UserID      string `bun:",unique:room_users_room_user"`
	Role        Role
	DisplayName string
	JoinedAt    time.Time
}
