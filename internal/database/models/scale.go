package models

import (
	"github.com/uptrace/bun"
)

// GameSettings anchors an organization's voting deck. Settings toggles and
// preset CRUD live in another service; this core only reads the points.
type GameSettings struct {
	bun.BaseModel

	ID             uint   `bun:",pk,autoincrement"`
	OrganizationID string `bun:",unique"`
}

type ScrumPoint struct {
	bun.BaseModel

	ID             uint `bun:",pk,autoincrement"`
	GameSettingsID uint
	Value          float64
	Position       int
}
