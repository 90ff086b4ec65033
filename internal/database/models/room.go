package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Room struct {
	bun.BaseModel

	ID             uint `bun:",pk,autoincrement"`
	Name           string
	OrganizationID string
	CreatedAt      time.Time
}
