package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

type Notification struct {
	bun.BaseModel

	ID        uint `bun:",pk,autoincrement"`
	UserID    string
	Type      string
	Message   string
	Data      json.RawMessage `bun:",nullzero"`
	Read      bool
	CreatedAt time.Time
}
