package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Vote is one member's current pick for a game. Last write per
// (game, user) wins; restart deletes the game's votes in bulk.
type Vote struct {
	bun.BaseModel

	ID        uint   `bun:",pk,autoincrement"`
	GameID    uint   `bun:",unique:votes_game_user"`
	UserID    string `bun:",unique:votes_game_user"`
	Value     float64
	UpdatedAt time.Time
}
