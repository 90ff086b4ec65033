package jsonrpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pointdeck-project/backend/internal/database/models"
)

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *Room) FromModel(room models.Room) {
	r.ID = fmt.Sprint(room.ID)
	r.Name = room.Name
	r.CreatedAt = room.CreatedAt
}

type Game struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"roomId"`
	ScrumMasterID string     `json:"scrumMasterId"`
	CreatedAt     time.Time  `json:"createdAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

func (g *Game) FromModel(game models.Game) {
	g.ID = fmt.Sprint(game.ID)
	g.RoomID = fmt.Sprint(game.RoomID)
	g.ScrumMasterID = game.ScrumMasterID
	g.CreatedAt = game.CreatedAt
	g.EndedAt = game.EndedAt
}

type VoteResult struct {
	UserID string  `json:"userId"`
	Value  float64 `json:"value"`
}

// GameSnapshot is the authoritative current round state, used by clients to
// rebuild their view on connect.
type GameSnapshot struct {
	GameID *string      `json:"gameId"`
	Votes  []VoteResult `json:"votes"`
}

type EndGameResult struct {
	Results  []VoteResult `json:"results"`
	Estimate float64      `json:"estimate"`
}

// RoomEvent is the wire message for the per-room game stream. Type decides
// which of the optional fields are set. TS is the publisher's monotonic
// timestamp and doubles as the tracked-event id.
type RoomEvent struct {
	Type     string       `json:"type"`
	GameID   string       `json:"gameId,omitempty"`
	UserID   string       `json:"userId,omitempty"`
	Username string       `json:"username,omitempty"`
	Value    *float64     `json:"value,omitempty"`
	Results  []VoteResult `json:"results,omitempty"`
	Estimate *float64     `json:"estimate,omitempty"`
	TS       int64        `json:"ts"`
}

// MemberEvent is the wire message for the per-room join/leave stream.
type MemberEvent struct {
	Kind   string `json:"kind"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	TS     int64  `json:"ts"`
}

type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
	TS        int64           `json:"ts"`
}

func NotificationFromModel(n models.Notification) (out Notification) {
	out.FromModel(n)
	return
}

func (n *Notification) FromModel(m models.Notification) {
	n.ID = fmt.Sprint(m.ID)
	n.Type = m.Type
	n.Message = m.Message
	n.Data = m.Data
	n.Read = m.Read
	n.CreatedAt = m.CreatedAt
	n.TS = m.CreatedAt.UnixMicro()
}

// TrackedEvent pairs an event with the stable id a client can resume from.
type TrackedEvent struct {
	ID    string      `json:"id"`
	Event interface{} `json:"event"`
}

// InviteTarget names one invitee. Email goes into the signed token; UserID,
// when the caller knows it, routes the in-app notification.
type InviteTarget struct {
	Email  string `json:"email"`
	UserID string `json:"userId,omitempty"`
}

type Invitation struct {
	Token   string    `json:"token"`
	Email   string    `json:"email"`
	RoomID  string    `json:"roomId"`
	Expires time.Time `json:"expires"`
}
