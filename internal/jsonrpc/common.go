package jsonrpc

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/pointdeck-project/backend/internal/database/models"
	"github.com/pointdeck-project/backend/internal/events"
)

type baseService struct {
	DB  *bun.DB
	Bus events.Bus
}

// publish is fire-and-forget: the durable write already succeeded and is the
// source of truth, a client that misses the live signal converges via
// catch-up on its next subscribe.
func (s *baseService) publish(ctx context.Context, topic string, payload interface{}) {
	if err := s.Bus.Publish(ctx, topic, payload); err != nil {
		zap.L().Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *baseService) findRoom(ctx context.Context, roomID uint) (room models.Room, err error) {
	err = s.DB.NewSelect().
		Model(&room).
		Where("id = ?", roomID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = errNotFound("room %d not found", roomID)
	} else if err != nil {
		err = errTransient("room lookup", err)
	}
	return
}

func (s *baseService) findGame(ctx context.Context, gameID uint) (game models.Game, err error) {
	err = s.DB.NewSelect().
		Model(&game).
		Where("id = ?", gameID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = errNotFound("game %d not found", gameID)
	} else if err != nil {
		err = errTransient("game lookup", err)
	}
	return
}

// findMembership resolves the caller's membership in a room. A missing row
// comes back as Forbidden, not NotFound: outsiders learn nothing about the
// room.
func (s *baseService) findMembership(ctx context.Context, roomID uint, userID string) (membership models.RoomUser, err error) {
	err = s.DB.NewSelect().
		Model(&membership).
		Where("room_id = ?", roomID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = errForbidden("not a member of room %d", roomID)
	} else if err != nil {
		err = errTransient("membership lookup", err)
	}
	return
}
