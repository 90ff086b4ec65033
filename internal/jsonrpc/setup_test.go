package jsonrpc

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/pointdeck-project/backend/internal/database/models"
	"github.com/pointdeck-project/backend/internal/events"
	"github.com/pointdeck-project/backend/internal/scale"
)

type fixture struct {
	db     *bun.DB
	bus    *events.MemoryBus
	games  *GameService
	rooms  *RoomService
	player *PlayerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// The whole database lives on a single in-memory connection.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.Room)(nil),
		(*models.RoomUser)(nil),
		(*models.Game)(nil),
		(*models.Vote)(nil),
		(*models.GameSettings)(nil),
		(*models.ScrumPoint)(nil),
		(*models.Invitation)(nil),
		(*models.Notification)(nil),
	} {
		_, err = db.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}
	_, err = db.ExecContext(ctx,
		"CREATE UNIQUE INDEX one_active_game_per_room ON games (room_id) WHERE ended_at IS NULL")
	require.NoError(t, err)

	bus := events.NewMemoryBus()
	return &fixture{
		db:     db,
		bus:    bus,
		games:  NewGameService(db, bus, scale.NewProvider(db)),
		rooms:  NewRoomService(db, bus),
		player: NewPlayerService(db, bus, ""),
	}
}

// seedRoom creates a room with "master" as scrum master and the given voters
// seated directly, bypassing the invite flow.
func (f *fixture) seedRoom(t *testing.T, voters ...string) models.Room {
	t.Helper()
	ctx := context.Background()

	out, err := f.rooms.Create(ctx, "Sprint 42", "org-1", "master", "Alice")
	require.NoError(t, err)

	id, err := strconv.ParseUint(out.ID, 10, 64)
	require.NoError(t, err)

	var room models.Room
	require.NoError(t, f.db.NewSelect().
		Model(&room).
		Where("id = ?", id).
		Scan(ctx))

	for _, voter := range voters {
		membership := models.RoomUser{
			RoomID:      room.ID,
			UserID:      voter,
			Role:        models.RoleVoter,
			DisplayName: voter,
			JoinedAt:    events.Now(),
		}
		_, err = f.db.NewInsert().Model(&membership).Exec(ctx)
		require.NoError(t, err)
	}
	return room
}

func (f *fixture) membership(t *testing.T, roomID uint, userID string) models.RoomUser {
	t.Helper()

	var membership models.RoomUser
	require.NoError(t, f.db.NewSelect().
		Model(&membership).
		Where("room_id = ?", roomID).
		Where("user_id = ?", userID).
		Scan(context.Background()))
	return membership
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, code, apiErr.ErrorCode())
}
