package jsonrpc

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointdeck-project/backend/internal/events"
)

type trackedRoomEvent struct {
	ID    string    `json:"id"`
	Event RoomEvent `json:"event"`
}

func newGameClient(t *testing.T, f *fixture) *rpc.Client {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("game", f.games))
	t.Cleanup(server.Stop)

	client := rpc.DialInProc(server)
	t.Cleanup(client.Close)
	return client
}

func nextEvent(t *testing.T, ch <-chan trackedRoomEvent) trackedRoomEvent {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for room event")
		return trackedRoomEvent{}
	}
}

func TestRoomEventsCatchUpThenLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")
	client := newGameClient(t, f)

	// One finished round on record before anyone subscribes.
	first, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	_, err = f.games.CastVote(ctx, room.ID, gameID(t, first), "bob", 5)
	require.NoError(t, err)
	_, err = f.games.EndGame(ctx, room.ID, gameID(t, first), "master")
	require.NoError(t, err)

	ch := make(chan trackedRoomEvent, 16)
	sub, err := client.Subscribe(ctx, "game", ch, "roomEvents", room.ID, "0")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	started := nextEvent(t, ch)
	assert.Equal(t, events.PhaseStart, started.Event.Type)
	assert.Equal(t, first.ID, started.Event.GameID)

	ended := nextEvent(t, ch)
	assert.Equal(t, events.PhaseEnd, ended.Event.Type)
	assert.Equal(t, first.ID, ended.Event.GameID)
	require.NotNil(t, ended.Event.Estimate)
	assert.Equal(t, float64(5), *ended.Event.Estimate)
	assert.Greater(t, ended.ID, started.ID)

	// Live phase: a fresh round and a vote arrive through the bus.
	second, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)

	live := nextEvent(t, ch)
	assert.Equal(t, events.PhaseStart, live.Event.Type)
	assert.Equal(t, second.ID, live.Event.GameID)
	assert.Greater(t, live.Event.TS, ended.Event.TS)

	_, err = f.games.CastVote(ctx, room.ID, gameID(t, second), "bob", 8)
	require.NoError(t, err)

	voted := nextEvent(t, ch)
	assert.Equal(t, events.PhaseVote, voted.Event.Type)
	assert.Equal(t, "bob", voted.Event.UserID)
	require.NotNil(t, voted.Event.Value)
	assert.Equal(t, float64(8), *voted.Event.Value)
}

func TestRoomEventsResumeFromCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")
	client := newGameClient(t, f)

	first, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	_, err = f.games.EndGame(ctx, room.ID, gameID(t, first), "master")
	require.NoError(t, err)
	second, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)

	// First pass, from the beginning.
	ch := make(chan trackedRoomEvent, 16)
	sub, err := client.Subscribe(ctx, "game", ch, "roomEvents", room.ID, "0")
	require.NoError(t, err)

	cursor := nextEvent(t, ch).ID // start of first
	sub.Unsubscribe()

	// Resuming from that id replays only what came after it.
	ch = make(chan trackedRoomEvent, 16)
	sub, err = client.Subscribe(ctx, "game", ch, "roomEvents", room.ID, cursor)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ended := nextEvent(t, ch)
	assert.Equal(t, events.PhaseEnd, ended.Event.Type)
	assert.Equal(t, first.ID, ended.Event.GameID)

	started := nextEvent(t, ch)
	assert.Equal(t, events.PhaseStart, started.Event.Type)
	assert.Equal(t, second.ID, started.Event.GameID)
}

func TestRoomEventsWithoutCursorIsLiveOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")
	client := newGameClient(t, f)

	// History that must not be replayed.
	first, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	_, err = f.games.EndGame(ctx, room.ID, gameID(t, first), "master")
	require.NoError(t, err)

	ch := make(chan trackedRoomEvent, 16)
	sub, err := client.Subscribe(ctx, "game", ch, "roomEvents", room.ID, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	second, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)

	live := nextEvent(t, ch)
	assert.Equal(t, events.PhaseStart, live.Event.Type)
	assert.Equal(t, second.ID, live.Event.GameID)
}

func TestRoomEventsRejectsBadArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t)
	client := newGameClient(t, f)

	ch := make(chan trackedRoomEvent)
	_, err := client.Subscribe(ctx, "game", ch, "roomEvents", room.ID, "not-a-cursor")
	require.Error(t, err)

	_, err = client.Subscribe(ctx, "game", ch, "roomEvents", room.ID+100, nil)
	require.Error(t, err)
}
