package jsonrpc

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointdeck-project/backend/internal/database/models"
)

func gameID(t *testing.T, game Game) uint {
	t.Helper()

	id, err := strconv.ParseUint(game.ID, 10, 64)
	require.NoError(t, err)
	return uint(id)
}

func TestStartGameRequiresScrumMaster(t *testing.T) {
	f := newFixture(t)
	room := f.seedRoom(t, "bob")

	_, err := f.games.StartGame(context.Background(), room.ID, "bob")
	requireCode(t, err, codeForbidden)

	_, err = f.games.StartGame(context.Background(), room.ID, "stranger")
	requireCode(t, err, codeForbidden)
}

func TestStartGameRotatesActiveGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")

	first, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	second, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Only the latest round may be open.
	open, err := f.db.NewSelect().
		Model((*models.Game)(nil)).
		Where("room_id = ?", room.ID).
		Where("ended_at IS NULL").
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	snap, err := f.games.Snapshot(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, snap.GameID)
	assert.Equal(t, second.ID, *snap.GameID)
}

func TestStartGameConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.games.StartGame(ctx, room.ID, "master")
		}()
	}
	wg.Wait()

	// However the races resolve, exactly one round may be left open.
	open, err := f.db.NewSelect().
		Model((*models.Game)(nil)).
		Where("room_id = ?", room.ID).
		Where("ended_at IS NULL").
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestCastVote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob", "carol")

	game, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	id := gameID(t, game)

	ok, err := f.games.CastVote(ctx, room.ID, id, "bob", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	// Re-voting replaces, never duplicates.
	_, err = f.games.CastVote(ctx, room.ID, id, "bob", 8)
	require.NoError(t, err)

	snap, err := f.games.Snapshot(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.Len(t, snap.Votes, 1)
	assert.Equal(t, VoteResult{UserID: "bob", Value: 8}, snap.Votes[0])

	// Unsure is always legal, 4 is not on the default deck.
	_, err = f.games.CastVote(ctx, room.ID, id, "carol", 0)
	require.NoError(t, err)
	_, err = f.games.CastVote(ctx, room.ID, id, "carol", 4)
	requireCode(t, err, codeInvalidArgument)

	// The scrum master observes, outsiders are rejected outright.
	_, err = f.games.CastVote(ctx, room.ID, id, "master", 5)
	requireCode(t, err, codeForbidden)
	_, err = f.games.CastVote(ctx, room.ID, id, "stranger", 5)
	requireCode(t, err, codeForbidden)

	_, err = f.games.CastVote(ctx, room.ID, id+100, "bob", 5)
	requireCode(t, err, codeNotFound)
}

func TestCastVoteWrongRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")
	other := f.seedRoom(t, "bob")

	game, err := f.games.StartGame(ctx, other.ID, "master")
	require.NoError(t, err)

	_, err = f.games.CastVote(ctx, room.ID, gameID(t, game), "bob", 5)
	requireCode(t, err, codeNotFound)
}

func TestEndGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob", "carol", "dave")

	game, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	id := gameID(t, game)

	for user, value := range map[string]float64{"bob": 5, "carol": 8, "dave": 0} {
		_, err = f.games.CastVote(ctx, room.ID, id, user, value)
		require.NoError(t, err)
	}

	_, err = f.games.EndGame(ctx, room.ID, id, "bob")
	requireCode(t, err, codeForbidden)

	out, err := f.games.EndGame(ctx, room.ID, id, "master")
	require.NoError(t, err)
	assert.Len(t, out.Results, 3)
	// Lower median of {5, 8}, dave's unsure does not count.
	assert.Equal(t, float64(5), out.Estimate)

	_, err = f.games.EndGame(ctx, room.ID, id, "master")
	requireCode(t, err, codeFailedPrecondition)

	snap, err := f.games.Snapshot(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, snap.GameID)
}

func TestEndGameWithoutVotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t)

	game, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)

	out, err := f.games.EndGame(ctx, room.ID, gameID(t, game), "master")
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, float64(1), out.Estimate)
}

func TestRestartGameClearsVotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")

	game, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)
	id := gameID(t, game)

	_, err = f.games.CastVote(ctx, room.ID, id, "bob", 13)
	require.NoError(t, err)

	_, err = f.games.RestartGame(ctx, room.ID, id, "bob")
	requireCode(t, err, codeForbidden)

	ok, err := f.games.RestartGame(ctx, room.ID, id, "master")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := f.games.Snapshot(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, snap.GameID)
	assert.Empty(t, snap.Votes)

	// The round itself stays open and can be voted on again.
	_, err = f.games.CastVote(ctx, room.ID, id, "bob", 2)
	require.NoError(t, err)
}

func TestScaleFallsBackToDefaultDeck(t *testing.T) {
	f := newFixture(t)
	room := f.seedRoom(t)

	deck, err := f.games.Scale(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 5, 8, 13, 20, 40, 100}, deck)
}

func TestScaleUsesConfiguredPoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.seedRoom(t, "bob")

	// Populate settings, then attach a custom deck out of position order.
	_, err := f.games.Scale(ctx, room.ID)
	require.NoError(t, err)

	var settings models.GameSettings
	require.NoError(t, f.db.NewSelect().
		Model(&settings).
		Where("organization_id = ?", room.OrganizationID).
		Scan(ctx))

	for i, value := range []float64{21, 0.5, 2} {
		point := models.ScrumPoint{
			GameSettingsID: settings.ID,
			Value:          value,
			Position:       []int{2, 0, 1}[i],
		}
		_, err = f.db.NewInsert().Model(&point).Exec(ctx)
		require.NoError(t, err)
	}

	deck, err := f.games.Scale(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 2, 21}, deck)

	game, err := f.games.StartGame(ctx, room.ID, "master")
	require.NoError(t, err)

	_, err = f.games.CastVote(ctx, room.ID, gameID(t, game), "bob", 0.5)
	require.NoError(t, err)
	_, err = f.games.CastVote(ctx, room.ID, gameID(t, game), "bob", 5)
	requireCode(t, err, codeInvalidArgument)
}

func TestSnapshotRequiresMembership(t *testing.T) {
	f := newFixture(t)
	room := f.seedRoom(t)

	_, err := f.games.Snapshot(context.Background(), room.ID, "stranger")
	requireCode(t, err, codeForbidden)
}
