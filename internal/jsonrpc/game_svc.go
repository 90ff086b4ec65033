package jsonrpc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/uptrace/bun"

	"github.com/pointdeck-project/backend/internal/database/models"
	"github.com/pointdeck-project/backend/internal/events"
	"github.com/pointdeck-project/backend/internal/scale"
)

func NewGameService(db *bun.DB, bus events.Bus, scales *scale.Provider) *GameService {
	return &GameService{
		baseService: baseService{
			DB:  db,
			Bus: bus,
		},
		Scales: scales,
	}
}

// GameService owns the round state machine: start, vote, end, restart, and
// the per-room event stream. Caller identity arrives as an explicit argument,
// verified upstream.
type GameService struct {
	baseService

	Scales *scale.Provider
}

// Snapshot returns the active game and its votes, or a null gameId when the
// room is idle. Clients rebuild their board from this on connect.
func (s *GameService) Snapshot(ctx context.Context, roomID uint, callerID string) (snap GameSnapshot, err error) {
	if _, err = s.findMembership(ctx, roomID, callerID); err != nil {
		return
	}

	snap.Votes = make([]VoteResult, 0)

	var game models.Game
	var active bool
	if game, active, err = s.activeGame(ctx, roomID); err != nil || !active {
		return
	}

	gameID := fmt.Sprint(game.ID)
	snap.GameID = &gameID
	snap.Votes, err = s.gameVotes(ctx, game.ID)
	return
}

// Scale returns the room's deck in configured order.
func (s *GameService) Scale(ctx context.Context, roomID uint) (deck []float64, err error) {
	var room models.Room
	if room, err = s.findRoom(ctx, roomID); err != nil {
		return
	}

	if deck, err = s.Scales.Values(ctx, room.OrganizationID); err != nil {
		err = errTransient("scale lookup", err)
	}
	return
}

// StartGame rotates the room to a fresh round: any open game is ended and a
// new one created in the same transaction, so at most one game per room ever
// lacks an end time. Scrum master only.
func (s *GameService) StartGame(ctx context.Context, roomID uint, callerID string) (out Game, err error) {
	var membership models.RoomUser
	if membership, err = s.findMembership(ctx, roomID, callerID); err != nil {
		return
	}
	if membership.Role != models.RoleScrumMaster {
		err = errForbidden("only the scrum master can start a game")
		return
	}

	var game models.Game

	// The race loser trips the one_active_game_per_room index; one retry
	// lets it observe the winner's game as ended and create its own.
	for attempt := 0; attempt < 2; attempt++ {
		game = models.Game{}
		err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
			_, err = tx.NewUpdate().
				Model((*models.Game)(nil)).
				Where("room_id = ?", roomID).
				Where("ended_at IS NULL").
				Set("ended_at = ?", events.Now()).
				Exec(ctx)
			if err != nil {
				return
			}

			game = models.Game{
				RoomID:        roomID,
				ScrumMasterID: callerID,
				CreatedAt:     events.Now(),
			}
			_, err = tx.NewInsert().
				Model(&game).
				Exec(ctx)
			return
		})
		if err == nil {
			break
		}
	}
	if err != nil {
		err = errTransient("game rotation", err)
		return
	}

	s.publish(ctx, events.GameTopic(roomID, events.PhaseStart), RoomEvent{
		Type:   events.PhaseStart,
		GameID: fmt.Sprint(game.ID),
		TS:     game.CreatedAt.UnixMicro(),
	})

	out.FromModel(game)
	return
}

// CastVote upserts the caller's pick for the round; the last vote per user
// per game wins. The published event is a signal only, results are re-read
// from the store at end time.
func (s *GameService) CastVote(ctx context.Context, roomID, gameID uint, callerID string, value float64) (ok bool, err error) {
	var membership models.RoomUser
	if membership, err = s.findMembership(ctx, roomID, callerID); err != nil {
		return
	}
	if membership.Role == models.RoleScrumMaster {
		err = errForbidden("the scrum master does not vote")
		return
	}

	var game models.Game
	if game, err = s.findGame(ctx, gameID); err != nil {
		return
	}
	if game.RoomID != roomID {
		err = errNotFound("game %d not found in room %d", gameID, roomID)
		return
	}

	var room models.Room
	if room, err = s.findRoom(ctx, roomID); err != nil {
		return
	}

	var deck []float64
	if deck, err = s.Scales.Values(ctx, room.OrganizationID); err != nil {
		err = errTransient("scale lookup", err)
		return
	}
	if !scale.Valid(deck, value) {
		err = errInvalidArgument("value %v is not on the room's scale", value)
		return
	}

	vote := models.Vote{
		GameID:    gameID,
		UserID:    callerID,
		Value:     value,
		UpdatedAt: events.Now(),
	}
	_, err = s.DB.NewInsert().
		Model(&vote).
		On("CONFLICT (game_id, user_id) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		err = errTransient("vote upsert", err)
		return
	}

	s.publish(ctx, events.GameTopic(roomID, events.PhaseVote), RoomEvent{
		Type:     events.PhaseVote,
		GameID:   fmt.Sprint(gameID),
		UserID:   callerID,
		Username: membership.DisplayName,
		Value:    &value,
		TS:       vote.UpdatedAt.UnixMicro(),
	})

	ok = true
	return
}

// EndGame closes the round, computes the consensus estimate from the stored
// votes and publishes the results. Only the game's own scrum master may end
// it; ending twice is a failed precondition.
func (s *GameService) EndGame(ctx context.Context, roomID, gameID uint, callerID string) (out EndGameResult, err error) {
	var game models.Game
	if game, err = s.findGame(ctx, gameID); err != nil {
		return
	}
	if game.RoomID != roomID {
		err = errNotFound("game %d not found in room %d", gameID, roomID)
		return
	}
	if game.ScrumMasterID != callerID {
		err = errForbidden("only the scrum master can end the game")
		return
	}

	endedAt := events.Now()
	res, err := s.DB.NewUpdate().
		Model((*models.Game)(nil)).
		Where("id = ?", gameID).
		Where("ended_at IS NULL").
		Set("ended_at = ?", endedAt).
		Exec(ctx)
	if err != nil {
		err = errTransient("game update", err)
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = errFailedPrecondition("game %d already ended", gameID)
		return
	}

	if out.Results, out.Estimate, err = s.roundResults(ctx, roomID, gameID); err != nil {
		return
	}

	estimate := out.Estimate
	s.publish(ctx, events.GameTopic(roomID, events.PhaseEnd), RoomEvent{
		Type:     events.PhaseEnd,
		GameID:   fmt.Sprint(gameID),
		Results:  out.Results,
		Estimate: &estimate,
		TS:       endedAt.UnixMicro(),
	})
	return
}

// RestartGame clears the round's votes without ending it, so the same game
// can be voted on again from scratch.
func (s *GameService) RestartGame(ctx context.Context, roomID, gameID uint, callerID string) (ok bool, err error) {
	var game models.Game
	if game, err = s.findGame(ctx, gameID); err != nil {
		return
	}
	if game.RoomID != roomID {
		err = errNotFound("game %d not found in room %d", gameID, roomID)
		return
	}
	if game.ScrumMasterID != callerID {
		err = errForbidden("only the scrum master can restart the game")
		return
	}

	_, err = s.DB.NewDelete().
		Model((*models.Vote)(nil)).
		Where("game_id = ?", gameID).
		Exec(ctx)
	if err != nil {
		err = errTransient("vote reset", err)
		return
	}

	s.publish(ctx, events.GameTopic(roomID, events.PhaseRestart), RoomEvent{
		Type:   events.PhaseRestart,
		GameID: fmt.Sprint(gameID),
		TS:     events.NowTS(),
	})

	ok = true
	return
}

// RoomEvents streams the room's tracked game events. With a cursor, every
// durable event newer than it (game starts and ends) is replayed from the
// store before any live event; vote and restart signals are live-only by
// design. The stream ends when the client unsubscribes or the connection
// drops.
func (s *GameService) RoomEvents(ctx context.Context, roomID uint, cursor *string) (sub *rpc.Subscription, err error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		err = rpc.ErrNotificationsUnsupported
		return
	}

	if _, err = s.findRoom(ctx, roomID); err != nil {
		return
	}

	var since int64 = -1
	if cursor != nil && *cursor != "" {
		var valid bool
		if since, valid = events.ParseID(*cursor); !valid {
			err = errInvalidArgument("invalid cursor %q", *cursor)
			return
		}
	}

	// Subscribe before the catch-up query so nothing published in between
	// is missed; the id guard in the pump drops the overlap.
	busSub, err := s.Bus.Subscribe(context.Background(), events.GameTopics(roomID)...)
	if err != nil {
		err = errTransient("event subscription", err)
		return
	}

	var backlog []RoomEvent
	if since >= 0 {
		if backlog, err = s.roomBacklog(ctx, roomID, since); err != nil {
			_ = busSub.Close()
			return
		}
	}

	sub = notifier.CreateSubscription()
	go pumpRoomEvents(notifier, sub, busSub, backlog, since)
	return
}

func pumpRoomEvents(notifier *rpc.Notifier, sub *rpc.Subscription, busSub events.Subscription, backlog []RoomEvent, lastID int64) {
	defer busSub.Close()

	for _, ev := range backlog {
		if err := notifier.Notify(sub.ID, TrackedEvent{ID: events.FormatID(ev.TS), Event: ev}); err != nil {
			return
		}
		if ev.TS > lastID {
			lastID = ev.TS
		}
	}

	for {
		select {
		case msg, open := <-busSub.C():
			if !open {
				return
			}

			var ev RoomEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				// Malformed payloads are dropped, not fatal.
				continue
			}
			if ev.TS <= lastID {
				continue
			}
			lastID = ev.TS

			if err := notifier.Notify(sub.ID, TrackedEvent{ID: events.FormatID(ev.TS), Event: ev}); err != nil {
				return
			}
		case <-sub.Err():
			return
		case <-notifier.Closed():
			return
		}
	}
}

// roomBacklog re-derives the room's durable events newer than the cursor
// from Game rows, ordered by id. End events get their results recomputed
// from the Vote rows, which is why votes are written durably at cast time.
func (s *GameService) roomBacklog(ctx context.Context, roomID uint, since int64) (backlog []RoomEvent, err error) {
	sinceT := time.UnixMicro(since)

	var games []models.Game
	err = s.DB.NewSelect().
		Model(&games).
		Where("room_id = ?", roomID).
		Where("created_at > ? OR ended_at > ?", sinceT, sinceT).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		err = errTransient("event backlog", err)
		return
	}

	for _, game := range games {
		if game.CreatedAt.After(sinceT) {
			backlog = append(backlog, RoomEvent{
				Type:   events.PhaseStart,
				GameID: fmt.Sprint(game.ID),
				TS:     game.CreatedAt.UnixMicro(),
			})
		}

		if game.EndedAt != nil && game.EndedAt.After(sinceT) {
			var results []VoteResult
			var estimate float64
			if results, estimate, err = s.roundResults(ctx, roomID, game.ID); err != nil {
				return
			}

			est := estimate
			backlog = append(backlog, RoomEvent{
				Type:     events.PhaseEnd,
				GameID:   fmt.Sprint(game.ID),
				Results:  results,
				Estimate: &est,
				TS:       game.EndedAt.UnixMicro(),
			})
		}
	}

	sort.Slice(backlog, func(i, j int) bool { return backlog[i].TS < backlog[j].TS })
	return
}

func (s *GameService) activeGame(ctx context.Context, roomID uint) (game models.Game, active bool, err error) {
	err = s.DB.NewSelect().
		Model(&game).
		Where("room_id = ?", roomID).
		Where("ended_at IS NULL").
		Scan(ctx)
	if err == nil {
		active = true
	} else if err == sql.ErrNoRows {
		err = nil
	} else {
		err = errTransient("game lookup", err)
	}
	return
}

func (s *GameService) gameVotes(ctx context.Context, gameID uint) (results []VoteResult, err error) {
	var votes []models.Vote
	err = s.DB.NewSelect().
		Model(&votes).
		Where("game_id = ?", gameID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		err = errTransient("vote lookup", err)
		return
	}

	results = make([]VoteResult, 0, len(votes))
	for _, vote := range votes {
		results = append(results, VoteResult{UserID: vote.UserID, Value: vote.Value})
	}
	return
}

func (s *GameService) roundResults(ctx context.Context, roomID, gameID uint) (results []VoteResult, estimate float64, err error) {
	if results, err = s.gameVotes(ctx, gameID); err != nil {
		return
	}

	var room models.Room
	if room, err = s.findRoom(ctx, roomID); err != nil {
		return
	}

	var deck []float64
	if deck, err = s.Scales.Values(ctx, room.OrganizationID); err != nil {
		err = errTransient("scale lookup", err)
		return
	}

	values := make([]float64, 0, len(results))
	for _, r := range results {
		values = append(values, r.Value)
	}
	estimate = scale.Estimate(values, deck)
	return
}
