package jsonrpc

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/uptrace/bun"

	"github.com/pointdeck-project/backend/internal/database/models"
	"github.com/pointdeck-project/backend/internal/events"
)

func NewRoomService(db *bun.DB, bus events.Bus) *RoomService {
	return &RoomService{
		baseService: baseService{
			DB:  db,
			Bus: bus,
		},
	}
}

// RoomService manages rooms and memberships, the authorization base the game
// engine checks against.
type RoomService struct {
	baseService
}

// Create makes a room and seats the creator as its scrum master in the same
// transaction.
func (s *RoomService) Create(ctx context.Context, name, orgID, callerID, displayName string) (out Room, err error) {
	if name == "" {
		err = errInvalidArgument("room name must not be empty")
		return
	}

	room := models.Room{
		Name:           name,
		OrganizationID: orgID,
		CreatedAt:      events.Now(),
	}

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		if _, err = tx.NewInsert().Model(&room).Exec(ctx); err != nil {
			return
		}

		membership := models.RoomUser{
			RoomID:      room.ID,
			UserID:      callerID,
			Role:        models.RoleScrumMaster,
			DisplayName: displayName,
			JoinedAt:    events.Now(),
		}
		_, err = tx.NewInsert().Model(&membership).Exec(ctx)
		return
	})
	if err != nil {
		err = errTransient("room creation", err)
		return
	}

	out.FromModel(room)
	return
}

// List returns the rooms the caller belongs to, newest first.
func (s *RoomService) List(ctx context.Context, callerID string) (rooms []Room, err error) {
	rooms = make([]Room, 0)

	var dbRooms []models.Room
	err = s.DB.NewSelect().
		Model(&dbRooms).
		Where("id IN (SELECT room_id FROM room_users WHERE user_id = ?)", callerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		err = errTransient("room lookup", err)
		return
	}

	for _, room := range dbRooms {
		var out Room
		out.FromModel(room)
		rooms = append(rooms, out)
	}
	return
}

func (s *RoomService) Rename(ctx context.Context, roomID uint, callerID, name string) (ok bool, err error) {
	if name == "" {
		err = errInvalidArgument("room name must not be empty")
		return
	}
	if err = s.requireScrumMaster(ctx, roomID, callerID); err != nil {
		return
	}

	_, err = s.DB.NewUpdate().
		Model((*models.Room)(nil)).
		Where("id = ?", roomID).
		Set("name = ?", name).
		Exec(ctx)
	if err != nil {
		err = errTransient("room update", err)
		return
	}

	ok = true
	return
}

func (s *RoomService) Delete(ctx context.Context, roomID uint, callerID string) (ok bool, err error) {
	if err = s.requireScrumMaster(ctx, roomID, callerID); err != nil {
		return
	}

	// Memberships, games and votes go with the room via cascading deletes.
	_, err = s.DB.NewDelete().
		Model((*models.Room)(nil)).
		Where("id = ?", roomID).
		Exec(ctx)
	if err != nil {
		err = errTransient("room deletion", err)
		return
	}

	ok = true
	return
}

// Leave removes the caller's membership. When the scrum master leaves, the
// longest-tenured remaining member is promoted inside the same transaction,
// keeping the room operable.
func (s *RoomService) Leave(ctx context.Context, roomID uint, callerID string) (ok bool, err error) {
	var membership models.RoomUser
	if membership, err = s.findMembership(ctx, roomID, callerID); err != nil {
		return
	}

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		_, err = tx.NewDelete().
			Model((*models.RoomUser)(nil)).
			Where("id = ?", membership.ID).
			Exec(ctx)
		if err != nil {
			return
		}

		if membership.Role != models.RoleScrumMaster {
			return
		}

		var next models.RoomUser
		err = tx.NewSelect().
			Model(&next).
			Where("room_id = ?", roomID).
			Order("joined_at ASC").
			Limit(1).
			Scan(ctx)
		if err == sql.ErrNoRows {
			// Room emptied out, nobody to promote.
			err = nil
			return
		} else if err != nil {
			return
		}

		_, err = tx.NewUpdate().
			Model((*models.RoomUser)(nil)).
			Where("id = ?", next.ID).
			Set("role = ?", models.RoleScrumMaster).
			Exec(ctx)
		return
	})
	if err != nil {
		err = errTransient("room leave", err)
		return
	}

	s.publish(ctx, events.UserTopic(roomID, events.KindLeave), MemberEvent{
		Kind:   events.KindLeave,
		UserID: callerID,
		Name:   membership.DisplayName,
		TS:     events.NowTS(),
	})

	ok = true
	return
}

// MemberEvents streams the room's tracked join/leave events. Joins are
// replayed from membership rows on catch-up; leaves are live-only, their
// effect shows up as the member's absence in the membership list.
func (s *RoomService) MemberEvents(ctx context.Context, roomID uint, cursor *string) (sub *rpc.Subscription, err error) {
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

	topics := []string{
		events.UserTopic(roomID, events.KindJoin),
		events.UserTopic(roomID, events.KindLeave),
	}
	busSub, err := s.Bus.Subscribe(context.Background(), topics...)
	if err != nil {
		err = errTransient("event subscription", err)
		return
	}

	var backlog []MemberEvent
	if since >= 0 {
		var memberships []models.RoomUser
		err = s.DB.NewSelect().
			Model(&memberships).
			Where("room_id = ?", roomID).
			Where("joined_at > ?", time.UnixMicro(since)).
			Order("joined_at ASC").
			Scan(ctx)
		if err != nil {
			_ = busSub.Close()
			err = errTransient("membership backlog", err)
			return
		}

		for _, membership := range memberships {
			backlog = append(backlog, MemberEvent{
				Kind:   events.KindJoin,
				UserID: membership.UserID,
				Name:   membership.DisplayName,
				TS:     membership.JoinedAt.UnixMicro(),
			})
		}
	}

	sub = notifier.CreateSubscription()
	go pumpMemberEvents(notifier, sub, busSub, backlog, since)
	return
}

func pumpMemberEvents(notifier *rpc.Notifier, sub *rpc.Subscription, busSub events.Subscription, backlog []MemberEvent, lastID int64) {
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

			var ev MemberEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
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

func (s *RoomService) requireScrumMaster(ctx context.Context, roomID uint, callerID string) (err error) {
	var membership models.RoomUser
	if membership, err = s.findMembership(ctx, roomID, callerID); err != nil {
		return
	}
	if membership.Role != models.RoleScrumMaster {
		err = errForbidden("only the scrum master can manage the room")
	}
	return
}
