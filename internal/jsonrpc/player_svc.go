package jsonrpc

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/pointdeck-project/backend/internal/database/models"
	"github.com/pointdeck-project/backend/internal/events"
)

const (
	tokenIssuer = "pointdeck"
	inviteTTL   = 7 * 24 * time.Hour
)

func NewPlayerService(db *bun.DB, bus events.Bus, inviteSecret string) *PlayerService {
	key, err := loadInviteKey(inviteSecret)
	if err != nil {
		zap.L().Error("failed to decode invite private key, using random key", zap.Error(err))
		key = paseto.NewV4AsymmetricSecretKey()
	}

	return &PlayerService{
		baseService: baseService{
			DB:  db,
			Bus: bus,
		},
		inviteKey: key,
		tokenParser: paseto.MakeParser([]paseto.Rule{
			paseto.IssuedBy(tokenIssuer),
			paseto.NotExpired(),
		}),
	}
}

// PlayerService handles invitations and the per-user notification stream.
// Invite tokens are signed paseto v4 tokens; the signature proves who issued
// them, the Invitation row enforces single use.
type PlayerService struct {
	baseService

	inviteKey   paseto.V4AsymmetricSecretKey
	tokenParser paseto.Parser
}

func (s *PlayerService) Invite(ctx context.Context, roomID uint, callerID string, targets []InviteTarget) (invites []Invitation, err error) {
	if len(targets) == 0 {
		err = errInvalidArgument("no invite targets given")
		return
	}

	if _, err = s.findMembership(ctx, roomID, callerID); err != nil {
		return
	}

	var room models.Room
	if room, err = s.findRoom(ctx, roomID); err != nil {
		return
	}

	invites = make([]Invitation, 0, len(targets))
	for _, target := range targets {
		if target.Email == "" {
			err = errInvalidArgument("invite target without email")
			return
		}

		var invite Invitation
		if invite, err = s.issueInvite(ctx, room, callerID, target); err != nil {
			return
		}
		invites = append(invites, invite)
	}
	return
}

func (s *PlayerService) issueInvite(ctx context.Context, room models.Room, callerID string, target InviteTarget) (out Invitation, err error) {
	now := time.Now()
	expiresAt := now.Add(inviteTTL)
	jti := uuid.NewString()

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(expiresAt)
	token.SetSubject(target.Email)
	token.SetJti(jti)
	token.SetString("roomId", fmt.Sprint(room.ID))
	signed := token.V4Sign(s.inviteKey, nil)

	invitation := models.Invitation{
		Token:       jti,
		RoomID:      room.ID,
		Email:       target.Email,
		InvitedByID: callerID,
		CreatedAt:   events.Now(),
	}
	if _, err = s.DB.NewInsert().Model(&invitation).Exec(ctx); err != nil {
		err = errTransient("invitation creation", err)
		return
	}

	// Known users additionally get an in-app notification, durable first,
	// then the live signal.
	if target.UserID != "" {
		data, _ := json.Marshal(map[string]interface{}{
			"roomId":   fmt.Sprint(room.ID),
			"roomName": room.Name,
			"token":    signed,
		})

		notification := models.Notification{
			UserID:    target.UserID,
			Type:      "Invitation",
			Message:   fmt.Sprintf("You were invited to %s", room.Name),
			Data:      data,
			CreatedAt: events.Now(),
		}
		if _, err = s.DB.NewInsert().Model(&notification).Exec(ctx); err != nil {
			err = errTransient("notification creation", err)
			return
		}

		s.publish(ctx, events.NotificationTopic(target.UserID), NotificationFromModel(notification))
	}

	out = Invitation{
		Token:   signed,
		Email:   target.Email,
		RoomID:  fmt.Sprint(room.ID),
		Expires: expiresAt,
	}
	return
}

// AcceptInvite verifies the token, burns the invitation and seats the caller
// as a voter.
func (s *PlayerService) AcceptInvite(ctx context.Context, token, callerID, displayName string) (ok bool, err error) {
	parsed, err := s.tokenParser.ParseV4Public(s.inviteKey.Public(), token, nil)
	if err != nil {
		err = errInvalidArgument("invalid invite token")
		return
	}

	jti, err := parsed.GetJti()
	if err != nil {
		err = errInvalidArgument("invalid invite token")
		return
	}

	roomIDStr, err := parsed.GetString("roomId")
	if err != nil {
		err = errInvalidArgument("invalid invite token")
		return
	}
	roomID64, err := strconv.ParseUint(roomIDStr, 10, 64)
	if err != nil {
		err = errInvalidArgument("invalid invite token")
		return
	}
	roomID := uint(roomID64)

	var invitation models.Invitation
	err = s.DB.NewSelect().
		Model(&invitation).
		Where("token = ?", jti).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = errNotFound("invite not found")
		return
	} else if err != nil {
		err = errTransient("invitation lookup", err)
		return
	}
	if invitation.Accepted {
		err = errFailedPrecondition("invite has already been accepted")
		return
	}

	if _, err = s.findRoom(ctx, roomID); err != nil {
		return
	}

	membership := models.RoomUser{
		RoomID:      roomID,
		UserID:      callerID,
		Role:        models.RoleVoter,
		DisplayName: displayName,
		JoinedAt:    events.Now(),
	}

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		var existing int
		existing, err = tx.NewSelect().
			Model((*models.RoomUser)(nil)).
			Where("room_id = ?", roomID).
			Where("user_id = ?", callerID).
			Count(ctx)
		if err != nil {
			return
		} else if existing > 0 {
			err = errFailedPrecondition("already a member of room %d", roomID)
			return
		}

		if _, err = tx.NewInsert().Model(&membership).Exec(ctx); err != nil {
			return
		}

		_, err = tx.NewUpdate().
			Model((*models.Invitation)(nil)).
			Where("id = ?", invitation.ID).
			Set("accepted = ?", true).
			Set("accepted_at = ?", events.Now()).
			Exec(ctx)
		return
	})
	if err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			err = errTransient("invite acceptance", err)
		}
		return
	}

	s.publish(ctx, events.UserTopic(roomID, events.KindJoin), MemberEvent{
		Kind:   events.KindJoin,
		UserID: callerID,
		Name:   displayName,
		TS:     membership.JoinedAt.UnixMicro(),
	})

	ok = true
	return
}

func (s *PlayerService) Notifications(ctx context.Context, callerID string) (notifications []Notification, err error) {
	notifications = make([]Notification, 0)

	var rows []models.Notification
	err = s.DB.NewSelect().
		Model(&rows).
		Where("user_id = ?", callerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		err = errTransient("notification lookup", err)
		return
	}

	for _, row := range rows {
		notifications = append(notifications, NotificationFromModel(row))
	}
	return
}

func (s *PlayerService) MarkRead(ctx context.Context, notificationID uint, callerID string) (ok bool, err error) {
	var notification models.Notification
	err = s.DB.NewSelect().
		Model(&notification).
		Where("id = ?", notificationID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = errNotFound("notification %d not found", notificationID)
		return
	} else if err != nil {
		err = errTransient("notification lookup", err)
		return
	}
	if notification.UserID != callerID {
		err = errForbidden("not your notification")
		return
	}

	_, err = s.DB.NewUpdate().
		Model((*models.Notification)(nil)).
		Where("id = ?", notificationID).
		Set("read = ?", true).
		Exec(ctx)
	if err != nil {
		err = errTransient("notification update", err)
		return
	}

	ok = true
	return
}

// NotificationEvents streams the caller's tracked notifications: unread rows
// newer than the cursor first, then live signals from the user topic.
func (s *PlayerService) NotificationEvents(ctx context.Context, callerID string, cursor *string) (sub *rpc.Subscription, err error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		err = rpc.ErrNotificationsUnsupported
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

	busSub, err := s.Bus.Subscribe(context.Background(), events.NotificationTopic(callerID))
	if err != nil {
		err = errTransient("event subscription", err)
		return
	}

	var backlog []Notification
	if since >= 0 {
		var rows []models.Notification
		err = s.DB.NewSelect().
			Model(&rows).
			Where("user_id = ?", callerID).
			Where("read = ?", false).
			Where("created_at > ?", time.UnixMicro(since)).
			Order("created_at ASC").
			Scan(ctx)
		if err != nil {
			_ = busSub.Close()
			err = errTransient("notification backlog", err)
			return
		}

		for _, row := range rows {
			backlog = append(backlog, NotificationFromModel(row))
		}
	}

	sub = notifier.CreateSubscription()
	go pumpNotifications(notifier, sub, busSub, backlog, since)
	return
}

func pumpNotifications(notifier *rpc.Notifier, sub *rpc.Subscription, busSub events.Subscription, backlog []Notification, lastID int64) {
	defer busSub.Close()

	for _, n := range backlog {
		if err := notifier.Notify(sub.ID, TrackedEvent{ID: events.FormatID(n.TS), Event: n}); err != nil {
			return
		}
		if n.TS > lastID {
			lastID = n.TS
		}
	}

	for {
		select {
		case msg, open := <-busSub.C():
			if !open {
				return
			}

			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				continue
			}
			if n.TS <= lastID {
				continue
			}
			lastID = n.TS

			if err := notifier.Notify(sub.ID, TrackedEvent{ID: events.FormatID(n.TS), Event: n}); err != nil {
				return
			}
		case <-sub.Err():
			return
		case <-notifier.Closed():
			return
		}
	}
}

func loadInviteKey(secret string) (key paseto.V4AsymmetricSecretKey, err error) {
	var decoded []byte
	if decoded, err = base64.StdEncoding.DecodeString(secret); err != nil {
		return
	}

	return paseto.NewV4AsymmetricSecretKeyFromBytes(decoded)
}
