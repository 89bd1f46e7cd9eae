// Package presence tracks which members of a group are online.
//
// A member counts as online while their row is flagged online and their
// last activity is inside the presence window. Expiry is lazy: nothing
// sweeps stale rows, readers filter them out.
package presence

import (
	"context"
	"time"

	"lightoflife/apperror"
	"lightoflife/channel"
	"lightoflife/model"
	"lightoflife/realtime"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/zishang520/engine.io/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultWindow = 5 * time.Minute

var logger = log.NewLog("presence")

// Membership answers whether a user belongs to a group.
type Membership interface {
	IsMember(ctx context.Context, groupID uint, userID uint) (bool, error)
}

type Service struct {
	db      *gorm.DB
	members Membership
	bus     realtime.Broadcaster
	clock   clock.Clock
	window  time.Duration
}

func NewService(db *gorm.DB, members Membership, bus realtime.Broadcaster, clk clock.Clock, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{db: db, members: members, bus: bus, clock: clk, window: window}
}

// Update is the payload of presence-update events.
type Update struct {
	GroupID  uint      `json:"groupId"`
	UserID   uint      `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	At       time.Time `json:"at"`
}

type Member struct {
	UserID     uint      `json:"userId"`
	Username   string    `json:"username"`
	LastActive time.Time `json:"lastActive"`
}

// UpdatePresence records activity of userID in groupID. Calls for
// non-members are ignored.
func (s *Service) UpdatePresence(ctx context.Context, groupID uint, userID uint, isOnline bool, sessionID string) error {
	if groupID == 0 || userID == 0 {
		return apperror.ErrInvalidID
	}

	member, err := s.members.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		logger.Debug("ignoring presence of user %d in group %d: not a member", userID, groupID)
		return nil
	}

	row := model.GroupPresence{
		GroupID:    groupID,
		UserID:     userID,
		IsOnline:   isOnline,
		LastActive: s.now(),
		SessionID:  sessionID,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_active", "session_id"}),
	}).Create(&row).Error
	if err != nil {
		return apperror.ErrStorage(errors.Wrap(err, "presence.UpdatePresence.Upsert"))
	}

	s.BroadcastPresenceUpdate(ctx, groupID, userID, isOnline)
	return nil
}

// MarkOffline flags userID offline in groupID. With a non-empty sessionID
// only that session's row is cleared, so an old tab closing does not hide a
// newer one.
func (s *Service) MarkOffline(ctx context.Context, groupID uint, userID uint, sessionID string) error {
	if groupID == 0 || userID == 0 {
		return apperror.ErrInvalidID
	}

	query := s.db.WithContext(ctx).Model(&model.GroupPresence{}).
		Where("group_id = ? AND user_id = ? AND is_online = ?", groupID, userID, true)
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}
	res := query.Updates(map[string]any{"is_online": false, "last_active": s.now()})
	if res.Error != nil {
		return apperror.ErrStorage(errors.Wrap(res.Error, "presence.MarkOffline.Update"))
	}

	if res.RowsAffected > 0 {
		s.BroadcastPresenceUpdate(ctx, groupID, userID, false)
	}
	return nil
}

// GetOnlineMembers lists the members of groupID currently online, most
// recently active first.
func (s *Service) GetOnlineMembers(ctx context.Context, groupID uint) ([]Member, error) {
	rows, err := s.online(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, Member{
			UserID:     row.UserID,
			Username:   row.User.Username,
			LastActive: row.LastActive,
		})
	}
	return members, nil
}

func (s *Service) GetOnlineMembersCount(ctx context.Context, groupID uint) (int, error) {
	rows, err := s.online(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// BroadcastPresenceUpdate publishes presence-update on the group channel.
// Failures are logged only.
func (s *Service) BroadcastPresenceUpdate(ctx context.Context, groupID uint, userID uint, isOnline bool) {
	name, err := channel.Group(groupID)
	if err != nil {
		logger.Warning("presence update for invalid group %d: %v", groupID, err)
		return
	}
	realtime.Notify(ctx, s.bus, name, realtime.EventPresenceUpdate, Update{
		GroupID:  groupID,
		UserID:   userID,
		IsOnline: isOnline,
		At:       s.now(),
	})
}

func (s *Service) online(ctx context.Context, groupID uint) ([]model.GroupPresence, error) {
	if groupID == 0 {
		return nil, apperror.ErrInvalidID
	}

	var rows []model.GroupPresence
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("group_id = ? AND is_online = ?", groupID, true).
		Order("last_active desc").
		Find(&rows).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "presence.online.Find"))
	}

	// The window is applied here rather than in SQL so the comparison does
	// not depend on how the driver stores timestamps.
	now := s.now()
	online := rows[:0]
	for _, row := range rows {
		if now.Sub(row.LastActive) < s.window {
			online = append(online, row)
		}
	}
	return online, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
