package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type User struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex;not null"`
	Username  string
	AvatarID  string
	Rank      int
	Score     int `gorm:"not null;default:0;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type GameHistory struct {
	gorm.Model
	UserID           string `gorm:"not null;uniqueIndex:idx_history_user_match"`
	MatchKey         string `gorm:"not null;uniqueIndex:idx_history_user_match"`
	OpponentID       string `gorm:"not null"`
	OpponentName     string
	OpponentAvatarID string
	Result           string `gorm:"not null"` // win | lose | draw
	PointsEarned     int
	PlayerChoice     string
	OpponentChoice   string
	Forced           bool
	PlayedAt         time.Time `gorm:"index"`
}

// Friendship is stored once per direction.
type Friendship struct {
	UserID    string `gorm:"primaryKey"`
	FriendID  string `gorm:"primaryKey"`
	CreatedAt time.Time
}

type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the profile tables.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &GameHistory{}, &Friendship{}); err != nil {
		return nil, fmt.Errorf("migrate profile tables: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record applies score, history and friendship updates in one transaction.
// Scores only move when the history row is new, so retries do not double count.
func (s *PostgresStore) Record(ctx context.Context, m MatchRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range m.Sides() {
			self, opp := pair[0], pair[1]

			user := User{
				UserID:   self.Player.UserID,
				Username: self.Player.Username,
				AvatarID: self.Player.AvatarID,
				Rank:     self.Player.Rank,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"username", "avatar_id", "rank", "updated_at"}),
			}).Create(&user).Error
			if err != nil {
				return fmt.Errorf("upsert user %s: %w", self.Player.UserID, err)
			}

			entry := GameHistory{
				UserID:           self.Player.UserID,
				MatchKey:         m.Key(),
				OpponentID:       opp.Player.UserID,
				OpponentName:     opp.Player.Username,
				OpponentAvatarID: opp.Player.AvatarID,
				Result:           string(self.Outcome),
				PointsEarned:     self.Points,
				PlayerChoice:     string(self.Choice),
				OpponentChoice:   string(opp.Choice),
				Forced:           self.Forced,
				PlayedAt:         m.ResolvedAt,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
			if res.Error != nil {
				return fmt.Errorf("insert history for %s: %w", self.Player.UserID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}

			err = tx.Model(&User{}).
				Where("user_id = ?", self.Player.UserID).
				UpdateColumn("score", gorm.Expr("score + ?", self.Points)).Error
			if err != nil {
				return fmt.Errorf("add score for %s: %w", self.Player.UserID, err)
			}
		}

		host, guest := m.Host.Player.UserID, m.Guest.Player.UserID
		friends := []Friendship{{UserID: host, FriendID: guest}, {UserID: guest, FriendID: host}}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&friends).Error; err != nil {
			return fmt.Errorf("add friendship: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Order("score desc").Order("user_id").
		Limit(ClampLimit(limit)).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		entries[i] = LeaderboardEntry{UserID: u.UserID, Username: u.Username, Score: u.Score, Rank: i + 1}
	}
	return entries, nil
}

var ErrUserNotFound = errors.New("user not found")

func (s *PostgresStore) GameHistory(ctx context.Context, userID string, limit int) (UserHistory, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserHistory{}, ErrUserNotFound
	}
	if err != nil {
		return UserHistory{}, err
	}

	var rows []GameHistory
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("played_at desc").
		Limit(ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return UserHistory{}, err
	}

	entries := make([]HistoryEntry, len(rows))
	for i, r := range rows {
		entries[i] = HistoryEntry{
			OpponentID:       r.OpponentID,
			OpponentName:     r.OpponentName,
			OpponentAvatarID: r.OpponentAvatarID,
			Result:           r.Result,
			PointsEarned:     r.PointsEarned,
			PlayerChoice:     r.PlayerChoice,
			OpponentChoice:   r.OpponentChoice,
			Timestamp:        r.PlayedAt,
		}
	}
	return UserHistory{UserID: user.UserID, Username: user.Username, GameHistory: entries}, nil
}
