package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"robot-fleet-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	CreateRobot(ctx context.Context, in NewRobot) (*model.Robot, error)
	GetRobot(ctx context.Context, id string) (*model.Robot, error)
	ListRobots(ctx context.Context) ([]model.Robot, error)
	UpdateRobotStatus(ctx context.Context, id string, update StatusUpdate) (*model.Robot, error)
	CreateRobotLog(ctx context.Context, robotID string, in NewRobotLog) (*model.RobotLog, error)
	GetRobotLogs(ctx context.Context, robotID string) ([]model.RobotLog, error)

	PutSubscription(ctx context.Context, sub Subscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.AlertSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForRobot(ctx context.Context, robotID string) ([]model.AlertSubscription, error)

	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateRobot registers a robot with default operational fields.
func (s *gormStore) CreateRobot(ctx context.Context, in NewRobot) (*model.Robot, error) {
	robot := model.Robot{
		ID:             in.ID,
		Name:           in.Name,
		Type:           in.Type,
		Status:         in.Status,
		BatteryPercent: DefaultBatteryPercent,
		Mode:           DefaultMode,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := robotExists(tx, in.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateID
		}
		if err := tx.Create(&robot).Error; err != nil {
			// A concurrent registration won the race between the check and the insert.
			if isUniqueViolation(err) {
				return ErrDuplicateID
			}
			return fmt.Errorf("failed to create robot %q: %w", in.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &robot, nil
}

// GetRobot returns the robot with the given id, or nil when it does not exist.
func (s *gormStore) GetRobot(ctx context.Context, id string) (*model.Robot, error) {
	var robot model.Robot
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&robot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get robot %q: %w", id, err)
	}
	return &robot, nil
}

// ListRobots returns every registered robot in primary key order.
func (s *gormStore) ListRobots(ctx context.Context) ([]model.Robot, error) {
	robots := make([]model.Robot, 0)
	if err := s.db.WithContext(ctx).Order("id").Find(&robots).Error; err != nil {
		return nil, fmt.Errorf("failed to list robots: %w", err)
	}
	return robots, nil
}

// UpdateRobotStatus applies the set fields of update and returns the stored robot.
func (s *gormStore) UpdateRobotStatus(ctx context.Context, id string, update StatusUpdate) (*model.Robot, error) {
	var robot model.Robot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !update.IsEmpty() {
			res := tx.Model(&model.Robot{}).Where("id = ?", id).Updates(updateColumns(update))
			if res.Error != nil {
				return fmt.Errorf("failed to update robot %q: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}

		err := tx.Where("id = ?", id).First(&robot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &robot, nil
}

func updateColumns(update StatusUpdate) map[string]any {
	columns := make(map[string]any, 4)
	if update.BatteryPercent.Set {
		columns["battery_percent"] = update.BatteryPercent.Value
	}
	if update.Location.Set {
		columns["location"] = update.Location.Value
	}
	if update.Mode.Set {
		columns["mode"] = update.Mode.Value
	}
	if update.ErrorState.Set {
		columns["error_state"] = update.ErrorState.Value
	}
	return columns
}

// CreateRobotLog appends a log entry for an existing robot.
func (s *gormStore) CreateRobotLog(ctx context.Context, robotID string, in NewRobotLog) (*model.RobotLog, error) {
	entry := model.RobotLog{
		RobotID: robotID,
		Level:   in.Level,
		Message: in.Message,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := robotExists(tx, robotID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		entry.Timestamp = s.now()
		if err := tx.Create(&entry).Error; err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to create log for robot %q: %w", robotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetRobotLogs returns the robot's logs, most recent first.
func (s *gormStore) GetRobotLogs(ctx context.Context, robotID string) ([]model.RobotLog, error) {
	logs := make([]model.RobotLog, 0)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := robotExists(tx, robotID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		// id breaks ties between entries written within the clock's resolution.
		return tx.Where("robot_id = ?", robotID).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// Ping checks that the database is reachable.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func robotExists(tx *gorm.DB, id string) (bool, error) {
	var count int64
	if err := tx.Model(&model.Robot{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up robot %q: %w", id, err)
	}
	return count > 0, nil
}
