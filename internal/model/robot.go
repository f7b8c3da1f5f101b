package model

import "time"

// Robot is a registered fleet robot and its latest reported status.
type Robot struct {
	ID             string    `gorm:"primaryKey"` // Externally supplied, immutable
	Name           string    `gorm:"not null"`
	Type           string    `gorm:"not null"`
	Status         string    `gorm:"not null"`
	BatteryPercent int       `gorm:"not null;default:100;check:chk_robots_battery_percent,battery_percent >= 0 AND battery_percent <= 100"`
	Location       *string
	Mode           string    `gorm:"not null;default:'idle'"`
	ErrorState     *string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`

	// Associations
	Logs []RobotLog `gorm:"foreignKey:RobotID;constraint:OnDelete:CASCADE"`
}

// RobotLog is an append-only log entry reported by a robot.
type RobotLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	RobotID   string    `gorm:"not null;index:idx_robot_logs_robot_ts,priority:1"`
	Level     string    `gorm:"not null"`
	Message   string    `gorm:"not null"`
	Timestamp time.Time `gorm:"not null;index:idx_robot_logs_robot_ts,priority:2"` // UTC, set on insert
}
