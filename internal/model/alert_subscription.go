package model

import "time"

// AlertSubscription holds a browser push subscription and the robots it watches.
type AlertSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Robots []*Robot `gorm:"many2many:alert_subscription_robots;constraint:OnDelete:CASCADE"`
}
