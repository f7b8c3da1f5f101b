package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"robot-fleet-backend/internal/model"
)

// ErrSubscriptionNotFound is returned when no subscription exists for an endpoint.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// PutSubscription creates or replaces a subscription together with its robot list.
// Unknown robot ids are ignored.
func (s *gormStore) PutSubscription(ctx context.Context, sub Subscription) error {
	subscription := model.AlertSubscription{
		Endpoint:  sub.Endpoint,
		P256DH:    sub.P256DH,
		Auth:      sub.Auth,
		CreatedAt: s.now(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Robots").Create(&subscription).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		robots := make([]*model.Robot, 0, len(sub.RobotIDs))
		if len(sub.RobotIDs) > 0 {
			if err := tx.Where("id IN ?", sub.RobotIDs).Find(&robots).Error; err != nil {
				return fmt.Errorf("failed to load subscribed robots: %w", err)
			}
		}

		if err := tx.Model(&subscription).Association("Robots").Replace(robots); err != nil {
			return fmt.Errorf("failed to replace subscribed robots: %w", err)
		}
		return nil
	})
}

// GetSubscription returns the subscription for endpoint with its robots loaded.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.AlertSubscription, error) {
	var subscription model.AlertSubscription
	err := s.db.WithContext(ctx).Preload("Robots").Where("endpoint = ?", endpoint).First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &subscription, nil
}

// DeleteSubscription removes the subscription for endpoint. Deleting an unknown endpoint is not an error.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription := model.AlertSubscription{Endpoint: endpoint}
		if err := tx.Model(&subscription).Association("Robots").Clear(); err != nil {
			return fmt.Errorf("failed to clear subscribed robots: %w", err)
		}
		if err := tx.Delete(&subscription).Error; err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		return nil
	})
}

// SubscriptionsForRobot returns every subscription watching robotID.
func (s *gormStore) SubscriptionsForRobot(ctx context.Context, robotID string) ([]model.AlertSubscription, error) {
	var subscriptions []model.AlertSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN alert_subscription_robots asr ON asr.alert_subscription_endpoint = alert_subscriptions.endpoint").
		Where("asr.robot_id = ?", robotID).
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for robot %q: %w", robotID, err)
	}
	return subscriptions, nil
}
