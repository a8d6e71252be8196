package store

import (
	"context"

	"argus/internal/core"
)

// UpsertDevice inserts a device by its opaque token if absent, returning
// its internal id either way.
func (s *Store) UpsertDevice(ctx context.Context, token string) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO devices (token) VALUES (?) ON CONFLICT(token) DO NOTHING`, token)
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT id FROM devices WHERE token = ?`, token).Scan(&id)
	})
	return id, err
}

// Subscribe adds a (device, topic) subscription. It returns
// ErrAlreadyPresent when the pair is already subscribed, which callers at
// the HTTP boundary surface as 409.
func (s *Store) Subscribe(ctx context.Context, deviceID int64, topic string, priority core.SubscriptionPriority) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO device_subscriptions (device_id, topic, priority)
			VALUES (?, ?, ?) ON CONFLICT(device_id, topic) DO NOTHING`, deviceID, topic, string(priority))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyPresent
		}
		return nil
	})
}

// Unsubscribe removes a (device, topic) subscription if present.
func (s *Store) Unsubscribe(ctx context.Context, deviceID int64, topic string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM device_subscriptions WHERE device_id = ? AND topic = ?`, deviceID, topic)
		return err
	})
}

// DeviceSubscriber is one subscribed device's token and priority for a topic.
type DeviceSubscriber struct {
	Token    string
	Priority core.SubscriptionPriority
}

// FetchDevicesForTopic lists every device subscribed to topic.
func (s *Store) FetchDevicesForTopic(ctx context.Context, topic string) ([]DeviceSubscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.token, s.priority
		FROM device_subscriptions s
		JOIN devices d ON d.id = s.device_id
		WHERE s.topic = ?`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceSubscriber
	for rows.Next() {
		var sub DeviceSubscriber
		var priority string
		if err := rows.Scan(&sub.Token, &priority); err != nil {
			return nil, err
		}
		sub.Priority = core.SubscriptionPriority(priority)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// DeleteDevice removes a device and, via the cascading delete below,
// every subscription it holds.
func (s *Store) DeleteDevice(ctx context.Context, deviceID int64) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM device_subscriptions WHERE device_id = ?`, deviceID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, deviceID); err != nil {
			return err
		}
		return tx.Commit()
	})
}
