// Package lifecycle owns the subscriber record and its state transitions.
// Configuration reconciliation is a best-effort side effect dispatched after
// the record commits; the record is the source of truth even when the proxy
// sync temporarily fails.
package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vpn-panel/panel/db"
	"vpn-panel/panel/policy"
)

const (
	DefaultSubscriptionDays = 30
	DefaultTrafficLimitGB   = 100
)

// Syncer pushes one credential's desired presence into the live xray config.
type Syncer interface {
	Reconcile(credentialID, label string, present bool) error
}

type Manager struct {
	gdb    *gorm.DB
	syncer Syncer
	log    *zap.Logger

	// dispatch runs the post-commit sync task. Asynchronous in production,
	// replaced with a synchronous func in tests.
	dispatch func(func())
}

func NewManager(gdb *gorm.DB, syncer Syncer, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		gdb:      gdb,
		syncer:   syncer,
		log:      log,
		dispatch: func(task func()) { go task() },
	}
}

type CreateParams struct {
	Name             string
	TelegramID       *int64
	Email            string
	SubscriptionDays int
	TrafficLimitGB   float64
}

// Create registers a new active subscriber with a fresh credential and a
// subscription window starting now.
func (m *Manager) Create(p CreateParams) (*db.Client, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", db.ErrValidation)
	}
	if p.SubscriptionDays <= 0 {
		p.SubscriptionDays = DefaultSubscriptionDays
	}
	if p.TrafficLimitGB == 0 {
		p.TrafficLimitGB = DefaultTrafficLimitGB
	}

	now := time.Now()
	client := db.Client{
		UUID:              uuid.New().String(),
		Name:              p.Name,
		TelegramID:        p.TelegramID,
		Email:             p.Email,
		SubscriptionDays:  p.SubscriptionDays,
		SubscriptionStart: now,
		SubscriptionEnd:   now.AddDate(0, 0, p.SubscriptionDays),
		TrafficLimitBytes: gbToBytes(p.TrafficLimitGB),
		TrafficResetDate:  now,
		Status:            db.StatusActive,
	}

	if err := m.gdb.Create(&client).Error; err != nil {
		return nil, err
	}

	m.syncPresence(client.UUID, client.Name, true)
	return &client, nil
}

func (m *Manager) Get(clientUUID string) (*db.Client, error) {
	var client db.Client
	err := m.gdb.Where("uuid = ?", clientUUID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("client %s: %w", clientUUID, db.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (m *Manager) GetByTelegramID(telegramID int64) (*db.Client, error) {
	var client db.Client
	err := m.gdb.Where("telegram_id = ?", telegramID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("telegram id %d: %w", telegramID, db.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

type ListFilter struct {
	Status     db.ClientStatus
	TelegramID *int64
}

func (m *Manager) List(f ListFilter) ([]db.Client, error) {
	q := m.gdb.Model(&db.Client{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.TelegramID != nil {
		q = q.Where("telegram_id = ?", *f.TelegramID)
	}

	var clients []db.Client
	err := q.Order("created_at DESC").Find(&clients).Error
	return clients, err
}

// UpdateParams carries the fields an admin may change directly. Nil pointers
// leave the field untouched.
type UpdateParams struct {
	Name            *string
	TelegramID      *int64
	Email           *string
	SubscriptionEnd *time.Time
	TrafficLimitGB  *float64
}

func (m *Manager) Update(clientUUID string, p UpdateParams) (*db.Client, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", db.ErrValidation)
		}
		client.Name = *p.Name
	}
	if p.TelegramID != nil {
		client.TelegramID = p.TelegramID
	}
	if p.Email != nil {
		client.Email = *p.Email
	}
	if p.SubscriptionEnd != nil {
		// The window end never moves backwards.
		if p.SubscriptionEnd.After(client.SubscriptionEnd) {
			client.SubscriptionEnd = *p.SubscriptionEnd
		}
	}
	if p.TrafficLimitGB != nil {
		client.TrafficLimitBytes = gbToBytes(*p.TrafficLimitGB)
	}

	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}
	return client, nil
}

// Delete removes the subscriber and withdraws its credential from the proxy.
func (m *Manager) Delete(clientUUID string) error {
	client, err := m.Get(clientUUID)
	if err != nil {
		return err
	}

	if err := m.gdb.Unscoped().Delete(client).Error; err != nil {
		return err
	}

	m.syncPresence(client.UUID, client.Name, false)
	return nil
}

// Extend pushes the subscription window out by days. An expired window is
// extended from now, not from the stale end. Extension always reactivates the
// subscriber, including after a permanent warning block; operators who want to
// keep a block in place must not extend.
func (m *Manager) Extend(clientUUID string, days int) (*db.Client, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", db.ErrValidation)
	}

	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	base := client.SubscriptionEnd
	if base.Before(now) {
		base = now
	}

	client.SubscriptionEnd = base.AddDate(0, 0, days)
	client.SubscriptionDays += days
	client.Status = db.StatusActive
	client.BlockedReason = nil

	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}

	m.syncPresence(client.UUID, client.Name, true)
	return client, nil
}

func (m *Manager) Block(clientUUID, reason string) (*db.Client, error) {
	if reason == "" {
		reason = "Blocked by admin"
	}

	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	client.Status = db.StatusBlocked
	client.BlockedReason = &reason
	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}

	m.syncPresence(client.UUID, client.Name, false)
	return client, nil
}

func (m *Manager) Unblock(clientUUID string) (*db.Client, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	client.Status = db.StatusActive
	client.BlockedReason = nil
	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}

	m.syncPresence(client.UUID, client.Name, true)
	return client, nil
}

// RecordUsage adds consumed bytes and stamps the activity time. If the quota
// policy reports a breach the subscriber is blocked with the policy's reason;
// this is the only path where usage reporting changes status.
func (m *Manager) RecordUsage(clientUUID string, bytesUsed int64) (*db.Client, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	client.TrafficUsedBytes += bytesUsed
	client.LastConnection = &now

	decision := policy.EvaluateUsage(client.TrafficUsedBytes, client.TrafficLimitBytes)
	if decision.Action == policy.AutoBlock {
		client.Status = db.StatusBlocked
		client.BlockedReason = &decision.Reason
	}

	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}

	if decision.Action == policy.AutoBlock {
		m.syncPresence(client.UUID, client.Name, false)
	}
	return client, nil
}

// IssueWarning advances the warning ladder and blocks the subscriber. The
// returned duration is nil when the block is permanent; for temporary blocks
// the caller schedules the automatic unblock.
func (m *Manager) IssueWarning(clientUUID, reason string) (*db.Client, int, *time.Duration, error) {
	if reason == "" {
		return nil, 0, nil, fmt.Errorf("%w: reason is required", db.ErrValidation)
	}

	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, 0, nil, err
	}

	decision := policy.EvaluateWarning(client.WarningsCount, reason)

	now := time.Now()
	client.WarningsCount = decision.WarningsCount
	client.LastWarningAt = &now
	client.Status = db.StatusBlocked
	client.BlockedReason = &decision.Reason

	if err := m.gdb.Save(client).Error; err != nil {
		return nil, 0, nil, err
	}

	m.syncPresence(client.UUID, client.Name, false)
	if decision.BlockDuration != nil {
		m.scheduleUnblock(client.UUID, *decision.BlockDuration, now)
	}
	return client, decision.WarningsCount, decision.BlockDuration, nil
}

// scheduleUnblock lifts a temporary warning block once it has run its course.
// The timer is superseded by any newer warning, a manual unblock, or a process
// restart; a restart leaves the block in place until an admin clears it.
func (m *Manager) scheduleUnblock(clientUUID string, after time.Duration, issuedAt time.Time) {
	time.AfterFunc(after, func() {
		client, err := m.Get(clientUUID)
		if err != nil || client.Status != db.StatusBlocked {
			return
		}
		if client.LastWarningAt == nil || client.LastWarningAt.Unix() != issuedAt.Unix() {
			return
		}
		if _, err := m.Unblock(clientUUID); err != nil {
			m.log.Warn("scheduled unblock failed",
				zap.String("uuid", clientUUID), zap.Error(err))
			return
		}
		m.log.Info("warning block lifted", zap.String("uuid", clientUUID))
	})
}

// ResetWarnings zeroes the ladder. It does not unblock.
func (m *Manager) ResetWarnings(clientUUID string) (*db.Client, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	client.WarningsCount = 0
	client.LastWarningAt = nil
	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}
	return client, nil
}

// ResetTraffic starts a fresh quota cycle.
func (m *Manager) ResetTraffic(clientUUID string) (*db.Client, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	client.TrafficUsedBytes = 0
	client.TrafficResetDate = time.Now()
	if err := m.gdb.Save(client).Error; err != nil {
		return nil, err
	}
	return client, nil
}

// SweepExpired marks every active subscriber whose window has passed as
// expired and returns the affected set. Blocked subscribers are never touched.
// Re-running with the same now is a no-op.
func (m *Manager) SweepExpired(now time.Time) ([]db.Client, error) {
	var expired []db.Client
	err := m.gdb.Where("status = ? AND subscription_end < ?", db.StatusActive, now).Find(&expired).Error
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	uuids := make([]string, 0, len(expired))
	for _, c := range expired {
		uuids = append(uuids, c.UUID)
	}

	err = m.gdb.Model(&db.Client{}).Where("uuid IN ?", uuids).
		Update("status", db.StatusExpired).Error
	if err != nil {
		return nil, err
	}

	for i := range expired {
		expired[i].Status = db.StatusExpired
		m.syncPresence(expired[i].UUID, expired[i].Name, false)
	}
	return expired, nil
}

// SubscriptionSummary reports the window and the remaining days, floored at 0.
type SubscriptionSummary struct {
	UUID          string    `json:"uuid"`
	DaysTotal     int       `json:"subscription_days_total"`
	DaysRemaining int       `json:"subscription_days_remaining"`
	Start         time.Time `json:"subscription_start"`
	End           time.Time `json:"subscription_end"`
	Status        db.ClientStatus `json:"status"`
}

func (m *Manager) Summary(clientUUID string) (*SubscriptionSummary, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	remaining := 0
	if secs := time.Until(client.SubscriptionEnd).Seconds(); secs > 0 {
		remaining = int(math.Ceil(secs / policy.SecondsPerDay))
	}

	return &SubscriptionSummary{
		UUID:          client.UUID,
		DaysTotal:     client.SubscriptionDays,
		DaysRemaining: remaining,
		Start:         client.SubscriptionStart,
		End:           client.SubscriptionEnd,
		Status:        client.Status,
	}, nil
}

// StatusFlags is the derived view of whether the subscriber can connect.
type StatusFlags struct {
	UUID           string          `json:"uuid"`
	Status         db.ClientStatus `json:"status"`
	IsActive       bool            `json:"is_active"`
	IsExpired      bool            `json:"is_expired"`
	IsOverLimit    bool            `json:"is_over_limit"`
	BlockedReason  *string         `json:"blocked_reason"`
	LastConnection *time.Time      `json:"last_connection"`
}

func (m *Manager) Flags(clientUUID string) (*StatusFlags, error) {
	client, err := m.Get(clientUUID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	isExpired := client.SubscriptionEnd.Before(now)
	isOverLimit := client.TrafficLimitBytes > 0 && client.TrafficUsedBytes >= client.TrafficLimitBytes

	return &StatusFlags{
		UUID:           client.UUID,
		Status:         client.Status,
		IsActive:       client.Status == db.StatusActive && !isExpired && !isOverLimit,
		IsExpired:      isExpired,
		IsOverLimit:    isOverLimit,
		BlockedReason:  client.BlockedReason,
		LastConnection: client.LastConnection,
	}, nil
}

// syncPresence dispatches the fire-and-forget reconciliation that follows a
// committed record change. Failures land in the log, never in the caller's
// error path.
func (m *Manager) syncPresence(credentialID, label string, present bool) {
	if m.syncer == nil {
		return
	}
	m.dispatch(func() {
		if err := m.syncer.Reconcile(credentialID, label, present); err != nil {
			m.log.Warn("config sync failed",
				zap.String("uuid", credentialID),
				zap.Bool("present", present),
				zap.Error(err))
		}
	})
}

func gbToBytes(gb float64) int64 {
	if gb < 0 {
		return -1
	}
	return int64(gb * float64(policy.BytesPerGiB))
}
