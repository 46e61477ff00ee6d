// Package extension implements the subscription extension request workflow.
// A request is a small approval state machine; approving one drives the
// lifecycle manager's extend operation.
package extension

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vpn-panel/panel/db"
)

const (
	// Requests not decided within a week expire on the next sweep.
	RequestTTL = 7 * 24 * time.Hour

	DaysPerMonth = 30

	MinRequestMonths = 1
	MaxRequestMonths = 12
)

// Extender is the slice of the lifecycle manager the workflow needs.
type Extender interface {
	Extend(clientUUID string, days int) (*db.Client, error)
	Get(clientUUID string) (*db.Client, error)
}

type Workflow struct {
	gdb     *gorm.DB
	clients Extender
	log     *zap.Logger
}

func NewWorkflow(gdb *gorm.DB, clients Extender, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{gdb: gdb, clients: clients, log: log}
}

// Create opens a pending request. If the client already has one pending, it is
// returned alongside db.ErrConflict so the caller can point at it.
func (w *Workflow) Create(clientUUID string, telegramID int64, months int) (*db.ExtensionRequest, error) {
	if months < MinRequestMonths || months > MaxRequestMonths {
		return nil, fmt.Errorf("%w: requested months must be between %d and %d",
			db.ErrValidation, MinRequestMonths, MaxRequestMonths)
	}

	if _, err := w.clients.Get(clientUUID); err != nil {
		return nil, err
	}

	var existing db.ExtensionRequest
	err := w.gdb.Where("client_uuid = ? AND status = ?", clientUUID, db.RequestPending).
		First(&existing).Error
	if err == nil {
		return &existing, fmt.Errorf("client already has pending request %s: %w",
			existing.ID, db.ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req := db.ExtensionRequest{
		ID:              uuid.New().String(),
		ClientUUID:      clientUUID,
		TelegramID:      telegramID,
		RequestedMonths: months,
		RequestedDays:   months * DaysPerMonth,
		Status:          db.RequestPending,
		ExpiresAt:       time.Now().Add(RequestTTL),
	}
	if err := w.gdb.Create(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (w *Workflow) Get(id string) (*db.ExtensionRequest, error) {
	var req db.ExtensionRequest
	err := w.gdb.Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("request %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

type ListFilter struct {
	Status     db.RequestStatus
	ClientUUID string
	TelegramID *int64
}

func (w *Workflow) List(f ListFilter) ([]db.ExtensionRequest, error) {
	q := w.gdb.Model(&db.ExtensionRequest{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ClientUUID != "" {
		q = q.Where("client_uuid = ?", f.ClientUUID)
	}
	if f.TelegramID != nil {
		q = q.Where("telegram_id = ?", *f.TelegramID)
	}

	var reqs []db.ExtensionRequest
	err := q.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

// Approve finalizes a pending request and extends the client's subscription by
// the requested days, or by overrideDays when the admin grants a different
// period.
func (w *Workflow) Approve(id string, adminTelegramID int64, overrideDays *int) (*db.ExtensionRequest, error) {
	req, err := w.pending(id)
	if err != nil {
		return nil, err
	}

	days := req.RequestedDays
	if overrideDays != nil {
		if *overrideDays <= 0 {
			return nil, fmt.Errorf("%w: approved days must be positive", db.ErrValidation)
		}
		days = *overrideDays
	}

	now := time.Now()
	req.Status = db.RequestApproved
	req.ApprovedDays = &days
	req.AdminTelegramID = &adminTelegramID
	req.ProcessedAt = &now

	if err := w.gdb.Save(req).Error; err != nil {
		return nil, err
	}

	if _, err := w.clients.Extend(req.ClientUUID, days); err != nil {
		// The approval already committed; surface the failed extend so the
		// admin can retry it directly.
		return req, fmt.Errorf("request approved but extend failed: %w", err)
	}

	w.log.Info("extension request approved",
		zap.String("request", req.ID),
		zap.String("client", req.ClientUUID),
		zap.Int("days", days))
	return req, nil
}

func (w *Workflow) Deny(id string, adminTelegramID int64, reason string) (*db.ExtensionRequest, error) {
	req, err := w.pending(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req.Status = db.RequestDenied
	req.AdminTelegramID = &adminTelegramID
	if reason != "" {
		req.DenialReason = &reason
	}
	req.ProcessedAt = &now

	if err := w.gdb.Save(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// ChangePeriod adjusts a still-pending request's asked-for duration.
func (w *Workflow) ChangePeriod(id string, days int) (*db.ExtensionRequest, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", db.ErrValidation)
	}

	req, err := w.pending(id)
	if err != nil {
		return nil, err
	}

	req.RequestedDays = days
	req.RequestedMonths = (days + DaysPerMonth - 1) / DaysPerMonth
	if err := w.gdb.Save(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (w *Workflow) Delete(id string) error {
	res := w.gdb.Where("id = ?", id).Delete(&db.ExtensionRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("request %s: %w", id, db.ErrNotFound)
	}
	return nil
}

// ExpireOld moves pending requests past their TTL into the expired state and
// returns them.
func (w *Workflow) ExpireOld(now time.Time) ([]db.ExtensionRequest, error) {
	var stale []db.ExtensionRequest
	err := w.gdb.Where("status = ? AND expires_at < ?", db.RequestPending, now).Find(&stale).Error
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(stale))
	for _, r := range stale {
		ids = append(ids, r.ID)
	}

	err = w.gdb.Model(&db.ExtensionRequest{}).Where("id IN ?", ids).
		Update("status", db.RequestExpired).Error
	if err != nil {
		return nil, err
	}

	for i := range stale {
		stale[i].Status = db.RequestExpired
	}
	return stale, nil
}

// pending loads a request and rejects already-processed ones.
func (w *Workflow) pending(id string) (*db.ExtensionRequest, error) {
	req, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	if req.Status != db.RequestPending {
		return nil, fmt.Errorf("request already %s: %w", req.Status, db.ErrConflict)
	}
	return req, nil
}
