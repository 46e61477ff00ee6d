package db

import (
	"time"

	"gorm.io/gorm"
)

type ClientStatus string

const (
	StatusActive  ClientStatus = "active"
	StatusBlocked ClientStatus = "blocked"
	StatusExpired ClientStatus = "expired"
)

// Client is a managed VPN subscriber. The UUID doubles as the xray-level
// credential for every listener the client is projected into.
type Client struct {
	gorm.Model
	UUID       string `gorm:"uniqueIndex;size:36"`
	Name       string `gorm:"not null"`
	TelegramID *int64 `gorm:"index"`
	Email      string

	SubscriptionDays  int
	SubscriptionStart time.Time
	SubscriptionEnd   time.Time

	TrafficLimitBytes int64
	TrafficUsedBytes  int64
	TrafficResetDate  time.Time

	WarningsCount int
	LastWarningAt *time.Time

	Status        ClientStatus `gorm:"type:varchar(16);default:'active'"`
	BlockedReason *string

	LastConnection *time.Time
}

// TrafficLog is one day bucket of usage for one client. Reports for the same
// day are merged into the existing row.
type TrafficLog struct {
	ID         uint   `gorm:"primaryKey"`
	ClientUUID string `gorm:"size:36;uniqueIndex:idx_traffic_client_date"`
	Date       string `gorm:"size:10;uniqueIndex:idx_traffic_client_date"` // YYYY-MM-DD

	BytesUploaded    int64
	BytesDownloaded  int64
	BytesTotal       int64
	ConnectionsCount int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// ExtensionRequest is a subscriber's ask to extend the subscription window.
// At most one pending request may exist per client; terminal states are never
// modified again.
type ExtensionRequest struct {
	ID         string `gorm:"primaryKey;size:36"`
	ClientUUID string `gorm:"size:36;index"`
	TelegramID int64

	RequestedMonths int
	RequestedDays   int
	ApprovedDays    *int

	Status          RequestStatus `gorm:"type:varchar(16);default:'pending'"`
	AdminTelegramID *int64
	DenialReason    *string
	ProcessedAt     *time.Time

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
