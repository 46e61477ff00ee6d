// Package traffic keeps the per-day usage ledger. The lifecycle manager only
// reads aggregates from here; writes come from the stats poller and the
// reporting endpoint.
package traffic

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"vpn-panel/panel/db"
	"vpn-panel/panel/policy"
)

const DefaultRetentionDays = 90

type Ledger struct {
	gdb *gorm.DB
}

func NewLedger(gdb *gorm.DB) *Ledger {
	return &Ledger{gdb: gdb}
}

// Report is one usage delta for a client. Date defaults to today (UTC).
type Report struct {
	ClientUUID       string
	Date             string
	BytesUploaded    int64
	BytesDownloaded  int64
	ConnectionsCount int64
}

// Record merges a report into the client's day bucket, creating the bucket on
// first use.
func (l *Ledger) Record(rep Report) (*db.TrafficLog, error) {
	if rep.ClientUUID == "" {
		return nil, fmt.Errorf("%w: client uuid is required", db.ErrValidation)
	}
	if rep.Date == "" {
		rep.Date = time.Now().UTC().Format("2006-01-02")
	}
	if rep.ConnectionsCount == 0 {
		rep.ConnectionsCount = 1
	}
	total := rep.BytesUploaded + rep.BytesDownloaded

	var row db.TrafficLog
	err := l.gdb.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("client_uuid = ? AND date = ?", rep.ClientUUID, rep.Date).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = db.TrafficLog{
				ClientUUID:       rep.ClientUUID,
				Date:             rep.Date,
				BytesUploaded:    rep.BytesUploaded,
				BytesDownloaded:  rep.BytesDownloaded,
				BytesTotal:       total,
				ConnectionsCount: rep.ConnectionsCount,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		row.BytesUploaded += rep.BytesUploaded
		row.BytesDownloaded += rep.BytesDownloaded
		row.BytesTotal += total
		row.ConnectionsCount += rep.ConnectionsCount
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

type QueryOptions struct {
	StartDate string
	EndDate   string
	Limit     int
}

// ByClient returns the client's day buckets, newest first.
func (l *Ledger) ByClient(clientUUID string, opts QueryOptions) ([]db.TrafficLog, error) {
	if opts.Limit <= 0 {
		opts.Limit = 30
	}

	q := l.gdb.Where("client_uuid = ?", clientUUID)
	if opts.StartDate != "" {
		q = q.Where("date >= ?", opts.StartDate)
	}
	if opts.EndDate != "" {
		q = q.Where("date <= ?", opts.EndDate)
	}

	var logs []db.TrafficLog
	err := q.Order("date DESC").Limit(opts.Limit).Find(&logs).Error
	return logs, err
}

// ClientStats is an aggregate over a client's buckets in a period.
type ClientStats struct {
	ClientUUID       string  `json:"client_uuid"`
	DaysCount        int64   `json:"days_count"`
	TotalUploaded    int64   `json:"total_uploaded"`
	TotalDownloaded  int64   `json:"total_downloaded"`
	TotalBytes       int64   `json:"total_bytes"`
	TotalConnections int64   `json:"total_connections"`
	TotalGB          float64 `json:"total_gb"`
	AvgDailyGB       float64 `json:"avg_daily_gb"`
}

func (l *Ledger) StatsForClient(clientUUID string, opts QueryOptions) (*ClientStats, error) {
	q := l.gdb.Model(&db.TrafficLog{}).Where("client_uuid = ?", clientUUID)
	if opts.StartDate != "" {
		q = q.Where("date >= ?", opts.StartDate)
	}
	if opts.EndDate != "" {
		q = q.Where("date <= ?", opts.EndDate)
	}

	var agg struct {
		DaysCount        int64
		TotalUploaded    int64
		TotalDownloaded  int64
		TotalBytes       int64
		TotalConnections int64
	}
	err := q.Select(
		"COUNT(*) AS days_count",
		"COALESCE(SUM(bytes_uploaded), 0) AS total_uploaded",
		"COALESCE(SUM(bytes_downloaded), 0) AS total_downloaded",
		"COALESCE(SUM(bytes_total), 0) AS total_bytes",
		"COALESCE(SUM(connections_count), 0) AS total_connections",
	).Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	stats := &ClientStats{
		ClientUUID:       clientUUID,
		DaysCount:        agg.DaysCount,
		TotalUploaded:    agg.TotalUploaded,
		TotalDownloaded:  agg.TotalDownloaded,
		TotalBytes:       agg.TotalBytes,
		TotalConnections: agg.TotalConnections,
		TotalGB:          toGB(agg.TotalBytes),
	}
	if agg.DaysCount > 0 {
		stats.AvgDailyGB = toGB(agg.TotalBytes / agg.DaysCount)
	}
	return stats, nil
}

// DailyStats summarizes one calendar day across all clients.
type DailyStats struct {
	Date             string  `json:"date"`
	ActiveClients    int64   `json:"active_clients"`
	TotalBytes       int64   `json:"total_bytes"`
	TotalConnections int64   `json:"total_connections"`
	TotalGB          float64 `json:"total_gb"`
}

func (l *Ledger) StatsForDay(date string) (*DailyStats, error) {
	var agg struct {
		ActiveClients    int64
		TotalBytes       int64
		TotalConnections int64
	}
	err := l.gdb.Model(&db.TrafficLog{}).Where("date = ?", date).Select(
		"COUNT(DISTINCT client_uuid) AS active_clients",
		"COALESCE(SUM(bytes_total), 0) AS total_bytes",
		"COALESCE(SUM(connections_count), 0) AS total_connections",
	).Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	return &DailyStats{
		Date:             date,
		ActiveClients:    agg.ActiveClients,
		TotalBytes:       agg.TotalBytes,
		TotalConnections: agg.TotalConnections,
		TotalGB:          toGB(agg.TotalBytes),
	}, nil
}

// TopEntry is one row of the heaviest-users report.
type TopEntry struct {
	ClientUUID       string  `json:"client_uuid"`
	TotalBytes       int64   `json:"total_bytes"`
	TotalConnections int64   `json:"total_connections"`
	TotalGB          float64 `json:"total_gb"`
}

func (l *Ledger) TopClients(opts QueryOptions) ([]TopEntry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	q := l.gdb.Model(&db.TrafficLog{})
	if opts.StartDate != "" {
		q = q.Where("date >= ?", opts.StartDate)
	}
	if opts.EndDate != "" {
		q = q.Where("date <= ?", opts.EndDate)
	}

	var entries []TopEntry
	err := q.Select(
		"client_uuid",
		"COALESCE(SUM(bytes_total), 0) AS total_bytes",
		"COALESCE(SUM(connections_count), 0) AS total_connections",
	).Group("client_uuid").Order("total_bytes DESC").Limit(opts.Limit).Scan(&entries).Error
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].TotalGB = toGB(entries[i].TotalBytes)
	}
	return entries, nil
}

// DeleteOld drops buckets older than daysToKeep and reports how many went.
func (l *Ledger) DeleteOld(daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep).Format("2006-01-02")

	res := l.gdb.Where("date < ?", cutoff).Delete(&db.TrafficLog{})
	return res.RowsAffected, res.Error
}

func toGB(bytes int64) float64 {
	return float64(bytes) / float64(policy.BytesPerGiB)
}
