package traffic

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"vpn-panel/panel/db"
	"vpn-panel/xray"
)

// StatsSource reads per-user byte counters from the running proxy.
type StatsSource interface {
	QueryUserTraffic(ctx context.Context, email string, reset bool) (up, down int64, err error)
}

// UsageSink receives consumed-byte deltas; in production this is the
// lifecycle manager, which may auto-block on quota breach.
type UsageSink interface {
	RecordUsage(clientUUID string, bytesUsed int64) (*db.Client, error)
}

// Poller drains the proxy's traffic counters into the ledger and the
// subscriber records. It has no timer of its own; the caller invokes Poll on
// whatever schedule it wants.
type Poller struct {
	gdb    *gorm.DB
	src    StatsSource
	ledger *Ledger
	sink   UsageSink
	log    *zap.Logger
}

func NewPoller(gdb *gorm.DB, src StatsSource, ledger *Ledger, sink UsageSink, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{gdb: gdb, src: src, ledger: ledger, sink: sink, log: log}
}

// Poll queries the counters for every active subscriber, resetting them so
// each poll reads deltas, and records what it finds. Per-client failures are
// logged and skipped; the sweep continues.
func (p *Poller) Poll(ctx context.Context) error {
	var clients []db.Client
	err := p.gdb.Where("status = ?", db.StatusActive).Find(&clients).Error
	if err != nil {
		return err
	}

	today := time.Now().UTC().Format("2006-01-02")
	for _, client := range clients {
		email := xray.AccountEmail(client.UUID, client.Name)

		up, down, err := p.src.QueryUserTraffic(ctx, email, true)
		if err != nil {
			p.log.Warn("traffic query failed",
				zap.String("uuid", client.UUID),
				zap.Error(err))
			continue
		}
		if up == 0 && down == 0 {
			continue
		}

		if _, err := p.ledger.Record(Report{
			ClientUUID:      client.UUID,
			Date:            today,
			BytesUploaded:   up,
			BytesDownloaded: down,
		}); err != nil {
			p.log.Warn("ledger write failed",
				zap.String("uuid", client.UUID),
				zap.Error(err))
		}

		if _, err := p.sink.RecordUsage(client.UUID, up+down); err != nil {
			p.log.Warn("usage update failed",
				zap.String("uuid", client.UUID),
				zap.Error(err))
		}
	}
	return nil
}
