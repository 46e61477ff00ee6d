package traffic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vpn-panel/panel/db"
	"vpn-panel/panel/policy"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&db.TrafficLog{}))
	return NewLedger(gdb)
}

func TestRecordCreatesDayBucket(t *testing.T) {
	l := newTestLedger(t)

	row, err := l.Record(Report{
		ClientUUID:      "u1",
		Date:            "2026-09-01",
		BytesUploaded:   100,
		BytesDownloaded: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(100), row.BytesUploaded)
	assert.Equal(t, int64(200), row.BytesDownloaded)
	assert.Equal(t, int64(300), row.BytesTotal)
	assert.Equal(t, int64(1), row.ConnectionsCount)
}

func TestRecordMergesSameDay(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(Report{ClientUUID: "u1", Date: "2026-09-01", BytesUploaded: 100, BytesDownloaded: 200})
	require.NoError(t, err)

	row, err := l.Record(Report{ClientUUID: "u1", Date: "2026-09-01", BytesUploaded: 50, BytesDownloaded: 50, ConnectionsCount: 3})
	require.NoError(t, err)

	assert.Equal(t, int64(150), row.BytesUploaded)
	assert.Equal(t, int64(250), row.BytesDownloaded)
	assert.Equal(t, int64(400), row.BytesTotal)
	assert.Equal(t, int64(4), row.ConnectionsCount)

	logs, err := l.ByClient("u1", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRecordRequiresClient(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(Report{})
	assert.ErrorIs(t, err, db.ErrValidation)
}

func TestByClientOrderAndRange(t *testing.T) {
	l := newTestLedger(t)

	for _, date := range []string{"2026-08-28", "2026-08-29", "2026-08-30", "2026-08-31"} {
		_, err := l.Record(Report{ClientUUID: "u1", Date: date, BytesDownloaded: 10})
		require.NoError(t, err)
	}

	logs, err := l.ByClient("u1", QueryOptions{StartDate: "2026-08-29", EndDate: "2026-08-30"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "2026-08-30", logs[0].Date)
	assert.Equal(t, "2026-08-29", logs[1].Date)
}

func TestStatsForClient(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(Report{ClientUUID: "u1", Date: "2026-08-30", BytesUploaded: policy.BytesPerGiB})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "u1", Date: "2026-08-31", BytesDownloaded: policy.BytesPerGiB})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "u2", Date: "2026-08-31", BytesDownloaded: 5 * policy.BytesPerGiB})
	require.NoError(t, err)

	stats, err := l.StatsForClient("u1", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DaysCount)
	assert.Equal(t, 2*policy.BytesPerGiB, stats.TotalBytes)
	assert.InDelta(t, 2.0, stats.TotalGB, 0.001)
	assert.InDelta(t, 1.0, stats.AvgDailyGB, 0.001)
}

func TestStatsForClientEmpty(t *testing.T) {
	l := newTestLedger(t)

	stats, err := l.StatsForClient("nobody", QueryOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.DaysCount)
	assert.Zero(t, stats.TotalBytes)
	assert.Zero(t, stats.AvgDailyGB)
}

func TestStatsForDay(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(Report{ClientUUID: "u1", Date: "2026-08-31", BytesDownloaded: 100})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "u2", Date: "2026-08-31", BytesDownloaded: 200})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "u1", Date: "2026-08-30", BytesDownloaded: 999})
	require.NoError(t, err)

	stats, err := l.StatsForDay("2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ActiveClients)
	assert.Equal(t, int64(300), stats.TotalBytes)
}

func TestTopClients(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(Report{ClientUUID: "light", Date: "2026-08-31", BytesDownloaded: 100})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "heavy", Date: "2026-08-30", BytesDownloaded: 500})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "heavy", Date: "2026-08-31", BytesDownloaded: 500})
	require.NoError(t, err)

	top, err := l.TopClients(QueryOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "heavy", top[0].ClientUUID)
	assert.Equal(t, int64(1000), top[0].TotalBytes)
}

func TestDeleteOld(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(Report{ClientUUID: "u1", Date: "2000-01-01", BytesDownloaded: 100})
	require.NoError(t, err)
	_, err = l.Record(Report{ClientUUID: "u1", BytesDownloaded: 100}) // today
	require.NoError(t, err)

	deleted, err := l.DeleteOld(90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	logs, err := l.ByClient("u1", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
