package main

import (
	"context"
	stlog "log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vpn-panel/panel/db"
	"vpn-panel/panel/extension"
	"vpn-panel/panel/lifecycle"
	"vpn-panel/panel/traffic"
	"vpn-panel/utils"
	"vpn-panel/web/controllers"
	"vpn-panel/web/middleware"
	"vpn-panel/xray"
)

const (
	sweepInterval     = time.Minute
	pollInterval      = 5 * time.Minute
	retentionInterval = 24 * time.Hour
)

func init() {
	utils.LoadEnv()
	db.Connect()
	db.Sync()
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		stlog.Fatalln("Error creating logger:", err)
	}
	defer logger.Sync()

	engine := xray.NewEngine(
		utils.Getenv("XRAY_CONFIG_PATH", "/usr/local/etc/xray/config.json"),
		utils.Getenv("XRAY_BACKUP_DIR", "/usr/local/etc/xray/backups"),
		xray.CommandValidator{Bin: utils.Getenv("XRAY_BIN", xray.DefaultBin)},
		xray.SystemdReloader{Unit: utils.Getenv("XRAY_SYSTEMD_UNIT", xray.DefaultSystemdUnit)},
		logger,
	)

	clients := lifecycle.NewManager(db.DB, xray.SyncAdapter{Engine: engine}, logger)
	ledger := traffic.NewLedger(db.DB)
	requests := extension.NewWorkflow(db.DB, clients, logger)

	startSweeps(clients, requests, ledger, logger)
	startPoller(clients, ledger, logger)

	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	limiter := middleware.NewRateLimiter(5, 20)
	limiter.StartCleanup(10*time.Minute, time.Hour)
	r.Use(limiter.Middleware())

	api := &controllers.API{
		Clients:  clients,
		Ledger:   ledger,
		Requests: requests,
		Engine:   engine,
		Log:      logger,
	}
	api.Register(r)

	r.Run(":" + utils.Getenv("GIN_PORT", "8080"))
}

// startSweeps runs the periodic expiry passes: subscription windows, stale
// extension requests, and old ledger buckets.
func startSweeps(clients *lifecycle.Manager, requests *extension.Workflow, ledger *traffic.Ledger, logger *zap.Logger) {
	go func() {
		for range time.Tick(sweepInterval) {
			now := time.Now()

			expired, err := clients.SweepExpired(now)
			if err != nil {
				logger.Warn("expiry sweep failed", zap.Error(err))
			} else if len(expired) > 0 {
				logger.Info("subscriptions expired", zap.Int("count", len(expired)))
			}

			if _, err := requests.ExpireOld(now); err != nil {
				logger.Warn("request expiry sweep failed", zap.Error(err))
			}
		}
	}()

	go func() {
		for range time.Tick(retentionInterval) {
			deleted, err := ledger.DeleteOld(0)
			if err != nil {
				logger.Warn("ledger retention sweep failed", zap.Error(err))
			} else if deleted > 0 {
				logger.Info("old traffic buckets deleted", zap.Int64("count", deleted))
			}
		}
	}()
}

// startPoller drains xray's per-user counters on a fixed schedule. The stats
// API being down only disables polling; manual traffic reports still work.
func startPoller(clients *lifecycle.Manager, ledger *traffic.Ledger, logger *zap.Logger) {
	stats, err := xray.DialStats(utils.Getenv("XRAY_API_ADDR", "127.0.0.1:10085"))
	if err != nil {
		logger.Warn("stats API unavailable, traffic polling disabled", zap.Error(err))
		return
	}

	poller := traffic.NewPoller(db.DB, stats, ledger, clients, logger)
	go func() {
		for range time.Tick(pollInterval) {
			ctx, cancel := context.WithTimeout(context.Background(), pollInterval/2)
			if err := poller.Poll(ctx); err != nil {
				logger.Warn("traffic poll failed", zap.Error(err))
			}
			cancel()
		}
	}()
}
