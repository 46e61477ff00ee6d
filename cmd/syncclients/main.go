// Command syncclients reconciles the whole database against the live xray
// config in one pass. Run it after restoring a backup or whenever the config
// may have drifted from the subscriber records.
package main

import (
	"flag"
	"fmt"
	stlog "log"
	"time"

	"go.uber.org/zap"

	"vpn-panel/panel/db"
	"vpn-panel/utils"
	"vpn-panel/xray"
)

func init() {
	utils.LoadEnv()
	db.Connect()
	db.Sync()
}

func main() {
	dryRun := flag.Bool("dry-run", false, "print the desired presence without touching the config")
	flag.Parse()

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

	var clients []db.Client
	if err := db.DB.Find(&clients).Error; err != nil {
		stlog.Fatalln("Error loading clients:", err)
	}

	now := time.Now()
	var synced, changed, failed int
	for _, client := range clients {
		present := client.Status == db.StatusActive &&
			client.SubscriptionEnd.After(now) &&
			(client.TrafficLimitBytes <= 0 || client.TrafficUsedBytes < client.TrafficLimitBytes)

		if *dryRun {
			fmt.Printf("%s  %-20s  present=%v\n", client.UUID, client.Name, present)
			continue
		}

		res, err := engine.Reconcile(client.UUID, client.Name, present)
		if err != nil {
			failed++
			logger.Error("reconcile failed",
				zap.String("uuid", client.UUID),
				zap.Bool("present", present),
				zap.Error(err))
			continue
		}
		synced++
		if len(res.Changed) > 0 {
			changed++
		}
	}

	if !*dryRun {
		fmt.Printf("Synced %d clients (%d changed, %d failed)\n", synced, changed, failed)
	}
}
