package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"vpn-panel/panel/traffic"
)

func (a *API) ClientTraffic(c *gin.Context) {
	uuid := c.Param("uuid")
	opts := traffic.QueryOptions{
		StartDate: c.Query("start"),
		EndDate:   c.Query("end"),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		opts.Limit = limit
	}

	if _, err := a.Clients.Get(uuid); err != nil {
		a.fail(c, err)
		return
	}

	logs, err := a.Ledger.ByClient(uuid, opts)
	if err != nil {
		a.fail(c, err)
		return
	}
	stats, err := a.Ledger.StatsForClient(uuid, opts)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats, "days": logs})
}

// ReportTraffic accepts one usage delta, books it into the ledger and charges
// it against the client's quota.
func (a *API) ReportTraffic(c *gin.Context) {
	var body struct {
		ClientUUID      string `json:"client_uuid"`
		Date            string `json:"date"`
		BytesUploaded   int64  `json:"bytes_uploaded"`
		BytesDownloaded int64  `json:"bytes_downloaded"`
		Connections     int64  `json:"connections"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	row, err := a.Ledger.Record(traffic.Report{
		ClientUUID:       body.ClientUUID,
		Date:             body.Date,
		BytesUploaded:    body.BytesUploaded,
		BytesDownloaded:  body.BytesDownloaded,
		ConnectionsCount: body.Connections,
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	client, err := a.Clients.RecordUsage(body.ClientUUID, body.BytesUploaded+body.BytesDownloaded)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"log": row, "client": client})
}

func (a *API) DailyStats(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	stats, err := a.Ledger.StatsForDay(date)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) TopClients(c *gin.Context) {
	opts := traffic.QueryOptions{
		StartDate: c.Query("start"),
		EndDate:   c.Query("end"),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		opts.Limit = limit
	}

	entries, err := a.Ledger.TopClients(opts)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"top": entries})
}

// SystemStats reports host health for the admin dashboard.
func (a *API) SystemStats(c *gin.Context) {
	resp := gin.H{}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["mem_total"] = vm.Total
		resp["mem_used"] = vm.Used
		resp["mem_percent"] = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		resp["disk_total"] = du.Total
		resp["disk_used"] = du.Used
		resp["disk_percent"] = du.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		resp["uptime_seconds"] = uptime
	}

	c.JSON(http.StatusOK, resp)
}

// ConfigPresence exposes the credentials currently present in the live proxy
// config, for auditing drift against the database.
func (a *API) ConfigPresence(c *gin.Context) {
	presence, err := a.Engine.ListPresence()
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": presence, "count": len(presence)})
}
