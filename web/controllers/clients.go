package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vpn-panel/panel/db"
	"vpn-panel/panel/lifecycle"
)

func (a *API) CreateClient(c *gin.Context) {
	var body struct {
		Name             string  `json:"name"`
		TelegramID       *int64  `json:"telegram_id"`
		Email            string  `json:"email"`
		SubscriptionDays int     `json:"subscription_days"`
		TrafficLimitGB   float64 `json:"traffic_limit_gb"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	client, err := a.Clients.Create(lifecycle.CreateParams{
		Name:             body.Name,
		TelegramID:       body.TelegramID,
		Email:            body.Email,
		SubscriptionDays: body.SubscriptionDays,
		TrafficLimitGB:   body.TrafficLimitGB,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"client": client})
}

func (a *API) ListClients(c *gin.Context) {
	filter := lifecycle.ListFilter{Status: db.ClientStatus(c.Query("status"))}

	clients, err := a.Clients.List(filter)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}

func (a *API) GetClient(c *gin.Context) {
	client, err := a.Clients.Get(c.Param("uuid"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) UpdateClient(c *gin.Context) {
	var body struct {
		Name            *string    `json:"name"`
		TelegramID      *int64     `json:"telegram_id"`
		Email           *string    `json:"email"`
		SubscriptionEnd *time.Time `json:"subscription_end"`
		TrafficLimitGB  *float64   `json:"traffic_limit_gb"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	client, err := a.Clients.Update(c.Param("uuid"), lifecycle.UpdateParams{
		Name:            body.Name,
		TelegramID:      body.TelegramID,
		Email:           body.Email,
		SubscriptionEnd: body.SubscriptionEnd,
		TrafficLimitGB:  body.TrafficLimitGB,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) DeleteClient(c *gin.Context) {
	if err := a.Clients.Delete(c.Param("uuid")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client deleted"})
}

func (a *API) ExtendClient(c *gin.Context) {
	var body struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	client, err := a.Clients.Extend(c.Param("uuid"), body.Days)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) BlockClient(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	c.ShouldBindJSON(&body)

	client, err := a.Clients.Block(c.Param("uuid"), body.Reason)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) UnblockClient(c *gin.Context) {
	client, err := a.Clients.Unblock(c.Param("uuid"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) WarnClient(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	client, warnings, blockFor, err := a.Clients.IssueWarning(c.Param("uuid"), body.Reason)
	if err != nil {
		a.fail(c, err)
		return
	}

	resp := gin.H{
		"client":         client,
		"warnings_count": warnings,
		"permanent":      blockFor == nil,
	}
	if blockFor != nil {
		resp["block_seconds"] = int64(blockFor.Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) ResetWarnings(c *gin.Context) {
	client, err := a.Clients.ResetWarnings(c.Param("uuid"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) ResetTraffic(c *gin.Context) {
	client, err := a.Clients.ResetTraffic(c.Param("uuid"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (a *API) SubscriptionSummary(c *gin.Context) {
	summary, err := a.Clients.Summary(c.Param("uuid"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": summary})
}

func (a *API) ClientStatus(c *gin.Context) {
	flags, err := a.Clients.Flags(c.Param("uuid"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}
