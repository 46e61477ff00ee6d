// Package controllers wires the panel operations to the HTTP API.
package controllers

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"vpn-panel/panel/db"
	"vpn-panel/panel/extension"
	"vpn-panel/panel/lifecycle"
	"vpn-panel/panel/traffic"
	"vpn-panel/web/middleware"
	"vpn-panel/xray"
)

type API struct {
	Clients  *lifecycle.Manager
	Ledger   *traffic.Ledger
	Requests *extension.Workflow
	Engine   *xray.Engine
	Log      *zap.Logger
}

func (a *API) Register(r *gin.Engine) {
	r.GET("/health", a.Health)
	r.POST("/api/login", a.Login)

	// subscription delivery is credential-authenticated by the uuid itself
	r.GET("/sub/:uuid", a.Subscription)
	r.GET("/sub/:uuid/qr", a.SubscriptionQR)

	admin := r.Group("/api", middleware.RequireAuth)
	{
		admin.POST("/clients", a.CreateClient)
		admin.GET("/clients", a.ListClients)
		admin.GET("/clients/:uuid", a.GetClient)
		admin.PATCH("/clients/:uuid", a.UpdateClient)
		admin.DELETE("/clients/:uuid", a.DeleteClient)

		admin.POST("/clients/:uuid/extend", a.ExtendClient)
		admin.POST("/clients/:uuid/block", a.BlockClient)
		admin.POST("/clients/:uuid/unblock", a.UnblockClient)
		admin.POST("/clients/:uuid/warn", a.WarnClient)
		admin.POST("/clients/:uuid/reset-warnings", a.ResetWarnings)
		admin.POST("/clients/:uuid/reset-traffic", a.ResetTraffic)

		admin.GET("/clients/:uuid/subscription", a.SubscriptionSummary)
		admin.GET("/clients/:uuid/status", a.ClientStatus)
		admin.GET("/clients/:uuid/traffic", a.ClientTraffic)

		admin.POST("/traffic/report", a.ReportTraffic)
		admin.GET("/stats/daily", a.DailyStats)
		admin.GET("/stats/top", a.TopClients)
		admin.GET("/stats/system", a.SystemStats)

		admin.GET("/config/presence", a.ConfigPresence)

		admin.POST("/requests", a.CreateRequest)
		admin.GET("/requests", a.ListRequests)
		admin.GET("/requests/:id", a.GetRequest)
		admin.POST("/requests/:id/approve", a.ApproveRequest)
		admin.POST("/requests/:id/deny", a.DenyRequest)
		admin.PATCH("/requests/:id/period", a.ChangeRequestPeriod)
		admin.DELETE("/requests/:id", a.DeleteRequest)
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login checks the admin password against ADMIN_PASSWORD_HASH and hands out a
// session token.
func (a *API) Login(c *gin.Context) {
	var body struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required"})
		return
	}

	hash := os.Getenv("ADMIN_PASSWORD_HASH")
	if hash == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Admin login not configured"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	token, err := middleware.IssueToken()
	if err != nil {
		a.Log.Error("token signing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// fail maps panel errors to HTTP statuses and renders the standard error body.
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		a.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
