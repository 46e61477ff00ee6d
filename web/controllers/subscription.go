package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"vpn-panel/subscription"
)

// Subscription serves the client's importable bundle. Knowing the uuid is the
// credential; anything other than a fully active subscriber gets 403 so proxy
// apps show the block instead of silently failing to connect.
func (a *API) Subscription(c *gin.Context) {
	uuid := c.Param("uuid")

	client, err := a.Clients.Get(uuid)
	if err != nil {
		a.fail(c, err)
		return
	}

	flags, err := a.Clients.Flags(uuid)
	if err != nil {
		a.fail(c, err)
		return
	}
	if !flags.IsActive {
		reason := "Subscription is not active"
		if flags.BlockedReason != nil {
			reason = *flags.BlockedReason
		}
		c.JSON(http.StatusForbidden, gin.H{"error": reason, "status": flags.Status})
		return
	}

	bundle := subscription.Generate(subscription.ParamsFromEnv(uuid, client.Name))

	if c.Query("format") == "json" {
		data, err := bundle.EncodeJSON()
		if err != nil {
			a.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(bundle.EncodeBase64()))
}

// SubscriptionQR renders the subscription URL as a PNG for one-scan import.
func (a *API) SubscriptionQR(c *gin.Context) {
	uuid := c.Param("uuid")

	if _, err := a.Clients.Get(uuid); err != nil {
		a.fail(c, err)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	link := scheme + "://" + c.Request.Host + "/sub/" + uuid

	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
