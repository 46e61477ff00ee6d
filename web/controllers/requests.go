package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vpn-panel/panel/db"
	"vpn-panel/panel/extension"
)

func (a *API) CreateRequest(c *gin.Context) {
	var body struct {
		ClientUUID string `json:"client_uuid"`
		TelegramID int64  `json:"telegram_id"`
		Months     int    `json:"months"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	req, err := a.Requests.Create(body.ClientUUID, body.TelegramID, body.Months)
	if err != nil {
		// a pending duplicate comes back with the existing request attached
		if req != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "request": req})
			return
		}
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": req})
}

func (a *API) ListRequests(c *gin.Context) {
	filter := extension.ListFilter{
		Status:     db.RequestStatus(c.Query("status")),
		ClientUUID: c.Query("client_uuid"),
	}

	reqs, err := a.Requests.List(filter)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs, "count": len(reqs)})
}

func (a *API) GetRequest(c *gin.Context) {
	req, err := a.Requests.Get(c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (a *API) ApproveRequest(c *gin.Context) {
	var body struct {
		AdminTelegramID int64 `json:"admin_telegram_id"`
		Days            *int  `json:"days"`
	}
	c.ShouldBindJSON(&body)

	req, err := a.Requests.Approve(c.Param("id"), body.AdminTelegramID, body.Days)
	if err != nil {
		if req != nil {
			// approval committed, extend did not; the admin retries the extend
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "request": req})
			return
		}
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (a *API) DenyRequest(c *gin.Context) {
	var body struct {
		AdminTelegramID int64  `json:"admin_telegram_id"`
		Reason          string `json:"reason"`
	}
	c.ShouldBindJSON(&body)

	req, err := a.Requests.Deny(c.Param("id"), body.AdminTelegramID, body.Reason)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (a *API) ChangeRequestPeriod(c *gin.Context) {
	var body struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	req, err := a.Requests.ChangePeriod(c.Param("id"), body.Days)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (a *API) DeleteRequest(c *gin.Context) {
	if err := a.Requests.Delete(c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request deleted"})
}
