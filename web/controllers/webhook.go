package controllers

import (
	"io"
	"net/http"
	"strings"

	"go-smsrelay/messaging"
	"go-smsrelay/payment/blockchain"
	"go-smsrelay/payment/relay"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BlockchainWebhook receives the provider's confirmation callback. On
// success the carrier's answer to the send is passed through.
func (h *Handler) BlockchainWebhook(c *gin.Context) {
	sessionID := c.Param("id")
	eventID := c.GetHeader("X-EventId")
	eventType := c.GetHeader("X-EventType")
	if sessionID == "" || eventID == "" || eventType == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing event headers"})
		return
	}
	if eventType != blockchain.EventTxConfirmation {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unexpected event type"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return
	}
	if h.signatures != nil {
		if err := h.signatures.Verify(c.Request, payload); err != nil {
			h.log.WithError(err).WithField("event_id", eventID).Warn("rejected unsigned provider callback")
			abortWithError(c, err)
			return
		}
	}

	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "event_id": eventID})
	res, err := h.relay.HandleBlockchainWebhook(c.Request.Context(), sessionID, payload)
	if err != nil {
		log.WithError(err).Info("blockchain callback refused")
		abortWithError(c, err)
		return
	}
	if res.Duplicate {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "session_id": sessionID})
		return
	}
	c.Data(http.StatusOK, "application/json", res.CarrierResponse)
}

// CarrierWebhook receives delivery status reports for a sent message.
func (h *Handler) CarrierWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid form"})
		return
	}

	if h.carrierToken != "" {
		fullURL := strings.TrimRight(h.publicBase, "/") + c.Request.RequestURI
		sig := c.GetHeader("X-Twilio-Signature")
		if !messaging.ValidateSignature(h.carrierToken, fullURL, c.Request.PostForm, sig) {
			h.log.WithField("url", fullURL).Warn("rejected unsigned carrier callback")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
	}

	messageID := c.PostForm("MessageSid")
	if messageID == "" {
		messageID = c.PostForm("SmsSid")
	}
	st := relay.CarrierStatus{Status: c.PostForm("MessageStatus"), MessageID: messageID}

	rec, err := h.relay.HandleCarrierCallback(c.Request.Context(), c.Param("id"), st)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":     rec.ID,
		"message_status": rec.MessageStatus,
		"carrier_status": rec.CarrierStatus,
	})
}
