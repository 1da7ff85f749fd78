package controllers

import (
	"net/http"

	"go-smsrelay/payment/currency"
	"go-smsrelay/payment/qrcode"

	"github.com/gin-gonic/gin"
)

// Invoice hands out a fresh payment address together with the session token
// the client must present when polling for it.
func (h *Handler) Invoice(c *gin.Context) {
	inv, err := h.relay.NewInvoice(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Payment provider unavailable, try again later"})
		return
	}

	token, err := h.sessions.Issue(inv.Address)
	if err != nil {
		h.log.WithError(err).Error("failed to sign session")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	resp := gin.H{
		"address":           inv.Address,
		"amount":            currency.Format(inv.Amount),
		"currency":          inv.Currency,
		"iso4217":           inv.ISO4217,
		"uri":               inv.URI,
		"min_confirmations": inv.MinConfirmations,
		"token":             token,
	}
	if qr, err := qrcode.DataURI(inv.URI); err == nil {
		resp["qr"] = qr
	} else {
		h.log.WithError(err).Warn("qr code generation failed")
	}
	c.JSON(http.StatusOK, resp)
}
