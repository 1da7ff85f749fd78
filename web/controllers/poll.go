package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go-smsrelay/payment/relay"
	"go-smsrelay/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type pollBody struct {
	Body    string `form:"Body" json:"Body"`
	PhoneTo string `form:"PhoneTo" json:"PhoneTo"`
	Address string `form:"Address" json:"Address"`
	Amount  string `form:"Amount" json:"Amount"`
}

// Poll advances the caller's payment session and answers with the state as
// a bare integer. Gateway trouble is reported as the error state with 200 so
// the client keeps polling.
func (h *Handler) Poll(c *gin.Context) {
	var body pollBody
	if err := c.ShouldBind(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}
	req := relay.PollRequest{
		Body:           body.Body,
		RecipientPhone: strings.TrimSpace(body.PhoneTo),
		Address:        strings.TrimSpace(body.Address),
		Amount:         amount,
	}

	if !h.relay.Currency().SameAddress(c.GetString(middleware.AddressKey), req.Address) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Address does not belong to this session"})
		return
	}

	state, err := h.relay.Poll(c.Request.Context(), req)
	if errors.Is(err, relay.ErrMalformedRequest) {
		abortWithError(c, err)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("address", req.Address).Warn("poll failed")
	}
	c.String(http.StatusOK, strconv.Itoa(int(state)))
}

// BadPollMethod rejects anything but POST on the poll route.
func BadPollMethod(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Bad request"})
}
