// Package controllers holds the gin handlers of the relay: the client poll
// protocol, the invoice, the provider callbacks and the operator endpoints.
package controllers

import (
	"context"
	"errors"
	"net/http"

	"go-smsrelay/payment/blockchain"
	"go-smsrelay/payment/lock"
	"go-smsrelay/payment/relay"
	"go-smsrelay/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody bounds the callback payloads read into memory.
const maxWebhookBody = 1 << 20

type Options struct {
	Relay    *relay.Relay
	Sessions *middleware.Sessions
	// Signatures verifies provider callbacks. Nil disables the check.
	Signatures *blockchain.SignatureVerifier
	// CarrierToken enables carrier callback signature checks when set.
	CarrierToken string
	// PublicBase is the externally visible base URL the carrier signs.
	PublicBase string
	Logger     *logrus.Logger
}

type Handler struct {
	relay        *relay.Relay
	sessions     *middleware.Sessions
	signatures   *blockchain.SignatureVerifier
	carrierToken string
	publicBase   string
	log          *logrus.Logger
}

func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{
		relay:        opts.Relay,
		sessions:     opts.Sessions,
		signatures:   opts.Signatures,
		carrierToken: opts.CarrierToken,
		publicBase:   opts.PublicBase,
		log:          opts.Logger,
	}
}

// statusOf maps relay errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, relay.ErrMalformedRequest),
		errors.Is(err, relay.ErrPaymentNotConfirmed),
		errors.Is(err, relay.ErrCarrier),
		errors.Is(err, blockchain.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrNotStuck):
		return http.StatusConflict
	case errors.Is(err, relay.ErrProviderUnavailable),
		errors.Is(err, lock.ErrLockHeld),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError answers with the status mapped from err. Server side
// failures are not described to the caller.
func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
