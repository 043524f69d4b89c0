package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	paymentdomain "github.com/sahayak-app/sahayak/internal/payment/domain"
)

func (s *Server) GetPayment(c *gin.Context) {
	paymentID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.Get(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// RefundPayment refunds a captured payment. Omitting the amount refunds the
// full remaining balance.
func (s *Server) RefundPayment(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if principal.Role != authdomain.RoleAdmin {
		AbortWithError(c, ErrForbidden)
		return
	}

	paymentID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.Refund(c.Request.Context(), paymentID, req.Amount, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// HandleGatewayWebhook ingests a provider callback. Duplicate deliveries and
// contradictory events acknowledge with 200 so the provider stops resending;
// a bad signature rejects with 400.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	signature := strings.TrimSpace(c.GetHeader("X-Razorpay-Signature"))

	err = s.webhooks.Ingest(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed),
			errors.Is(err, paymentdomain.ErrInvalidState),
			errors.Is(err, paymentdomain.ErrEventIgnored):
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
