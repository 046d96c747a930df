package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
)

type chargeRequest struct {
	NewPurchase   bool                `json:"new_purchase"`
	UseSDR        bool                `json:"use_sdr"`
	PaymentMethod string              `json:"payment_method"`
	Gateway       string              `json:"gateway"`
	Card          *paymentdomain.Card `json:"card"`
}

type chargeResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func (s *Server) ResolveCharging(c *gin.Context) {
	purchaseID, err := parsePurchaseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req chargeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	method, err := paymentdomain.ParseMethod(req.PaymentMethod, req.Gateway, req.Card, s.defaultPaymentMethod())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outcome, err := s.chargingsvc.ResolveCharging(c.Request.Context(), chargingdomain.ChargeRequest{
		PurchaseID:  purchaseID,
		Method:      method,
		NewPurchase: req.NewPurchase,
		UseSDR:      req.UseSDR,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if outcome != nil {
		c.Set("concept", outcome.Concept)
	}

	if outcome.Pending() {
		c.JSON(http.StatusOK, chargeResponse{RedirectURL: outcome.RedirectURL})
		return
	}
	c.Status(http.StatusNoContent)
}

// EndCharging is the return URL the gateway sends the customer back to after
// approving the payment.
func (s *Server) EndCharging(c *gin.Context) {
	purchaseID, err := parsePurchaseID(c.Query("purchase_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		AbortWithError(c, paymentdomain.ErrMissingToken)
		return
	}

	outcome, err := s.chargingsvc.EndCharging(c.Request.Context(), chargingdomain.Completion{
		PurchaseID: purchaseID,
		Token:      token,
		PayerID:    strings.TrimSpace(c.Query("PayerID")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if outcome == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Set("concept", outcome.Concept)

	c.JSON(http.StatusOK, outcome)
}

func (s *Server) CancelCharging(c *gin.Context) {
	purchaseID, err := parsePurchaseID(c.Query("purchase_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cancelled, err := s.chargingsvc.CancelCharging(c.Request.Context(), purchaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func parsePurchaseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, chargingdomain.ErrInvalidPurchaseID
	}
	return id, nil
}
