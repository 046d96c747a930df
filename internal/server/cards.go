package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
)

// cardOnFileRequest registers a card the processor already vaulted. Raw card
// numbers are never accepted here.
type cardOnFileRequest struct {
	Token       string `json:"token"`
	Type        string `json:"type"`
	LastFour    string `json:"last_four"`
	ExpireMonth int    `json:"expire_month"`
	ExpireYear  int    `json:"expire_year"`
	HolderName  string `json:"holder_name"`
}

func (s *Server) SaveCardOnFile(c *gin.Context) {
	if s.cards == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req cardOnFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	saved, err := s.cards.Save(c.Request.Context(), paymentdomain.StoredCard{
		Customer:    strings.TrimSpace(c.Param("customer")),
		Token:       req.Token,
		Type:        strings.TrimSpace(req.Type),
		LastFour:    strings.TrimSpace(req.LastFour),
		ExpireMonth: req.ExpireMonth,
		ExpireYear:  req.ExpireYear,
		HolderName:  strings.TrimSpace(req.HolderName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

func (s *Server) RemoveCardOnFile(c *gin.Context) {
	if s.cards == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if err := s.cards.Remove(c.Request.Context(), c.Param("customer")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
