package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type revenueModelRequest struct {
	ProductClass string          `json:"product_class"`
	Percentage   decimal.Decimal `json:"percentage"`
}

func (s *Server) RegisterRevenueModel(c *gin.Context) {
	if s.revenue == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req revenueModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	model, err := s.revenue.RegisterRevenueModel(c.Request.Context(), req.ProductClass, req.Percentage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model)
}
