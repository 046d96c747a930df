package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/chargeflow/internal/usage/domain"
)

func (s *Server) IncludeSDR(c *gin.Context) {
	var sdr usagedomain.SDRInput
	if err := c.ShouldBindJSON(&sdr); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if label := strings.TrimSpace(sdr.ComponentLabel); label != "" {
		c.Set("concept", label)
	}

	accepted, err := s.usagesvc.Include(c.Request.Context(), usagedomain.IncludeRequest{
		PurchaseID: c.Param("id"),
		SDR:        sdr,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, accepted)
}
