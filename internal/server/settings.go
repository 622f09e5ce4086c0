package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type taxRateRequest struct {
	TaxRate *decimal.Decimal `json:"tax_rate"`
}

func (s *Server) GetTaxRate(c *gin.Context) {
	rate, err := s.settingsSvc.TaxRate(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"tax_rate": rate}})
}

func (s *Server) UpdateTaxRate(c *gin.Context) {
	var req taxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaxRate == nil {
		AbortWithError(c, newValidationError("tax_rate", "invalid_tax_rate", "invalid tax_rate"))
		return
	}

	if err := s.settingsSvc.SetTaxRate(c.Request.Context(), *req.TaxRate); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"tax_rate": *req.TaxRate}})
}
