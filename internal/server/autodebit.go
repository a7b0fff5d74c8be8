package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/previsora/internal/autodebit"
)

type importAutoDebitRequest struct {
	BatchID string             `json:"batch_id"`
	Records []autodebit.Record `json:"records"`
}

func (s *Server) ImportAutoDebit(c *gin.Context) {
	var req importAutoDebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.BatchID) == "" {
		AbortWithError(c, newValidationError("batch_id", "required", "batch id is required"))
		return
	}
	if len(req.Records) == 0 {
		AbortWithError(c, newValidationError("records", "required", "records must not be empty"))
		return
	}

	summary, err := s.importer.Import(c.Request.Context(), strings.TrimSpace(req.BatchID), req.Records)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
