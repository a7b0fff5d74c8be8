package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/previsora/internal/debt"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
)

func (s *Server) GetMemberStatement(c *gin.Context) {
	memberID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_member_id", "invalid member id"))
		return
	}

	member, err := s.memberRepo.FindByID(c.Request.Context(), memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if member == nil {
		AbortWithError(c, paymentdomain.ErrMemberNotFound)
		return
	}

	opts := debt.Opts{}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		p, err := period.Parse(raw)
		if err != nil {
			AbortWithError(c, newValidationError("from", "invalid_period", "invalid from period"))
			return
		}
		opts.From = &p
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		p, err := period.Parse(raw)
		if err != nil {
			AbortWithError(c, newValidationError("to", "invalid_period", "invalid to period"))
			return
		}
		opts.To = &p
	}
	if raw := strings.TrimSpace(c.Query("include_future")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			AbortWithError(c, newValidationError("include_future", "invalid_include_future", "invalid include_future"))
			return
		}
		opts.IncludeFuture = n
		if n == 0 {
			opts.IncludeFuture = -1
		}
	}
	// Back-office callers see real delinquency without the grace window.
	if raw := strings.TrimSpace(c.Query("administrative")); raw != "" {
		opts.AdministrativeView, _ = strconv.ParseBool(raw)
	}

	statement, err := s.debtEngine.Statement(c.Request.Context(), member, opts)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statement})
}
