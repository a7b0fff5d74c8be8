package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	paymentservice "github.com/smallbiznis/previsora/internal/payment/service"
)

type postPaymentRequest struct {
	IdempotencyKey string                       `json:"idempotency_key"`
	MemberID       string                       `json:"member_id"`
	Amount         int64                        `json:"amount"`
	Method         string                       `json:"method"`
	Channel        string                       `json:"channel"`
	Breakdown      []paymentdomain.PeriodAmount `json:"breakdown,omitempty"`
	ExternalRef    string                       `json:"external_ref,omitempty"`
	CollectorID    string                       `json:"collector_id,omitempty"`
	OperatorUserID string                       `json:"operator_user_id,omitempty"`
	CashSessionID  string                       `json:"cash_session_id,omitempty"`
	Metadata       map[string]any               `json:"metadata,omitempty"`
}

func (s *Server) PostPayment(c *gin.Context) {
	var req postPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if header := strings.TrimSpace(c.GetHeader("Idempotency-Key")); header != "" {
		req.IdempotencyKey = header
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		AbortWithError(c, newValidationError("idempotency_key", "required", "idempotency key is required"))
		return
	}

	memberID, err := parseSnowflake(req.MemberID)
	if err != nil {
		AbortWithError(c, newValidationError("member_id", "invalid_member_id", "invalid member id"))
		return
	}

	post := paymentservice.PostRequest{
		IdempotencyKey: req.IdempotencyKey,
		MemberID:       memberID,
		Amount:         req.Amount,
		Method:         paymentdomain.Method(req.Method),
		Channel:        paymentdomain.Channel(req.Channel),
		Breakdown:      req.Breakdown,
		ExternalRef:    strings.TrimSpace(req.ExternalRef),
		Metadata:       req.Metadata,
	}
	if post.Method == "" {
		post.Method = paymentdomain.MethodCash
	}
	if post.Channel == "" {
		post.Channel = paymentdomain.ChannelOffice
	}

	if post.CollectorID, err = parseOptionalSnowflake(req.CollectorID); err != nil {
		AbortWithError(c, newValidationError("collector_id", "invalid_collector_id", "invalid collector id"))
		return
	}
	if post.OperatorUserID, err = parseOptionalSnowflake(req.OperatorUserID); err != nil {
		AbortWithError(c, newValidationError("operator_user_id", "invalid_operator_user_id", "invalid operator user id"))
		return
	}
	if post.CashSessionID, err = parseOptionalSnowflake(req.CashSessionID); err != nil {
		AbortWithError(c, newValidationError("cash_session_id", "invalid_cash_session_id", "invalid cash session id"))
		return
	}

	result, err := s.paymentSvc.Post(c.Request.Context(), post)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": gin.H{
		"payment":  result.Payment,
		"receipt":  result.Receipt,
		"replayed": result.Replayed,
	}})
}

type reversePaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

func (s *Server) ReversePayment(c *gin.Context) {
	paymentID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_payment_id", "invalid payment id"))
		return
	}

	var req reversePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if header := strings.TrimSpace(c.GetHeader("Idempotency-Key")); header != "" {
		req.IdempotencyKey = header
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		AbortWithError(c, newValidationError("idempotency_key", "required", "idempotency key is required"))
		return
	}

	result, err := s.paymentSvc.Reverse(c.Request.Context(), paymentID, req.IdempotencyKey, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"reversal": result.Payment,
		"replayed": result.Replayed,
	}})
}

func parseSnowflake(raw string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(id), nil
}

func parseOptionalSnowflake(raw string) (*snowflake.ID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := parseSnowflake(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
