package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
	pricingdomain "github.com/smallbiznis/previsora/internal/pricing/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErrs *ValidationErrors
	if errors.As(err, &vErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErrs.Errors,
		}
	}

	var overpay *paymentdomain.OverpayPeriodError
	if errors.As(err, &overpay) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "overpay_period",
			Message: overpay.Error(),
		}
	}
	var future *paymentdomain.PeriodInFutureError
	if errors.As(err, &future) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "period_in_future",
			Message: future.Error(),
		}
	}
	var exceeds *paymentdomain.BreakdownExceedsAmountError
	if errors.As(err, &exceeds) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "breakdown_exceeds_amount",
			Message: exceeds.Error(),
		}
	}
	var invalidRules *pricingdomain.InvalidRulesError
	if errors.As(err, &invalidRules) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_rules",
			Message: invalidRules.Error(),
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrClientUpToDate):
		return http.StatusConflict, errorPayload{
			Type:    "client_up_to_date",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrRaceConditionOverpay):
		return http.StatusConflict, errorPayload{
			Type:    "concurrent_allocation",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrNothingToAllocate):
		return http.StatusConflict, errorPayload{
			Type:    "nothing_to_allocate",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrNotReversible):
		return http.StatusConflict, errorPayload{
			Type:    "not_reversible",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrDuplicateBreakdownPeriod),
		errors.Is(err, paymentdomain.ErrNoQuota),
		errors.Is(err, period.ErrInvalidPeriod):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrMemberNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
