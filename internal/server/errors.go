package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	cdrdomain "github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"github.com/smallbiznis/chargeflow/internal/charging"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	usagedomain "github.com/smallbiznis/chargeflow/internal/usage/domain"
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

var (
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// domainValidation lists the request errors the services return, with the
// field and code reported to clients. The message is the error text.
var domainValidation = []struct {
	err   error
	field string
	code  string
}{
	{chargingdomain.ErrInvalidPurchaseID, "purchase_id", "invalid_purchase_id"},
	{usagedomain.ErrInvalidPurchaseID, "purchase_id", "invalid_purchase_id"},
	{chargingdomain.ErrPaymentMethodRequired, "payment_method", "payment_method_required"},
	{chargingdomain.ErrTokenMismatch, "token", "payment_token_mismatch"},
	{chargingdomain.ErrNoSDRsToCharge, "use_sdr", "no_sdrs_to_charge"},
	{chargingdomain.ErrNothingToCharge, "purchase_id", "nothing_to_charge"},
	{paymentdomain.ErrInvalidPaymentMethod, "payment_method", "invalid_payment_method"},
	{paymentdomain.ErrCardRequired, "card", "card_required"},
	{paymentdomain.ErrGatewayRequired, "gateway", "gateway_required"},
	{paymentdomain.ErrMissingToken, "token", "missing_token"},
	{paymentdomain.ErrUnsupportedFlow, "payment_method", "unsupported_payment_flow"},
	{paymentdomain.ErrCustomerRequired, "customer", "customer_required"},
	{paymentdomain.ErrCardTokenRequired, "token", "card_token_required"},
	{paymentdomain.ErrInvalidCardExpiry, "expire_month", "invalid_card_expiry"},
	{usagedomain.ErrInvalidCorrelation, "correlation_number", "invalid_correlation"},
	{usagedomain.ErrInvalidTimestamp, "time_stamp", "invalid_time_stamp"},
	{usagedomain.ErrOfferingMismatch, "offering", "offering_mismatch"},
	{usagedomain.ErrNoPayPerUse, "offering", "no_pay_per_use"},
	{cdrdomain.ErrInvalidProductClass, "product_class", "invalid_product_class"},
	{cdrdomain.ErrInvalidRevenueShare, "percentage", "invalid_revenue_share"},
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

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    validationErrorCode(err),
					Message: err.Error(),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, usagedomain.ErrNotPurchased):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, paymentdomain.ErrPaymentFailed):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_failed",
			Message: "payment failed",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, purchasedomain.ErrContractLocked),
		errors.Is(err, purchasedomain.ErrContractNotLocked),
		errors.Is(err, purchasedomain.ErrContractChanged),
		errors.Is(err, chargingdomain.ErrPaymentInProgress),
		errors.Is(err, chargingdomain.ErrNoPendingPayment),
		errors.Is(err, chargingdomain.ErrPurchaseRolledBack):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, cdrdomain.ErrSinkUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog reports the error type and code the request logger
// attaches to failed requests.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if status == http.StatusInternalServerError {
		return payload.Type, "internal_error"
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	if errors.Is(err, ErrInvalidRequest) {
		return true
	}
	for _, v := range domainValidation {
		if errors.Is(err, v.err) {
			return true
		}
	}
	return charging.IsValidation(err)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, purchasedomain.ErrPurchaseNotFound),
		errors.Is(err, purchasedomain.ErrContractNotFound),
		errors.Is(err, paymentdomain.ErrGatewayNotFound),
		errors.Is(err, paymentdomain.ErrCardNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, v := range domainValidation {
		if errors.Is(err, v.err) {
			return v.code
		}
	}
	return "invalid_request"
}

func validationErrorField(err error) string {
	for _, v := range domainValidation {
		if errors.Is(err, v.err) {
			return v.field
		}
	}
	return "request"
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, chargingdomain.ErrPaymentInProgress),
		errors.Is(err, purchasedomain.ErrContractLocked),
		errors.Is(err, purchasedomain.ErrContractNotLocked):
		return "payment in progress"
	case errors.Is(err, chargingdomain.ErrNoPendingPayment):
		return "no pending payment"
	case errors.Is(err, chargingdomain.ErrPurchaseRolledBack):
		return "purchase rolled back"
	default:
		return "conflict"
	}
}
