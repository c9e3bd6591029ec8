package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/availability"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	listingdomain "github.com/smallbiznis/stayledger/internal/listing/domain"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	walletdomain "github.com/smallbiznis/stayledger/internal/wallet/domain"
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
	Type      string                   `json:"type"`
	Message   string                   `json:"message"`
	Code      string                   `json:"code,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Errors    []ValidationError        `json:"errors,omitempty"`
	Conflicts []availability.DateRange `json:"conflicts,omitempty"`
	Reasons   []string                 `json:"reasons,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

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

// classifyErrorForLog returns the error type and code recorded on the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, "internal"
	}
	code := payload.Code
	if code == "" {
		code = strings.ToUpper(payload.Type)
	}
	return payload.Type, code
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
			Code:    "VALIDATION_FAILED",
			Errors:  vErr.Errors,
		}
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Code:    "VALIDATION_FAILED",
			Errors:  fromFieldErrors(fieldErrs),
		}
	}

	var unavailable *bookingdomain.DatesUnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusConflict, errorPayload{
			Type:      "conflict",
			Message:   "requested dates are not available",
			Code:      "DATES_NOT_AVAILABLE",
			Conflicts: unavailable.Conflicts,
		}
	}

	var notEligible *bookingdomain.NotEligibleError
	if errors.As(err, &notEligible) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "guest is not eligible for instant booking",
			Code:    "NOT_ELIGIBLE",
			Reasons: notEligible.Reasons,
		}
	}

	var paymentErr *paymentdomain.PaymentError
	if errors.As(err, &paymentErr) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_failed",
			Message: "payment was declined",
			Code:    "PAYMENT_DECLINED",
			Reason:  paymentErr.Reason,
		}
	}

	var stateErr *depositdomain.InvalidStateError
	if errors.As(err, &stateErr) {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: stateErr.Error(),
			Code:    depositStateCode(stateErr.Op),
		}
	}

	if code, ok := domainValidationCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Code:    code,
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrPaymentFailed):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_failed",
			Message: "payment could not be completed",
			Code:    "PAYMENT_FAILED",
			Reason:  paymentdomain.FailureReason(err),
		}
	case isUnauthenticated(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "webhook signature verification failed",
			Code:    "INVALID_SIGNATURE",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, bookingdomain.ErrDatesUnavailable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "requested dates are not available",
			Code:    "DATES_NOT_AVAILABLE",
		}
	case errors.Is(err, bookingdomain.ErrInvalidStatus):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "booking is not in a state that allows this operation",
			Code:    "INVALID_BOOKING_STATUS",
		}
	case errors.Is(err, depositdomain.ErrInvalidDepositState):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "deposit is not in a state that allows this operation",
			Code:    "INVALID_DEPOSIT_STATE",
		}
	case errors.Is(err, paymentdomain.ErrDuplicateEvent):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "event already processed",
			Code:    "DUPLICATE_EVENT",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, paymentdomain.ErrAmountMismatch),
		errors.Is(err, paymentdomain.ErrUncorrelatedRefund):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable_event",
			Message: "event does not match the recorded transaction",
			Code:    strings.ToUpper(err.Error()),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrNetworkUnavailable),
		errors.Is(err, paymentdomain.ErrNotCancellable):
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

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func fromFieldErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, ValidationError{
			Field:   toSnake(fe.Field()),
			Code:    fe.Tag(),
			Message: "invalid value",
		})
	}
	return out
}

// domainValidationCode reports the public code for input errors raised by
// the domain services.
func domainValidationCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST", true
	case errors.Is(err, bookingdomain.ErrInvalidID),
		errors.Is(err, listingdomain.ErrInvalidID),
		errors.Is(err, depositdomain.ErrInvalidID):
		return "INVALID_ID", true
	case errors.Is(err, bookingdomain.ErrInvalidDateRange):
		return "INVALID_DATE_RANGE", true
	case errors.Is(err, bookingdomain.ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED", true
	case errors.Is(err, bookingdomain.ErrStayLength),
		errors.Is(err, listingdomain.ErrInvalidStayLength):
		return "STAY_LENGTH_VIOLATION", true
	case errors.Is(err, bookingdomain.ErrPricingMode):
		return "PRICING_MODE_VIOLATION", true
	case errors.Is(err, bookingdomain.ErrProvinceRequired),
		errors.Is(err, listingdomain.ErrProvinceRequired):
		return "PROVINCE_REQUIRED", true
	case errors.Is(err, bookingdomain.ErrSelfBooking):
		return "SELF_BOOKING", true
	case errors.Is(err, bookingdomain.ErrNotEligible):
		return "NOT_ELIGIBLE", true
	case errors.Is(err, bookingdomain.ErrInvalidRefund):
		return "INVALID_REFUND_AMOUNT", true
	case errors.Is(err, depositdomain.ErrAmountExceedsAuthorization):
		return "AMOUNT_EXCEEDS_AUTHORIZATION", true
	case errors.Is(err, depositdomain.ErrMissingJustification):
		return "MISSING_JUSTIFICATION", true
	case errors.Is(err, depositdomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidAmount):
		return "INVALID_AMOUNT", true
	case errors.Is(err, depositdomain.ErrDepositNotRequired):
		return "DEPOSIT_NOT_REQUIRED", true
	case errors.Is(err, walletdomain.ErrInvalidCursor):
		return "INVALID_PAGE_TOKEN", true
	case errors.Is(err, walletdomain.ErrInvalidHost):
		return "INVALID_HOST", true
	case errors.Is(err, paymentdomain.ErrUnknownNetwork):
		return "UNKNOWN_NETWORK", true
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return "INVALID_EVENT", true
	default:
		return "", false
	}
}

func depositStateCode(op string) string {
	switch op {
	case "capture":
		return "DEPOSIT_NOT_CAPTURABLE"
	case "release", "expire":
		return "DEPOSIT_NOT_RELEASABLE"
	default:
		return "INVALID_DEPOSIT_STATE"
	}
}

func isUnauthenticated(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, bookingdomain.ErrUnauthenticated),
		errors.Is(err, listingdomain.ErrUnauthenticated),
		errors.Is(err, depositdomain.ErrUnauthenticated),
		errors.Is(err, paymentdomain.ErrUnauthenticated),
		errors.Is(err, walletdomain.ErrUnauthenticated):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrNotFound),
		errors.Is(err, listingdomain.ErrNotFound),
		errors.Is(err, depositdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func toSnake(field string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range field {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		prevLower = !upper
		b.WriteRune(r)
	}
	return b.String()
}
