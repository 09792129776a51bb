package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/pario-ai/steer/pkg/budget"
	"github.com/pario-ai/steer/pkg/errsink"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/provider"
	"github.com/pario-ai/steer/pkg/resilience"
	"github.com/pario-ai/steer/pkg/router"
	"github.com/pario-ai/steer/pkg/store"
)

// ErrorBody is the JSON error envelope of every failed API call.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type apiError struct {
	status   int
	body     ErrorBody
	category string
	severity string
}

// classify maps an error onto its HTTP status, code and sink category.
func classify(err error) apiError {
	var (
		verr *models.ValidationError
		cerr *budget.ConstraintError
		perr *provider.Error
		serr *store.Error
	)
	msg := err.Error()
	switch {
	case errors.As(err, &verr):
		return apiError{http.StatusBadRequest, ErrorBody{"VALIDATION_ERROR", msg, verr}, errsink.CategoryValidation, errsink.SeverityLow}
	case errors.As(err, &cerr):
		return apiError{http.StatusPaymentRequired, ErrorBody{"BUDGET_EXCEEDED", msg, cerr.Result}, errsink.CategoryBudget, errsink.SeverityMedium}
	case errors.Is(err, budget.ErrBudgetNotFound), errors.Is(err, store.ErrNotFound):
		return apiError{http.StatusNotFound, ErrorBody{"NOT_FOUND", msg, nil}, errsink.CategoryValidation, errsink.SeverityLow}
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apiError{http.StatusServiceUnavailable, ErrorBody{"CIRCUIT_OPEN", msg, nil}, errsink.CategoryCircuit, errsink.SeverityHigh}
	case errors.Is(err, router.ErrNoRoute):
		return apiError{http.StatusServiceUnavailable, ErrorBody{"NO_ROUTE", msg, nil}, errsink.CategoryProvider, errsink.SeverityHigh}
	case errors.Is(err, context.Canceled):
		return apiError{499, ErrorBody{"CANCELED", msg, nil}, errsink.CategoryInternal, errsink.SeverityLow}
	case resilience.IsTimeout(err):
		return apiError{http.StatusGatewayTimeout, ErrorBody{"TIMEOUT", msg, nil}, errsink.CategoryProvider, errsink.SeverityHigh}
	case errors.As(err, &perr):
		return apiError{http.StatusBadGateway, ErrorBody{"PROVIDER_ERROR", msg, map[string]any{"provider": perr.Provider, "status": perr.Status}}, errsink.CategoryProvider, errsink.SeverityHigh}
	case errors.Is(err, provider.ErrEmptyCompletion):
		return apiError{http.StatusBadGateway, ErrorBody{"PROVIDER_ERROR", msg, nil}, errsink.CategoryProvider, errsink.SeverityMedium}
	case errors.As(err, &serr):
		return apiError{http.StatusInternalServerError, ErrorBody{"STORAGE_ERROR", msg, nil}, errsink.CategoryStorage, errsink.SeverityCritical}
	default:
		return apiError{http.StatusInternalServerError, ErrorBody{"INTERNAL", msg, nil}, errsink.CategoryInternal, errsink.SeverityHigh}
	}
}
