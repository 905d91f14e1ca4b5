package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    ErrorCode         `json:"code,omitempty"`    // Engine error code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// validate runs struct tags and wraps failures as a VALIDATION_ERROR carrying the field errors.
func (vh *ValidationHelper) validate(s any) error {
	if err := vh.ValidateStruct(s); err != nil {
		return &DomainError{Code: CodeValidation, Message: "validation failed", Err: err}
	}
	return nil
}

// Money columns hold two decimal places and interest rates four.
const (
	moneyPlaces = 2
	ratePlaces  = 4
)

func requirePositive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationError("%s must be greater than 0", field)
	}
	return nil
}

// requireAmount accepts only positive money amounts storable without rounding.
func requireAmount(field string, amount decimal.Decimal) error {
	return requireScaled(field, amount, moneyPlaces)
}

func requireRate(field string, rate decimal.Decimal) error {
	return requireScaled(field, rate, ratePlaces)
}

func requireScaled(field string, v decimal.Decimal, places int32) error {
	if err := requirePositive(field, v); err != nil {
		return err
	}
	if !v.Equal(v.Truncate(places)) {
		return validationError("%s must have at most %d decimal places", field, places)
	}
	return nil
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		var de *DomainError
		if errors.As(validationErr, &de) {
			errorResp.Code = de.Code
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(validationErr, &fieldErrs) {
			errorResp.Details = make(map[string]string)
			for _, err := range fieldErrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}
