package model

import "fmt"

// Standard error codes surfaced to API boundaries.
const (
	ErrCodeEntityNotFound        = "ENTITY_NOT_FOUND"
	ErrCodeInsufficientStock     = "INSUFFICIENT_STOCK"
	ErrCodeInvalidOperation      = "INVALID_OPERATION"
	ErrCodeBusinessRuleViolation = "BUSINESS_RULE_VIOLATION"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodePaymentFailed         = "PAYMENT_FAILED"
	ErrCodeRefundFailed          = "REFUND_FAILED"
	ErrCodeShippingCreation      = "SHIPPING_CREATION_FAILED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// DomainError is an expected business failure carrying a stable code.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NotFoundError reports a missing entity by kind and identifier.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFoundError creates an EntityNotFound error.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError reports a failed stock reservation with enough
// detail for the shopper to correct the request.
type InsufficientStockError struct {
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, only %d left",
		e.ProductName, e.Requested, e.Available)
}

// ValidationError carries structured field-level failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Common domain errors.
var (
	ErrInvalidOperation  = NewDomainError(ErrCodeInvalidOperation, "operation not permitted in current order state")
	ErrCouponInvalid     = NewDomainError(ErrCodeBusinessRuleViolation, "coupon code is not valid")
	ErrCouponExhausted   = NewDomainError(ErrCodeBusinessRuleViolation, "coupon usage limit reached")
	ErrCouponMinAmount   = NewDomainError(ErrCodeBusinessRuleViolation, "order amount below coupon minimum")
	ErrCouponAlreadyUsed = NewDomainError(ErrCodeBusinessRuleViolation, "coupon already recorded for this order")
	ErrCartEmpty         = NewDomainError(ErrCodeValidation, "cart is empty")
	ErrPaymentFailed     = NewDomainError(ErrCodePaymentFailed, "payment could not be processed")
	ErrShippingCreation  = NewDomainError(ErrCodeShippingCreation, "shipment could not be created")
)
