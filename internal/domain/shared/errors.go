package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	// ErrContextMissing indicates an operation ran without a tenant context.
	// This is always an integration fault, never a user error.
	ErrContextMissing = NewDomainError("CONTEXT_MISSING", "No tenant context for this operation")

	// ErrNotFoundOrForbidden deliberately conflates "does not exist" with
	// "belongs to another tenant" so callers cannot fish for foreign records.
	ErrNotFoundOrForbidden = NewDomainError("NOT_FOUND", "Resource not found")

	// ErrTenantAccessDenied is returned when a principal attempts to act on a
	// tenant outside its accessible set.
	ErrTenantAccessDenied = NewDomainError("TENANT_ACCESS_DENIED", "Not authorized for the requested tenant")

	// ErrCacheUnavailable marks a cache round-trip failure. It is logged and
	// absorbed inside the cache layer; it never reaches callers.
	ErrCacheUnavailable = NewDomainError("CACHE_UNAVAILABLE", "Cache backend unavailable")

	// ErrInvalidationDelivery marks a failed invalidation delivery. Deliveries
	// are retried at-least-once and never surfaced to the write path.
	ErrInvalidationDelivery = NewDomainError("INVALIDATION_DELIVERY", "Cache invalidation delivery failed")

	// ErrRotationInProgress rejects a rotation attempt while another rotation
	// holds the per-tenant lock.
	ErrRotationInProgress = NewDomainError("ROTATION_IN_PROGRESS", "Key rotation already in progress for tenant")

	// ErrRotationFailed marks an unrecoverable rotation failure. Both keys
	// remain valid for decryption; data is never locked out.
	ErrRotationFailed = NewDomainError("ROTATION_FAILED", "Key rotation failed; old and new keys remain active")

	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)
