// internal/expand/codes.go
package expand

// Stable error-code strings assigned by the pattern families. Callers document
// and test against these exact values; they never vary by configuration.
const (
	CodeDuplicate         = "duplicate found"
	CodeNotFound          = "record not found"
	CodeDependenciesExist = "dependencies exist"
	CodeInvalidTransition = "invalid state transition"
	CodeGuardFailed       = "guard failed"
	CodeValidationFailed  = "validation failed"
	CodeSagaFailed        = "saga step failed"
)
