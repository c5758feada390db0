package ensemble

import "fmt"

// ValidationError reports a single out-of-range or malformed Ensemble-LLM
// field. The gateway surfaces these as the `invalid_ensemble_llm` wire error
// kind (spec §6.4).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("`%s` %s", e.Field, e.Message)
}

func fieldError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
