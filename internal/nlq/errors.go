package nlq

import "fmt"

// ValidationError reports an invalid input query or a compiled query that
// failed strict validation.
type ValidationError struct {
	Msg    string
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) > 0 {
		return fmt.Sprintf("validation: %s: %v", e.Msg, e.Issues)
	}
	return "validation: " + e.Msg
}

// SecurityError reports input rejected by the security validator.
type SecurityError struct {
	Issues []string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security validation failed: %v", e.Issues)
}

// ParsingError reports a model response that could not be turned into a
// compiled query.
type ParsingError struct {
	Msg string
	Err error
}

func (e *ParsingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing: %s: %v", e.Msg, e.Err)
	}
	return "parsing: " + e.Msg
}

func (e *ParsingError) Unwrap() error { return e.Err }
