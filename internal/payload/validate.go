package payload

import "fmt"

// ValidationError describes one schema violation. Received carries the
// offending value, or the runtime type name when the violation is a type
// mismatch, so logs stay diagnosable without replaying the request.
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Received any    `json:"received,omitempty"`
}

// Result aggregates the outcome of validating one payload.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks a payload field map against the schema. Fields are
// evaluated in schema order and errors accumulate; only a required-field
// miss or a type mismatch stops further checks for that field. user_id is
// required for every transport except json. The input is never mutated.
func Validate(fields map[string]any, transport Transport) Result {
	var errs []ValidationError
	for _, r := range schema {
		required := r.required
		if r.field == "user_id" {
			required = transport != TransportJSON
		}
		value, present := fields[r.field]
		if value == nil {
			present = false
		}
		if s, ok := value.(string); present && ok && s == "" && r.typ == typeString {
			present = false
		}
		if !present {
			if required {
				errs = append(errs, requiredError(r.field, transport))
			}
			continue
		}
		switch r.typ {
		case typeString:
			s, ok := value.(string)
			if !ok {
				errs = append(errs, typeError(r.field, r.typ, value))
				continue
			}
			errs = append(errs, checkString(r, s)...)
		case typeNumber:
			n, ok := toNumber(value)
			if !ok {
				errs = append(errs, typeError(r.field, r.typ, value))
				continue
			}
			errs = append(errs, checkNumber(r, n, value)...)
		case typeBoolean:
			if _, ok := value.(bool); !ok {
				errs = append(errs, typeError(r.field, r.typ, value))
			}
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkString(r rule, s string) []ValidationError {
	var errs []ValidationError
	if r.minLength > 0 && len(s) < r.minLength {
		errs = append(errs, ValidationError{
			Field:    r.field,
			Message:  fmt.Sprintf("%s must be at least %d characters", r.field, r.minLength),
			Received: s,
		})
	}
	if r.maxLength > 0 && len(s) > r.maxLength {
		errs = append(errs, ValidationError{
			Field:    r.field,
			Message:  fmt.Sprintf("%s must be at most %d characters", r.field, r.maxLength),
			Received: s,
		})
	}
	if r.pattern != nil && !r.pattern.MatchString(s) {
		errs = append(errs, ValidationError{
			Field:    r.field,
			Message:  fmt.Sprintf("%s must be %s", r.field, r.description),
			Received: s,
		})
	}
	return errs
}

func checkNumber(r rule, n float64, received any) []ValidationError {
	var errs []ValidationError
	if r.min != nil && n < *r.min {
		errs = append(errs, ValidationError{
			Field:    r.field,
			Message:  fmt.Sprintf("%s must be at least %v", r.field, *r.min),
			Received: received,
		})
	}
	if r.max != nil && n > *r.max {
		errs = append(errs, ValidationError{
			Field:    r.field,
			Message:  fmt.Sprintf("%s must be at most %v", r.field, *r.max),
			Received: received,
		})
	}
	return errs
}

func requiredError(field string, transport Transport) ValidationError {
	msg := fmt.Sprintf("%s is required", field)
	if field == "user_id" {
		msg = fmt.Sprintf("user_id is required for %s uploads", transport)
	}
	return ValidationError{Field: field, Message: msg}
}

func typeError(field string, want fieldType, value any) ValidationError {
	return ValidationError{
		Field:    field,
		Message:  fmt.Sprintf("%s must be a %s", field, want),
		Received: typeName(value),
	}
}

// typeName reports the schema-level type of a runtime value, collapsing Go's
// numeric kinds into "number" the way the wire format sees them.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64, float32, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
