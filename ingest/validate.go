package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a submission so the agent can
// ask for all missing data at once.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+" "+p.Message)
	}
	return "invalid report: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks req and returns a *ValidationError, or nil.
func Validate(req SubmitRequest) error {
	var problems []FieldError

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, FieldError{Field: fieldPath(fe.Namespace()), Message: tagMessage(fe.Tag())})
		}
	}

	for i, e := range req.Employees {
		if e.Name != "" && strings.TrimSpace(e.Name) == "" {
			problems = append(problems, FieldError{Field: fmt.Sprintf("employees[%d].name", i), Message: "is required"})
		}
		if e.RegularHours == nil && e.OvertimeHours == nil {
			problems = append(problems, FieldError{Field: fmt.Sprintf("employees[%d]", i), Message: "needs regular or overtime hours"})
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// fieldPath drops the struct name prefix: "SubmitRequest.employees[0].name" -> "employees[0].name".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "min":
		return "must contain at least one entry"
	case "gte":
		return "must not be negative"
	default:
		return "is invalid (" + tag + ")"
	}
}
