package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/custody-ledger/internal/core/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toValidationError keeps the first failing field; callers only ever show one.
func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
	}
	return &domain.ValidationError{Field: field, Reason: reason}
}

func (s *CustodyService) validateRequest(req domain.ApplyRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return toValidationError(err)
	}
	if !req.Action.Valid() {
		return &domain.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if !req.Category.Valid() {
		return &domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", req.Category)}
	}

	serialized := s.serialized[req.Category]
	seen := make(map[string]bool)
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d].serials", i)
		if !serialized {
			if len(item.Serials) > 0 {
				return &domain.ValidationError{Field: field, Reason: fmt.Sprintf("category %s does not track serials", req.Category)}
			}
			continue
		}
		if len(item.Serials) != item.Quantity {
			return &domain.ValidationError{Field: field, Reason: fmt.Sprintf("expected %d serials, got %d", item.Quantity, len(item.Serials))}
		}
		for _, serial := range item.Serials {
			if seen[serial] {
				return &domain.ValidationError{Field: field, Reason: fmt.Sprintf("serial %s listed twice", serial)}
			}
			seen[serial] = true
		}
	}
	return nil
}
