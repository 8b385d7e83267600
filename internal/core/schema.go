package core

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Schema maps positional fields onto a record of type T.
//
// Columns names the positions in order; Build receives the parsed fields
// (possibly fewer than len(Columns)) and must not fail. Every column must
// be present in a row, though it may be empty. Further constraints live
// in T's `validate` struct tags and are checked by ValidateRecord.
type Schema[T any] struct {
	Columns []string
	Build   func(fields []string) T
}

// Field returns fields[i], or "" when the row is too short.
func Field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// User is the record produced from an `id,nombre,email` row.
type User struct {
	ID    string `json:"id" csv:"id"`
	Name  string `json:"nombre" csv:"nombre"`
	Email string `json:"email" csv:"email" validate:"email"`
}

// UserSchema builds Users from `id,nombre,email` rows.
var UserSchema = Schema[User]{
	Columns: []string{"id", "nombre", "email"},
	Build: func(fields []string) User {
		return User{
			ID:    Field(fields, 0),
			Name:  Field(fields, 1),
			Email: Field(fields, 2),
		}
	},
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// recordValidator returns the shared validator. Field names in errors come
// from the csv tag, then the json tag, then the Go field name.
func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"csv", "json"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return fld.Name
		})
	})
	return validate
}

// ValidateRecord checks rec against its struct tags. Constraint failures
// come back as *ValidationError listing every failed field; anything else
// (rec is not a struct) is returned unchanged.
func ValidateRecord(rec any) error {
	err := recordValidator().Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Value:   fmt.Sprint(fe.Value()),
			Message: describeRule(fe),
		})
	}
	return out
}

// Check validates rec built from fields. Columns the row does not reach
// are reported as required, in place of any other failure on them.
func (s Schema[T]) Check(rec T, fields []string) error {
	err := ValidateRecord(rec)
	if len(fields) >= len(s.Columns) {
		return err
	}

	missing := s.Columns[len(fields):]
	out := &ValidationError{}
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve.Fields {
			if !slices.Contains(missing, fe.Field) {
				out.Fields = append(out.Fields, fe)
			}
		}
	}
	for _, col := range missing {
		out.Fields = append(out.Fields, FieldError{
			Field:   col,
			Rule:    "required",
			Message: "is required",
		})
	}
	return out
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "numeric":
		return "must be numeric"
	default:
		return "is invalid"
	}
}
