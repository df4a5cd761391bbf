package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const passwordSymbols = "#?!@$%^&*-"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("password", validPassword); err != nil {
		panic(err)
	}
	return v
}

// validPassword accepts 6 to 10 characters with at least one upper case
// letter and one of #?!@$%^&*-.
func validPassword(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	n := len([]rune(p))
	if n < 6 || n > 10 {
		return false
	}
	var upper, symbol bool
	for _, r := range p {
		if unicode.IsUpper(r) {
			upper = true
		}
		if strings.ContainsRune(passwordSymbols, r) {
			symbol = true
		}
	}
	return upper && symbol
}

// validateStruct returns the first failing field as a ValidationError.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Message: fieldMessage(fe)}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf(`"%s" is required`, field)
	case "min":
		return fmt.Sprintf(`"%s" length must be at least %s characters long`, field, fe.Param())
	case "max":
		return fmt.Sprintf(`"%s" length must be less than or equal to %s characters long`, field, fe.Param())
	case "alphanum":
		return fmt.Sprintf(`"%s" must only contain alpha-numeric characters`, field)
	case "eqfield":
		return fmt.Sprintf(`"%s" must match password`, field)
	case "password":
		return fmt.Sprintf(`"%s" must be 6 to 10 characters with an upper case letter and one of %s`, field, passwordSymbols)
	default:
		return fmt.Sprintf(`"%s" is invalid`, field)
	}
}
