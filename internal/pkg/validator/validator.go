package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

// AgeGroups are the reader age bands the AI agents are tuned for.
var AgeGroups = []string{"3-5", "5-7", "7-11", "11-14", "14-16"}

// MediaStyles are the illustration styles the generators accept.
var MediaStyles = []string{"standard", "comic", "manga", "princess"}

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	validate.RegisterValidation("age_group", oneOf(AgeGroups, false))
	validate.RegisterValidation("media_style", oneOf(MediaStyles, true))
}

func oneOf(values []string, allowEmpty bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		if v == "" {
			return allowEmpty
		}
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string)
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			fields[field] = "This field is required"
		case "min":
			fields[field] = "Value is too short (min: " + fe.Param() + ")"
		case "max":
			fields[field] = "Value is too long (max: " + fe.Param() + ")"
		case "gte":
			fields[field] = "Value must be at least " + fe.Param()
		case "lte":
			fields[field] = "Value must be at most " + fe.Param()
		case "oneof":
			fields[field] = "Must be one of: " + fe.Param()
		case "age_group":
			fields[field] = "Invalid age group. Must be one of: " + strings.Join(AgeGroups, ", ")
		case "media_style":
			fields[field] = "Invalid style. Must be one of: " + strings.Join(MediaStyles, ", ")
		default:
			fields[field] = "Invalid value"
		}
	}

	return fields
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
