package config

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// FieldError is a single failed validation rule.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// ValidationErrors collects every failed rule of a Validate call.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, fe := range v {
		if fe.Param != "" {
			parts[i] = fe.Field + " failed on " + fe.Tag + "=" + fe.Param
		} else {
			parts[i] = fe.Field + " failed on " + fe.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// Validate checks the configuration against its struct rules and the
// cross-references between routes and transports.
func (c *Config) Validate() error {
	var failures ValidationErrors

	if err := getValidator().Struct(c); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve {
			failures = append(failures, FieldError{
				Field: strings.TrimPrefix(fe.Namespace(), "Config."),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
	}

	for i, route := range c.Router.Routes {
		for _, target := range route.Targets {
			if _, ok := c.Transport(target); !ok {
				failures = append(failures, FieldError{
					Field: "router.routes[" + strconv.Itoa(i) + "].targets",
					Tag:   "unknown_transport",
					Param: target,
				})
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}
	return failures
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}
