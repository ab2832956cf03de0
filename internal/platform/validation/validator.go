package validation

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// New returns a validator that reports fields by their json names and understands the
// order_status tag.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("order_status", validateOrderStatus)
	return v
}

// Struct validates payload and flattens failures into a field -> rule map. A nil map means the
// payload is valid.
func Struct(v *validatorv10.Validate, payload any) (map[string]string, error) {
	err := v.Struct(payload)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[trimRoot(fe.Namespace())] = describe(fe)
	}
	return out, nil
}

// Fields returns the sorted keys of a Struct result, for compact log lines.
func Fields(failures map[string]string) []string {
	keys := make([]string, 0, len(failures))
	for key := range failures {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func validateOrderStatus(fl validatorv10.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}
	_, err := domain.ParseOrderStatus(field.String())
	return err == nil
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	}
	return name
}

// trimRoot drops the top-level struct name ("createOrderRequest.items[0].quantity").
func trimRoot(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validatorv10.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
