package progress

import (
	"fmt"
	"strings"
	"sync"

	"hujra/pkg/domain"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that page counts and the finance amount are non-negative
// decimal integers. Merge itself passes such strings through untouched; this
// is the stricter boundary check run by callers that opt in. The returned
// error matches domain.ErrMalformedValue and names every offending field.
func Validate(updates []UpdateItem, finance *FinanceItem) error {
	v := validatorInstance()
	var fields []string
	for i, item := range updates {
		if err := v.Struct(item); err != nil {
			fields = append(fields, fieldErrors(fmt.Sprintf("updates[%d]", i), err)...)
		}
	}
	if finance != nil {
		if err := v.Struct(finance); err != nil {
			fields = append(fields, fieldErrors("finance", err)...)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return errors.Wrap(domain.ErrMalformedValue, strings.Join(fields, ", "))
}

func fieldErrors(prefix string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{prefix}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s.%s (%s)", prefix, lowerFirst(fe.Field()), fe.Tag()))
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
