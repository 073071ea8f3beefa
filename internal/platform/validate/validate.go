// Package validate wraps go-playground/validator for checking the shape of raw records
package validate

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	perr "enrichd/internal/platform/errors"
	ptime "enrichd/internal/platform/time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Rules maps a raw field name to a validator tag list, e.g. {"html_url": "required,url"}
type Rules map[string]string

// Svc holds the validator and its english translator
type Svc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	once sync.Once
	svc  *Svc
)

// Get returns the process validator, building it on first use
func Get() *Svc {
	once.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("datelike", func(fl validator.FieldLevel) bool {
			_, ok := ptime.Parse(fl.Field().Interface())
			return ok
		})
		_ = v.RegisterTranslation("datelike", trans,
			func(t ut.Translator) error { return t.Add("datelike", "{0} must be an ISO-8601 date or epoch seconds", true) },
			func(t ut.Translator, fe validator.FieldError) string {
				msg, _ := t.T("datelike", fe.Field())
				return msg
			},
		)

		svc = &Svc{Validator: v, Translator: trans}
	})
	return svc
}

// Struct validates a tagged struct; failures are structural errors naming the first bad field
func Struct(v any) error {
	err := Get().Validator.Struct(v)
	if err == nil {
		return nil
	}
	field, msg := fieldAndMessage(err)
	return perr.WithField(perr.Structuralf("%s", msg), field)
}

// Map validates the fields of a raw JSON object against rules.
// Fields are checked in name order so the reported field is stable
func Map(data map[string]any, rules Rules) error {
	if len(rules) == 0 {
		return nil
	}
	names := make([]string, 0, len(rules))
	for k := range rules {
		names = append(names, k)
	}
	sort.Strings(names)

	v := Get().Validator
	for _, name := range names {
		if err := v.Var(data[name], rules[name]); err != nil {
			_, msg := fieldAndMessage(err)
			return perr.WithField(perr.Structuralf("%s: %s", name, strings.TrimSpace(msg)), name)
		}
	}
	return nil
}

func fieldAndMessage(err error) (string, string) {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field(), fe.Translate(Get().Translator)
	}
	return "", fmt.Sprint(err)
}
