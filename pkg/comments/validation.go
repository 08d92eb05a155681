package comments

import (
	"errors"
	"html"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"community/pkg/models"
)

var (
	validate = newValidator()
	policy   = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// maxCleanPasses bounds cleanText on text with nested entity encoding.
const maxCleanPasses = 8

// cleanText strips markup and surrounding whitespace and returns plain text.
// Sanitizing and decoding repeat until the text no longer changes, so markup
// hidden behind entities is stripped as well.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < maxCleanPasses; i++ {
		next := strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
		if next == s {
			return s
		}
		s = next
	}
	// Still changing: keep the escaped form, which holds no markup.
	return strings.TrimSpace(policy.Sanitize(s))
}

func normalizeRequest(req models.CreateRequest) models.CreateRequest {
	req.Author = cleanText(req.Author)
	if req.Author == "" {
		req.Author = models.AnonymousAuthor
	}
	req.Content = cleanText(req.Content)
	req.PageContext = strings.TrimSpace(req.PageContext)
	req.ParentID = strings.TrimSpace(req.ParentID)

	return req
}

func validateRequest(req models.CreateRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		fe := vErrs[0]
		return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}

	return err
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid"
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}
