// Package story holds the domain values that travel between the wizard, the
// dialogs and the submission sinks.
package story

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"storybooth/media"
)

// Prompt is the content a contributor is asked to respond to.
type Prompt struct {
	ID       string `yaml:"id" json:"id"`
	Text     string `yaml:"text" json:"text"`
	ImageURL string `yaml:"image_url" json:"image_url,omitempty"`
}

// Contributor identifies the person recording, as entered on the welcome form.
type Contributor struct {
	FirstName string `json:"first_name" validate:"required,max=80"`
	LastName  string `json:"last_name" validate:"required,max=80"`
	Phone     string `json:"phone" validate:"required,e164"`
}

func (c Contributor) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Normalize trims whitespace and strips the separators people usually type
// into phone numbers.
func (c Contributor) Normalize() Contributor {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Phone = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(c.Phone))
	return c
}

// Validate returns one error per invalid field, joined.
func (c Contributor) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })

	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var errs []error
	for _, fe := range verrs {
		errs = append(errs, fieldError(fe))
	}
	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	name := map[string]string{
		"FirstName": "first name",
		"LastName":  "last name",
		"Phone":     "phone number",
	}[fe.Field()]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "e164":
		return fmt.Errorf("%s must look like +15551234567", name)
	case "max":
		return fmt.Errorf("%s is too long", name)
	}
	return fmt.Errorf("%s is invalid", name)
}

// Submission is what the wizard hands to a sink.
type Submission struct {
	SessionID   string
	Prompt      Prompt
	Contributor Contributor
	Media       media.Ref
}

// Receipt acknowledges a stored submission.
type Receipt struct {
	ID  string    `json:"id"`
	URL string    `json:"url,omitempty"`
	At  time.Time `json:"at"`
}
