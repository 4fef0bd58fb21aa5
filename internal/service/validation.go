package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/noah-isme/incident-tracker/internal/models"
)

const (
	passwordMinLength = 12
	passwordMaxLength = 16
	passwordSymbols   = "@$!%*?&"
)

var incidentMessages = map[string]string{
	"Title":       "the incident title is not valid or exceeds 100 characters",
	"Description": "the incident description is not valid or exceeds 4500 characters",
	"Date":        "the creation date cannot be null",
	"Classroom":   "the classroom is not valid or exceeds 20 characters",
	"Image":       "the image is not valid or exceeds 255 characters",
	"Status":      "the incident status cannot be null",
	"CreatorID":   "the incident creator cannot be null",
}

var userMessages = map[string]string{
	"Name":         "the name is not valid or exceeds 50 characters",
	"FirstSurname": "the first surname is not valid or exceeds 50 characters",
	"Email":        "the email is not valid or exceeds 100 characters",
	"Password":     "the password does not meet the security requirements: it must be 12 to 16 characters long and contain at least one uppercase letter, one lowercase letter, one digit and one of " + passwordSymbols,
}

const (
	msgNullIncident = "incident is null"
	msgNullUser     = "user is null"
)

// RecordValidator checks field constraints on incident and user records.
// It never mutates the record and always reports every violated field.
type RecordValidator struct {
	validate *validator.Validate
}

// NewRecordValidator registers the custom rules on validate, creating a new
// validator when nil.
func NewRecordValidator(validate *validator.Validate) *RecordValidator {
	if validate == nil {
		validate = validator.New()
	}
	_ = validate.RegisterValidation("notblank", validators.NotBlank)
	_ = validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return ValidPassword(fl.Field().String())
	})
	return &RecordValidator{validate: validate}
}

// Incident returns the list of validation failures for the incident. An empty
// list means the incident is valid.
func (v *RecordValidator) Incident(incident *models.Incident) []string {
	if incident == nil {
		return []string{msgNullIncident}
	}
	return collect(v.validate.Struct(incident), incidentMessages)
}

// User returns the list of validation failures for the user. The password is
// only checked when the user is new or the value is not already hashed.
func (v *RecordValidator) User(user *models.User) []string {
	if user == nil {
		return []string{msgNullUser}
	}
	if user.ID == 0 || (user.Password != "" && !user.PasswordHashed()) {
		return collect(v.validate.Struct(user), userMessages)
	}
	return collect(v.validate.StructExcept(user, "Password"), userMessages)
}

func collect(err error, messages map[string]string) []string {
	if err == nil {
		return []string{}
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	seen := make(map[string]struct{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.StructField()
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		msg, ok := messages[field]
		if !ok {
			msg = strings.ToLower(field) + " is not valid"
		}
		out = append(out, msg)
	}
	return out
}

// ValidPassword applies the password policy: 12 to 16 characters drawn from
// letters, digits and the allowed symbols, with at least one of each class.
func ValidPassword(pass string) bool {
	if len(pass) < passwordMinLength || len(pass) > passwordMaxLength {
		return false
	}
	var lower, upper, digit, symbol bool
	for _, r := range pass {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		default:
			return false
		}
	}
	return lower && upper && digit && symbol
}
