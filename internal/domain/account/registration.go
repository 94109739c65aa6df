package account

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

// Registration errors
var (
	ErrRequiredField    = errors.New("please fill in all required fields")
	ErrInvalidEmail     = errors.New("please enter a valid email address")
	ErrWeakPassword     = errors.New("password must be at least 8 characters long")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrTermsNotAccepted = errors.New("please accept the terms and conditions")
	ErrDuplicateUser    = errors.New("an account with this email already exists")
	ErrUsernameTaken    = fmt.Errorf("%w: username already taken", ErrDuplicateUser)
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError reports which field failed client-side validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Registration is a signup form submission.
type Registration struct {
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
	Username        string
	Phone           string
	Chapter         string
	Bio             string
	// TermsPresent is true when the form carried a terms checkbox.
	TermsPresent  bool
	TermsAccepted bool
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Validate runs the checks performed before any provider call, in form order.
// PRE: none
// POST: Returns nil or a *ValidationError wrapping one of the registration sentinels
func (r Registration) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"email", r.Email},
		{"password", r.Password},
		{"full_name", r.FullName},
		{"username", r.Username},
		{"chapter", r.Chapter},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Err: ErrRequiredField}
		}
	}
	if !ValidEmail(strings.TrimSpace(r.Email)) {
		return &ValidationError{Field: "email", Err: ErrInvalidEmail}
	}
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return &ValidationError{Field: "password", Err: ErrWeakPassword}
	}
	if r.Password != r.ConfirmPassword {
		return &ValidationError{Field: "confirm_password", Err: ErrPasswordMismatch}
	}
	if r.TermsPresent && !r.TermsAccepted {
		return &ValidationError{Field: "terms", Err: ErrTermsNotAccepted}
	}
	return nil
}

// NormalizedEmail returns the trimmed, lower-cased email.
func (r Registration) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}

// Metadata builds the user metadata attached to the new identity.
// Every registration starts as a member; elevation happens out of band.
func (r Registration) Metadata(now time.Time) Metadata {
	return Metadata{
		MetaFullName: strings.TrimSpace(r.FullName),
		MetaUsername: strings.TrimSpace(r.Username),
		MetaPhone:    strings.TrimSpace(r.Phone),
		MetaChapter:  strings.TrimSpace(r.Chapter),
		MetaBio:      strings.TrimSpace(r.Bio),
		MetaRole:     string(DefaultRole),
		MetaJoinedAt: now.UTC().Format(time.RFC3339),
	}
}
