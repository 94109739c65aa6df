package auth

import (
	"errors"
	"fmt"

	"wcsc/internal/domain/account"
)

// Authentication errors
var (
	ErrAuthentication     = errors.New("authentication failed")
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrAuthentication)
	ErrUnknownUsername    = fmt.Errorf("%w: username not found", ErrAuthentication)
	ErrEmailNotConfirmed  = fmt.Errorf("%w: email not confirmed", ErrAuthentication)
)

// Provider errors
var (
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrProfileFetch        = errors.New("profile could not be loaded")
)

// FallbackMessage is shown when an error has no specific mapping.
const FallbackMessage = "Something went wrong. Please try again."

// userMessages maps error families to the text shown to users, most specific first.
var userMessages = []struct {
	err error
	msg string
}{
	{account.ErrRequiredField, "Please fill in all required fields."},
	{account.ErrInvalidEmail, "Please enter a valid email address."},
	{account.ErrWeakPassword, "Password must be at least 8 characters long."},
	{account.ErrPasswordMismatch, "Passwords do not match."},
	{account.ErrTermsNotAccepted, "Please accept the terms and conditions."},
	{account.ErrUsernameTaken, "That username is already taken. Please choose another."},
	{account.ErrDuplicateUser, "An account with this email already exists. Please try logging in instead."},
	{ErrUnknownUsername, "Invalid username or password."},
	{ErrEmailNotConfirmed, "Please confirm your email address before logging in."},
	{ErrInvalidCredentials, "Invalid username or password."},
	{ErrProviderUnavailable, "The sign-in service is unavailable right now. Please try again shortly."},
	{ErrProfileFetch, "Signed in, but your profile could not be loaded. Some pages may be unavailable."},
}

// UserMessage maps err to a message safe to show users. Raw provider text is never returned.
// PRE: none
// POST: Returns "" for nil, FallbackMessage for unmapped errors
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return FallbackMessage
}
