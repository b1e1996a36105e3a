package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound returns an error for a task reference that matched nothing.
func ErrTaskNotFound(ref, dateKey string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task not found: %s on %s", ref, dateKey),
		Suggestion: fmt.Sprintf("Use 'todocal day %s' to see the tasks of that day", dateKey),
	}
}

// ErrCannotDeleteInstance returns an error for deleting a repeating occurrence.
func ErrCannotDeleteInstance(err error, anchor string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: fmt.Sprintf("Edit the original task on %s to stop it repeating", anchor),
	}
}

// ErrNotLoggedIn returns an error when no bearer token is available.
func ErrNotLoggedIn(backend string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("not logged in to %s", backend),
		Suggestion: "Run 'todocal login' to store an access token",
	}
}

// ErrSessionExpired returns an error when the store rejected the credential.
func ErrSessionExpired(err error) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: "Your session has expired. Run 'todocal login' to sign in again",
	}
}

// ErrBackendOffline returns an error when a backend is unreachable with smart suggestions.
func ErrBackendOffline(name, reason string) error {
	suggestion := getSmartSuggestion(reason)
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend %s is offline: %s", name, reason),
		Suggestion: suggestion,
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and accessible"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "i/o timeout") {
		return "The server may be slow or unreachable. Try again later"
	}

	return "Check your internet connection and try again"
}

// ErrInvalidDate returns an error for an invalid date string.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date: %s", dateStr),
		Suggestion: "Use date format YYYY-MM-DD (e.g., 2026-01-15), today, tomorrow or +Nd",
	}
}

// ErrInvalidMonth returns an error for an invalid month string.
func ErrInvalidMonth(monthStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid month: %s", monthStr),
		Suggestion: "Use month format YYYY-MM (e.g., 2026-01)",
	}
}

// ErrInvalidTime returns an error for an invalid time of day.
func ErrInvalidTime(timeStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid time: %s", timeStr),
		Suggestion: "Use 24-hour format HH:MM (e.g., 09:00)",
	}
}

// ErrInvalidRepeat returns an error for an invalid repeat type with valid options.
func ErrInvalidRepeat(repeat string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid repeat type: %s", repeat),
		Suggestion: fmt.Sprintf("Valid options: %s", strings.Join(valid, ", ")),
	}
}

// ErrInvalidWeekday returns an error for an unparseable weekday.
func ErrInvalidWeekday(day string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid weekday: %s", day),
		Suggestion: "Use 0-6 (0 = Sunday) or names such as mon,wed,fri",
	}
}

// ErrNotificationsDisabled returns an error when notifications are off in config.
func ErrNotificationsDisabled() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("notifications are disabled"),
		Suggestion: "Set notification.enabled: true in your config file",
	}
}
