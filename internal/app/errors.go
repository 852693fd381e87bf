package app

import (
	"errors"
	"fmt"
)

var (
	errBeaconBody     = errors.New("beacon body must be a JSON object with entityType and entityId")
	errBeaconTooLarge = errors.New("beacon body too large")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
