package services

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a customer or call is unknown
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed caller input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedVendor is returned for an unknown TTS vendor name
	ErrUnsupportedVendor = errors.New("unsupported TTS vendor")
	// ErrNotConfigured is returned when an optional vendor has no credentials
	ErrNotConfigured = errors.New("not configured")
)

// VendorError is a non-2xx reply from a vendor REST API
type VendorError struct {
	Vendor string
	Op     string
	Status int
	Body   string
}

func (e *VendorError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Vendor, e.Op, e.Status, body)
}
