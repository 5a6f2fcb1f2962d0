package domain

import (
	"strings"
	"time"
)

// Client is a registered tenant. Client-scoped knowledge and retrieval are
// isolated per client code.
type Client struct {
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeClientCode upper-cases and trims a client code.
func NormalizeClientCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateClient validates a client registration.
func ValidateClient(c *Client) error {
	if c == nil || strings.TrimSpace(c.Code) == "" || strings.TrimSpace(c.Name) == "" {
		return ErrMissingRequiredField
	}
	return nil
}
