package models

import (
	"strings"
	"time"
)

// APIClient represents an authenticated machine client of the engine
// (the platform gateway, an academy back office, an ops tool).
type APIClient struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	APIKey      string            `json:"-"` // never serialize
	IsActive    bool              `json:"is_active"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsedAt  *time.Time        `json:"last_used_at,omitempty"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasPermission checks if the client holds a specific permission.
// Supports wildcard permissions like "attempts:*".
func (c *APIClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		if perm == required {
			return true
		}

		// Wildcard match (e.g. "attempts:*" matches "attempts:write")
		if strings.HasSuffix(perm, ":*") {
			prefix := strings.TrimSuffix(perm, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}

		if perm == "*" {
			return true
		}
	}

	return false
}

// MaskedAPIKey returns the first 8 characters of the key for logging
func (c *APIClient) MaskedAPIKey() string {
	if len(c.APIKey) < 8 {
		return "***"
	}
	return c.APIKey[:8] + "..."
}
