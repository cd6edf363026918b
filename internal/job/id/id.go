// Package id provides unique identifier generation for jobs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid v7>, which sorts by creation time.
// Example: job-01920b3c-7a41-7c3e-9d55-2f0b8e6a1c44
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random v4 if the clock-based generator fails
		u = uuid.New()
	}
	return "job-" + u.String()
}
