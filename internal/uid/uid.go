// Package uid generates the globally-unique package identifiers spec §3
// requires ("uid (globally unique within LPDB; within RCC unique per
// repository)"). Grounded on google/uuid, a dependency shared by
// ipiton-alert-history-service and DataDog-datadog-agent in the retrieval
// pack for exactly this purpose.
package uid

import "github.com/google/uuid"

// New returns a fresh random (v4) uid.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a uuid; used to validate uids loaded
// from an external catalogue or manifest rather than generated locally.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
