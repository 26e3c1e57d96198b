package types

import (
	"strings"

	"github.com/google/uuid"
)

// Resource ids are a short prefix plus 12 hex characters, unique enough per
// deployment while staying readable in logs.

func newID(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + raw[:12]
}

func NewSandboxID() string   { return newID("sandbox") }
func NewSessionID() string   { return newID("sess") }
func NewCargoID() string     { return newID("cargo") }
func NewExecutionID() string { return newID("exec") }
func NewCandidateID() string { return newID("cand") }
func NewReleaseID() string   { return newID("rel") }
