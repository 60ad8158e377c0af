package journal

import (
	"time"

	"github.com/stevedore-deploy/stevedore/pkg/names"
)

// Entry records the outcome of one deployment attempt. Entries are
// keyed by (retention policy set, package id, version); the journal
// only ever surfaces the latest entry for a key, older entries are
// superseded but kept until external retention pruning removes them.
type Entry struct {
	ID                 string         `json:"id"`
	RetentionPolicySet string         `json:"retention_policy_set"`
	PackageID          string         `json:"package_id"`
	Version            names.Version  `json:"version"`
	WasSuccessful      bool           `json:"was_successful"`
	ExtractedTo        string         `json:"extracted_to"`
	RecordedAt         time.Time      `json:"recorded_at"`
}

// Key identifies the journal entries superseded by a new attempt.
type Key struct {
	RetentionPolicySet string
	PackageID          string
	Version            names.Version
}
