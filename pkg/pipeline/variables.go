package pipeline

import "strings"

// Well-known variable names consumed and produced by the built-in
// conventions. Output names are part of the orchestrator contract.
const (
	// Inputs.
	VarPackageID              = "Octopus.Action.Package.PackageId"
	VarPackageVersion         = "Octopus.Action.Package.PackageVersion"
	VarFeedID                 = "Octopus.Action.Package.FeedId"
	VarSkipIfAlreadyInstalled = "Octopus.Action.Package.SkipIfAlreadyInstalled"
	VarRetentionPolicySet     = "Octopus.Tentacle.CurrentDeployment.RetentionPolicySet"

	// Outputs. VarInstallationDirectoryPath is the current name;
	// VarOriginalPackageDirectoryPath is kept as an alias because older
	// consumers still read it.
	VarInstallationDirectoryPath    = "Package.InstallationDirectoryPath"
	VarOriginalPackageDirectoryPath = "OctopusOriginalPackageDirectoryPath"
)

// Variables is an ordered, case-insensitive string map. Insertion order
// is preserved so variable dumps and service messages are deterministic;
// lookups and overwrites treat keys case-insensitively, keeping the
// first-seen spelling.
type Variables struct {
	keys   []string          // first-seen spellings, insertion order
	values map[string]string // lower-cased key → value
}

// NewVariables builds an empty variable map.
func NewVariables() *Variables {
	return &Variables{values: make(map[string]string)}
}

// Set stores a value. A key that differs only in case replaces the
// existing value but keeps its original spelling and position.
func (v *Variables) Set(key, value string) {
	lower := strings.ToLower(key)
	if _, ok := v.values[lower]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[lower] = value
}

// Get returns the value for key, case-insensitively.
func (v *Variables) Get(key string) (string, bool) {
	value, ok := v.values[strings.ToLower(key)]
	return value, ok
}

// GetOrDefault returns the value for key, or def when unset.
func (v *Variables) GetOrDefault(key, def string) string {
	if value, ok := v.Get(key); ok {
		return value
	}
	return def
}

// IsSet reports whether key holds a truthy flag value.
func (v *Variables) IsSet(key string) bool {
	value, ok := v.Get(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Each calls fn for every variable in insertion order.
func (v *Variables) Each(fn func(key, value string)) {
	for _, key := range v.keys {
		fn(key, v.values[strings.ToLower(key)])
	}
}

// Len returns the number of variables.
func (v *Variables) Len() int {
	return len(v.keys)
}
