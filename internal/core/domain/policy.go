package domain

import "fmt"

// OverwritePolicy decides whether an automated sync may replace an existing field value.
type OverwritePolicy string

const (
	// OverwriteAlways lets every extraction overwrite, including manual overrides.
	OverwriteAlways OverwritePolicy = "always"
	// OverwriteNever leaves fields whose current source is a manual edit untouched.
	OverwriteNever OverwritePolicy = "never"
	// OverwriteRequireHigherAuthority overwrites only when the incoming source ranks at least as high.
	OverwriteRequireHigherAuthority OverwritePolicy = "requireHigherAuthority"
)

// ParseOverwritePolicy parses a policy name. Empty selects OverwriteAlways.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch OverwritePolicy(s) {
	case "":
		return OverwriteAlways, nil
	case OverwriteAlways, OverwriteNever, OverwriteRequireHigherAuthority:
		return OverwritePolicy(s), nil
	}
	return "", fmt.Errorf("%w: unknown overwrite policy %q", ErrConfiguration, s)
}

// Allows reports whether a value from incoming may replace one currently tracked as existing.
// Untracked fields can always be written.
func (p OverwritePolicy) Allows(existing, incoming string) bool {
	if existing == "" {
		return true
	}
	switch p {
	case OverwriteNever:
		return !IsManualSource(existing)
	case OverwriteRequireHigherAuthority:
		return SourceAuthority(incoming) >= SourceAuthority(existing)
	default:
		return true
	}
}

// SyncResult reports what one concept's synchronization did.
type SyncResult struct {
	RecordType    RecordType `json:"record_type"`
	RecordID      string     `json:"record_id"`
	Created       bool       `json:"created"`
	UpdatedFields []string   `json:"updated_fields,omitempty"`
	SkippedFields []string   `json:"skipped_fields,omitempty"`
}
