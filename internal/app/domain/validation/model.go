package validation

import "time"

// Validation is a validator's attestation for one application. Resubmission
// bumps Version and clears the endorsements.
type Validation struct {
	Application string    `json:"application"`
	Validator   string    `json:"validator"`
	Version     uint64    `json:"version"`
	CodeHash    string    `json:"code_hash"`
	Tag         string    `json:"tag"`
	Notes       string    `json:"notes"`
	Approvals   uint64    `json:"approvals"`
	Endorsers   []string  `json:"endorsers"`
	Timestamp   time.Time `json:"timestamp"`
}

// EndorsedBy reports whether authority already endorsed this version.
func (v Validation) EndorsedBy(authority string) bool {
	for _, e := range v.Endorsers {
		if e == authority {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func Clone(v Validation) Validation {
	if v.Endorsers != nil {
		v.Endorsers = append([]string(nil), v.Endorsers...)
	}
	return v
}
