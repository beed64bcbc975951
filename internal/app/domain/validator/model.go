package validator

import "time"

// Validator is a registered identity that may accept bounties and attest to
// applications. Weight is derived from Approvers and never set directly.
type Validator struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Weight    float64   `json:"weight"`
	Approvers []string  `json:"approvers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasApprover reports whether authority is in the approval set.
func (v Validator) HasApprover(authority string) bool {
	return v.approverIndex(authority) >= 0
}

// WithoutApprover returns the approval set minus authority, keeping order.
func (v Validator) WithoutApprover(authority string) []string {
	idx := v.approverIndex(authority)
	if idx < 0 {
		return Clone(v).Approvers
	}
	out := make([]string, 0, len(v.Approvers)-1)
	out = append(out, v.Approvers[:idx]...)
	return append(out, v.Approvers[idx+1:]...)
}

func (v Validator) approverIndex(authority string) int {
	for i, a := range v.Approvers {
		if a == authority {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func Clone(v Validator) Validator {
	if v.Approvers != nil {
		v.Approvers = append([]string(nil), v.Approvers...)
	}
	return v
}
