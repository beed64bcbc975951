package application

import "time"

// RAM payer options for a declared action.
const (
	RAMPayerUser     = "user"
	RAMPayerContract = "contract"
	RAMPayerBoth     = "both"
)

// Resources is the averaged resource telemetry of an action.
type Resources struct {
	RAMPayer     string `json:"ram_payer"`
	AvgRAMUsage  uint32 `json:"avg_ram_usage"`
	AvgCPUMicros uint32 `json:"avg_cpu_us"`
	AvgNet       uint32 `json:"avg_net"`
}

// Action is an entry point declared by an application.
type Action struct {
	Name      string    `json:"name"`
	ShortDesc string    `json:"short_desc"`
	LongDesc  string    `json:"long_desc"`
	Resources Resources `json:"resources"`
}

// Application is a catalogued dapp keyed by its account.
type Application struct {
	Account       string    `json:"account"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	SourceCode    string    `json:"source_code"`
	Website       string    `json:"website"`
	Logo          string    `json:"logo"`
	Tags          []string  `json:"tags"`
	CodeHash      string    `json:"code_hash,omitempty"`
	LastValidator string    `json:"last_validator,omitempty"`
	Actions       []Action  `json:"actions"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Action returns the declared action with the given name.
func (a Application) Action(name string) (Action, bool) {
	for _, act := range a.Actions {
		if act.Name == name {
			return act, true
		}
	}
	return Action{}, false
}

// Clone returns a deep copy.
func Clone(a Application) Application {
	if a.Tags != nil {
		a.Tags = append([]string(nil), a.Tags...)
	}
	if a.Actions != nil {
		a.Actions = append([]Action(nil), a.Actions...)
	}
	return a
}
