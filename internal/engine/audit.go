package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/R3E-Network/dapp_registry/internal/app/services/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/services/requests"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
)

const weightTolerance = 1e-9

// AuditReport lists every consistency violation found by Audit.
type AuditReport struct {
	Payers     int      `json:"payers"`
	Validators int      `json:"validators"`
	Requests   int      `json:"requests"`
	Violations []string `json:"violations"`
	// Stale lists validators whose stored weight predates a stake change.
	// They are refreshed by their next approval change or acceptance.
	Stale []string `json:"stale"`
}

// OK reports whether the state is consistent.
func (r AuditReport) OK() bool { return len(r.Violations) == 0 }

func (r *AuditReport) add(format string, args ...any) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

// Audit checks the registry invariants against a committed snapshot:
//   - every balance is non-negative and equals the journal's net;
//   - a payer's open bounties never exceed what is still escrowed;
//   - no validator lists an approver twice.
//
// Validators whose stored weight differs from the current stake directory
// are reported as stale rather than as violations.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{Violations: []string{}, Stale: []string{}}
	err := e.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := e.auditCredit(ctx, tx, &report); err != nil {
			return err
		}
		return e.auditValidators(ctx, tx, &report)
	})
	if err != nil {
		return AuditReport{}, err
	}
	if !report.OK() {
		e.log.WithField("violations", len(report.Violations)).Error("registry audit failed")
	}
	return report, nil
}

func (e *Engine) auditCredit(ctx context.Context, tx storage.Tx, report *AuditReport) error {
	accounts, err := tx.ListCreditAccounts(ctx)
	if err != nil {
		return err
	}
	entries, err := tx.ListCreditEntries(ctx, "", 0)
	if err != nil {
		return err
	}
	open, err := tx.ListRequests(ctx, "")
	if err != nil {
		return err
	}
	report.Requests = len(open)

	balances := make(map[string]int64, len(accounts))
	for _, acct := range accounts {
		balances[acct.Payer] = acct.Balance.Amount
		if acct.Balance.Amount < 0 {
			report.add("payer %s has negative balance %s", acct.Payer, acct.Balance)
		}
	}
	totals := credit.Summarize(entries)
	bounties := requests.OpenBounties(open)

	payers := make(map[string]struct{})
	for p := range balances {
		payers[p] = struct{}{}
	}
	for p := range totals {
		payers[p] = struct{}{}
	}
	for p := range bounties {
		payers[p] = struct{}{}
	}
	names := make([]string, 0, len(payers))
	for p := range payers {
		names = append(names, p)
	}
	sort.Strings(names)
	report.Payers = len(names)

	for _, p := range names {
		t := totals[p]
		if got, want := balances[p], t.Net(); got != want {
			report.add("payer %s balance %d does not match journal net %d", p, got, want)
		}
		if open, held := bounties[p], t.Escrowed(); open > held {
			report.add("payer %s has %d in open bounties but only %d escrowed", p, open, held)
		}
	}
	return nil
}

func (e *Engine) auditValidators(ctx context.Context, tx storage.Tx, report *AuditReport) error {
	vals, err := tx.ListValidators(ctx)
	if err != nil {
		return err
	}
	report.Validators = len(vals)
	for _, v := range vals {
		seen := make(map[string]bool, len(v.Approvers))
		for _, a := range v.Approvers {
			if seen[a] {
				report.add("validator %s lists approver %s twice", v.ID, a)
			}
			seen[a] = true
		}
		want, err := e.svc.Validators.Weight(ctx, v.Approvers)
		if err != nil {
			return err
		}
		if math.Abs(v.Weight-want) > weightTolerance {
			report.Stale = append(report.Stale, v.ID)
		}
	}
	return nil
}
