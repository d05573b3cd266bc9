package billing

import (
	"context"
	"log"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// TrialEvaluator decides at registration whether a contact address may
// receive the free trial. Local email uniqueness is enforced elsewhere; this
// component only consults the billing provider's history.
type TrialEvaluator struct {
	repo     Repository
	provider Provider
}

// NewTrialEvaluator creates a trial eligibility evaluator.
func NewTrialEvaluator(repo Repository, provider Provider) *TrialEvaluator {
	return &TrialEvaluator{repo: repo, provider: provider}
}

// TrialDecision is the outcome of an eligibility evaluation.
type TrialDecision struct {
	Eligible bool
	// FailedOpen is set when the provider was unreachable and the trial was
	// granted anyway. These cases are flagged for later reconciliation.
	FailedOpen bool
}

// Evaluate returns whether the address is eligible for a trial. A provider
// outage must never block registration, so lookup failures grant the trial
// and leave a flag behind; that is the one spot the anti-abuse check can be
// bypassed, which is why it is recorded rather than silently allowed.
func (t *TrialEvaluator) Evaluate(ctx context.Context, email string) TrialDecision {
	customerID, err := t.provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return t.failOpen(email, err)
	}
	if customerID == "" {
		return TrialDecision{Eligible: true}
	}

	hasHistory, err := t.provider.HasSubscriptionHistory(ctx, customerID)
	if err != nil {
		return t.failOpen(email, err)
	}
	// Any subscription ever held, whatever its status, denies the trial.
	return TrialDecision{Eligible: !hasHistory}
}

func (t *TrialEvaluator) failOpen(email string, cause error) TrialDecision {
	log.Printf("trial eligibility lookup failed for %s, granting trial: %v", email, cause)
	flag := &models.BillingFlag{
		Kind:   models.FlagTrialFailOpen,
		Email:  email,
		Detail: "provider lookup failed during registration: " + cause.Error(),
	}
	if err := t.repo.CreateFlag(flag); err != nil {
		log.Printf("could not record trial fail-open flag for %s: %v", email, err)
	}
	return TrialDecision{Eligible: true, FailedOpen: true}
}
