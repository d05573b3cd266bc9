package billing

import (
	"context"
	"testing"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

func TestTrialEligibleForUnknownAddress(t *testing.T) {
	repo := newMemRepo()
	eval := NewTrialEvaluator(repo, newFakeProvider())

	d := eval.Evaluate(context.Background(), "new@example.com")
	if !d.Eligible || d.FailedOpen {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if len(repo.flags) != 0 {
		t.Fatalf("clean path must not flag anything")
	}
}

func TestTrialDeniedForAddressWithHistory(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	provider.customersByEmail["back@example.com"] = "cus_1"
	provider.history["cus_1"] = true
	eval := NewTrialEvaluator(repo, provider)

	d := eval.Evaluate(context.Background(), "back@example.com")
	if d.Eligible {
		t.Fatalf("history must deny the trial")
	}
}

func TestTrialKnownCustomerWithoutHistoryIsEligible(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	provider.customersByEmail["window@example.com"] = "cus_1"
	eval := NewTrialEvaluator(repo, provider)

	if d := eval.Evaluate(context.Background(), "window@example.com"); !d.Eligible {
		t.Fatalf("customer without any subscription must stay eligible")
	}
}

func TestTrialFailsOpenOnProviderOutage(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	provider.err = ErrProviderUnavailable
	eval := NewTrialEvaluator(repo, provider)

	d := eval.Evaluate(context.Background(), "out@example.com")
	if !d.Eligible || !d.FailedOpen {
		t.Fatalf("outage must grant the trial and mark the decision: %+v", d)
	}
	if len(repo.flags) != 1 || repo.flags[0].Kind != models.FlagTrialFailOpen {
		t.Fatalf("fail-open must leave a flag, got %+v", repo.flags)
	}
	if repo.flags[0].Email != "out@example.com" {
		t.Fatalf("flag must carry the address: %+v", repo.flags[0])
	}
}
