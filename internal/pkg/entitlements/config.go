package entitlements

import (
	"strconv"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/env"
)

// Config carries every plan-derived number and billing reference the app
// needs. It is built once at startup and injected into the components that
// use it, so quota tables cannot drift between call sites.
type Config struct {
	TrialQuota   int
	PremiumQuota int
	TrialDays    int

	PremiumPriceID     string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// DefaultConfig returns the built-in quota table.
func DefaultConfig() Config {
	return Config{
		TrialQuota:   10,
		PremiumQuota: 100,
		TrialDays:    7,
	}
}

// LoadConfig builds the entitlement configuration from the environment,
// falling back to the defaults for anything unset.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.TrialQuota = envInt("TRIAL_GENERATION_QUOTA", cfg.TrialQuota)
	cfg.PremiumQuota = envInt("PREMIUM_GENERATION_QUOTA", cfg.PremiumQuota)
	cfg.TrialDays = envInt("TRIAL_DAYS", cfg.TrialDays)
	cfg.PremiumPriceID = env.GetEnv("STRIPE_PREMIUM_PRICE_ID", "")
	cfg.CheckoutSuccessURL = env.GetEnv("CHECKOUT_SUCCESS_URL", "http://localhost:4000/billing/success")
	cfg.CheckoutCancelURL = env.GetEnv("CHECKOUT_CANCEL_URL", "http://localhost:4000/billing/cancel")
	cfg.PortalReturnURL = env.GetEnv("PORTAL_RETURN_URL", "http://localhost:4000/settings/billing")
	return cfg
}

// Quota returns the per-period generation limit for a plan.
func (c Config) Quota(p Plan) int {
	switch NormalizePlan(string(p)) {
	case PlanTrial:
		return c.TrialQuota
	case PlanPremium:
		return c.PremiumQuota
	default:
		return 0
	}
}

func envInt(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
