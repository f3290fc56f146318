package ratelimit

import (
	"time"

	"github.com/spec-kit/lms-api/internal/config"
)

const (
	PolicyAuth          = "auth"
	PolicyAPI           = "api"
	PolicyPasswordReset = "password-reset"
)

// Policies holds the budgets mounted on the API route groups.
type Policies struct {
	Auth          Policy
	API           Policy
	PasswordReset Policy
}

// PoliciesFromConfig derives the route-group budgets. The auth budget is
// relaxed outside production.
func PoliciesFromConfig(app config.AppConfig, cfg config.RateLimitConfig) Policies {
	authMax := cfg.AuthMax
	if !app.IsProduction() {
		authMax = cfg.AuthMaxNonProd
	}
	return Policies{
		Auth: Policy{
			Name:    PolicyAuth,
			Max:     authMax,
			Window:  minutes(cfg.AuthWindowMinutes, 15),
			Message: "Too many authentication attempts, please try again later.",
		},
		API: Policy{
			Name:    PolicyAPI,
			Max:     cfg.APIMax,
			Window:  minutes(cfg.APIWindowMinutes, 15),
			Message: "Too many requests from this IP, please try again later.",
		},
		PasswordReset: Policy{
			Name:    PolicyPasswordReset,
			Max:     cfg.ResetMax,
			Window:  minutes(cfg.ResetWindowMinutes, 60),
			Message: "Too many password reset attempts, please try again later.",
		},
	}
}

func minutes(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Minute
}
