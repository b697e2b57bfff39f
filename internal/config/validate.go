package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	if c.Gateway.DailyRequestLimit > c.Gateway.MonthlyRequestLimit {
		errs = append(errs, "GATEWAY_DAILY_REQUEST_LIMIT cannot exceed GATEWAY_MONTHLY_REQUEST_LIMIT")
	}
	if c.Gateway.DailyTokenLimit > c.Gateway.MonthlyTokenLimit {
		errs = append(errs, "GATEWAY_DAILY_TOKEN_LIMIT cannot exceed GATEWAY_MONTHLY_TOKEN_LIMIT")
	}
	if c.Gateway.DailyCostLimit > c.Gateway.MonthlyCostLimit {
		errs = append(errs, "GATEWAY_DAILY_COST_LIMIT cannot exceed GATEWAY_MONTHLY_COST_LIMIT")
	}

	if c.Model.MaxRetries < 0 || c.Model.MaxRetries > 10 {
		errs = append(errs, fmt.Sprintf("MODEL_MAX_RETRIES must be 0-10, got %d", c.Model.MaxRetries))
	}

	// Model API key: warn only, the health endpoint reports the failure
	if c.Model.APIKey == "" {
		slog.Warn("MODEL_API_KEY is empty, model API calls will fail authentication")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
