package cfg

import (
	"errors"
	"fmt"
	"time"

	"flag"
)

// Config holds herald's application-level settings. Infrastructure packages
// (http server, logging, tracing, ops listener) register their own flags.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	PolicyFile            string
	WebhookURL            string
	LinkBaseURL           string
	TokenSecret           string
	TickInterval          time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on write endpoints (empty = auth disabled)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "path to escalation policy YAML (empty = built-in defaults)")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "chat webhook URL for notifications")
	fs.StringVar(&c.LinkBaseURL, "link-base-url", "", "externally reachable API base URL for ack/resolve links")
	fs.StringVar(&c.TokenSecret, "token-secret", "", "HMAC secret for ack/resolve link tokens")
	fs.DurationVar(&c.TickInterval, "tick-interval", 30*time.Second, "escalation scheduler scan interval (1s..10m)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.TickInterval < time.Second || c.TickInterval > 10*time.Minute {
		errs = append(errs, fmt.Errorf("invalid TICK_INTERVAL %s (must be 1s..10m)", c.TickInterval))
	}

	// Ack/resolve links in notifications need both halves to be usable.
	if c.LinkBaseURL != "" && c.TokenSecret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required when LINK_BASE_URL is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
