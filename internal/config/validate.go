// This file adds a lightweight linter/validator for Config values. It performs
// static checks over a decoded Config and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be
	// surfaced to users but may not necessarily block startup.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Config.
//
// Path is a dotted path into the config (e.g. "store.kind"). Message is
// human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// knownStoreKinds lists the backend kinds the store factory can construct.
// Kept here (duplicated from the registry) so validation stays dependency-free.
var knownStoreKinds = map[string]bool{
	"bolt":     true,
	"sqlite":   true,
	"postgres": true,
	"memory":   true,
}

// Validate performs static validation / linting of a Config.
//
// It does not mutate the config. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	issues = append(issues, validateStore(c.Store)...)
	issues = append(issues, validateServer(c.Server)...)
	issues = append(issues, validateMetrics(c.Metrics)...)

	return issues
}

func validateStore(s StoreConfig) []Issue {
	var issues []Issue

	kind := strings.TrimSpace(s.Kind)
	if kind == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.kind",
			Message:  `store kind must not be empty (use "bolt", "sqlite", "postgres", or "memory")`,
		})
		return issues
	}
	if !knownStoreKinds[kind] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.kind",
			Message:  fmt.Sprintf("unknown store kind %q", kind),
		})
	}

	switch kind {
	case "bolt", "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.path",
				Message:  fmt.Sprintf("%s store requires a database file path", kind),
			})
		}
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.dsn",
				Message:  "postgres store requires a DSN",
			})
		}
	case "memory":
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "store.kind",
			Message:  "memory store is not durable; data is lost on restart",
		})
	}

	return issues
}

func validateServer(s ServerConfig) []Issue {
	if strings.TrimSpace(s.Addr) == "" {
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "server.addr",
			Message:  `server addr is empty; defaulting to ":8080"`,
		}}
	}
	return nil
}

func validateMetrics(m MetricsConfig) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
		// metrics disabled
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend selected without a URL; defaulting to http://localhost:9091",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.StatsdAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.statsd_addr",
				Message:  "datadog backend selected without a statsd addr; defaulting to 127.0.0.1:8125",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q", m.Backend),
		})
	}

	return issues
}
