package config

import (
	"strings"
	"testing"
)

// findIssue returns the first issue at path, or nil.
func findIssue(issues []Issue, path string) *Issue {
	for i := range issues {
		if issues[i].Path == path {
			return &issues[i]
		}
	}
	return nil
}

func validConfig() Config {
	return Config{
		Store:  StoreConfig{Kind: "bolt", Path: "studio.db"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

func TestValidateOK(t *testing.T) {
	if issues := Validate(validConfig()); len(issues) != 0 {
		t.Fatalf("valid config produced issues: %v", issues)
	}
}

func TestValidateStore(t *testing.T) {
	tests := []struct {
		name     string
		store    StoreConfig
		path     string
		severity IssueSeverity
	}{
		{"empty kind", StoreConfig{}, "store.kind", SeverityError},
		{"unknown kind", StoreConfig{Kind: "etcd"}, "store.kind", SeverityError},
		{"bolt without path", StoreConfig{Kind: "bolt"}, "store.path", SeverityError},
		{"sqlite without path", StoreConfig{Kind: "sqlite"}, "store.path", SeverityError},
		{"postgres without dsn", StoreConfig{Kind: "postgres"}, "store.dsn", SeverityError},
		{"memory warns", StoreConfig{Kind: "memory"}, "store.kind", SeverityWarning},
	}
	for _, tc := range tests {
		cfg := validConfig()
		cfg.Store = tc.store
		iss := findIssue(Validate(cfg), tc.path)
		if iss == nil {
			t.Fatalf("%s: no issue at %s", tc.name, tc.path)
		}
		if iss.Severity != tc.severity {
			t.Fatalf("%s: severity=%s; want %s", tc.name, iss.Severity, tc.severity)
		}
	}
}

func TestValidateMetrics(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = MetricsConfig{Backend: "statsite"}
	iss := findIssue(Validate(cfg), "metrics.backend")
	if iss == nil || iss.Severity != SeverityError {
		t.Fatalf("unknown metrics backend not rejected: %v", iss)
	}

	cfg.Metrics = MetricsConfig{Backend: "pushgateway"}
	iss = findIssue(Validate(cfg), "metrics.pushgateway_url")
	if iss == nil || iss.Severity != SeverityWarning {
		t.Fatalf("missing pushgateway url not warned: %v", iss)
	}

	cfg.Metrics = MetricsConfig{Backend: "none"}
	if issues := Validate(cfg); len(issues) != 0 {
		t.Fatalf("disabled metrics produced issues: %v", issues)
	}
}

func TestIssueError(t *testing.T) {
	iss := Issue{Severity: SeverityError, Path: "store.kind", Message: "boom"}
	if got := iss.Error(); !strings.Contains(got, "store.kind") || !strings.Contains(got, "boom") {
		t.Fatalf("Error()=%q", got)
	}
}
