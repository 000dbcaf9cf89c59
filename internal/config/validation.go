package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/panes/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}
	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// Validate checks every section of cfg.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateStorage(&cfg.Storage, result)
	validateRender(&cfg.Render, result)

	if cfg.Console.MaxEntries < 1 {
		result.fail("console.max_entries", cfg.Console.MaxEntries, "must be at least 1")
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		result.fail("log.level", cfg.Log.Level, err.Error(), "Use one of debug, info, warn, error")
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		result.fail("log.format", cfg.Log.Format, "unknown log format", "Use 'text' or 'json'")
	}

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.Port < 0 || s.Port > 65535 {
		result.fail("server.port", s.Port, fmt.Sprintf("port %d is not in valid range 0-65535", s.Port),
			"Common development ports: 3000, 8080, 8000",
			"Port 0 allows system to assign an available port")
	} else if s.Port > 0 && s.Port < 1024 {
		result.warn("server.port", s.Port, "port below 1024 requires elevated privileges")
	}

	if s.Host != "" {
		if err := validateHostname(s.Host); err != nil {
			result.fail("server.host", s.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use a valid IP address or hostname")
		} else if ip := net.ParseIP(s.Host); ip != nil && ip.IsUnspecified() {
			result.warn("server.host", s.Host, "the playground will be reachable from other machines")
		}
	}

	for _, origin := range s.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result.fail("server.allowed_origins", origin, "origin must be an http(s) URL with a host",
				"Example: http://localhost:3000")
		}
	}

	if s.RateLimit <= 0 {
		result.fail("server.rate_limit", s.RateLimit, "must be positive")
	}
	if s.RateBurst < 1 {
		result.fail("server.rate_burst", s.RateBurst, "must be at least 1")
	}
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]*$`)

func validateStorage(s *StorageConfig, result *ValidationResult) {
	switch s.Driver {
	case DriverMemory:
	case DriverSQLite:
		if err := validatePath(s.Path); err != nil {
			result.fail("storage.path", s.Path, err.Error())
		}
	default:
		result.fail("storage.driver", s.Driver, "unknown storage driver",
			"Use 'sqlite' for durable storage or 'memory' for a throwaway session")
	}

	if !namespacePattern.MatchString(s.Namespace) {
		result.fail("storage.namespace", s.Namespace, "namespace may only contain letters, digits and _ . : -")
	}
	if s.QuotaBytes < 0 {
		result.fail("storage.quota_bytes", s.QuotaBytes, "must not be negative", "Use 0 for an unbounded store")
	}
}

func validateRender(r *RenderConfig, result *ValidationResult) {
	switch {
	case r.Debounce <= 0:
		result.fail("render.debounce", r.Debounce, "must be positive", "The default is 500ms")
	case r.Debounce > 10*time.Second:
		result.fail("render.debounce", r.Debounce, "must be at most 10s")
	case r.Debounce < 50*time.Millisecond:
		result.warn("render.debounce", r.Debounce, "very short debounce renders on almost every keystroke")
	}

	if r.Timeout <= 0 {
		result.fail("render.timeout", r.Timeout, "must be positive")
	}
	if r.MaxTimers < 1 {
		result.fail("render.max_timers", r.MaxTimers, "must be at least 1")
	}
	if r.MaxCallStack < 1 {
		result.fail("render.max_call_stack", r.MaxCallStack, "must be at least 1")
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	// Check for dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
