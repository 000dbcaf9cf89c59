package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// ServerStartError generates suggestions for server startup failures
func ServerStartError(err error, port int) []ErrorSuggestion {
	var suggestions []ErrorSuggestion

	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") {
		suggestions = append(suggestions,
			ErrorSuggestion{
				Title:       "Port already in use",
				Description: fmt.Sprintf("Port %d is already being used by another process", port),
				Command:     fmt.Sprintf("lsof -i :%d", port),
			},
			ErrorSuggestion{
				Title:       "Use a different port",
				Description: "Start the server on a different port",
				Command:     fmt.Sprintf("panes serve --port %d", port+1),
			},
		)
	}

	if strings.Contains(errStr, "permission denied") && port < 1024 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use unprivileged port",
			Description: "Ports below 1024 require root privileges",
			Command:     "panes serve --port 8080",
		})
	}

	return suggestions
}

// ConfigurationError generates suggestions for configuration issues
func ConfigurationError(err error, configPath string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Show the effective configuration",
			Description: "Print the configuration panes resolved from file, environment and flags",
			Command:     "panes config show",
		},
	}
	if configPath != "" {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check configuration file",
			Description: "Verify " + configPath + " exists and has valid syntax",
			Command:     "cat " + configPath,
		})
	}

	errStr := err.Error()
	if strings.Contains(errStr, "yaml") || strings.Contains(errStr, "decode") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax error in your YAML configuration",
			Example:     "Use proper indentation and avoid tabs",
		})
	}
	if strings.Contains(errStr, "storage.path") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use an in-memory store",
			Description: "Skip the database file for a throwaway session",
			Command:     "PANES_STORAGE_DRIVER=memory panes serve",
		})
	}

	return suggestions
}

// StorageError generates suggestions for a store that cannot be opened.
func StorageError(err error, path string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check the database directory",
			Description: "The directory holding " + path + " must exist and be writable",
			Command:     "ls -la " + dirOf(path),
		},
		{
			Title:       "Use an in-memory store",
			Description: "Buffers are then kept for the life of the process only",
			Command:     "panes serve --storage memory",
		},
	}

	if errors.Is(err, ErrQuotaExceeded) {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Raise the quota",
			Description: "The stored buffers exceed storage.quota_bytes",
			Example:     "storage:\n  quota_bytes: 10485760",
		})
	}

	return suggestions
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i > 0 {
		return path[:i]
	}
	return "."
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\n")
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
		output.WriteString("\n")
	}

	return output.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	title := e.Title
	if e.OriginalError != nil {
		title += ": " + e.OriginalError.Error()
	}
	return FormatSuggestions(title, e.Suggestions)
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
