package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration (E100-E199)

	"E101": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Pass --config with the path to a TOML file, or omit it to use flags only",
	},
	"E102": {
		Category:   CategoryConfig,
		Message:    "Config file could not be parsed",
		Suggestion: "Check that the file is valid TOML",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
	},
	"E104": {
		Category:   CategoryConfig,
		Message:    "No endpoint URL configured",
		Suggestion: "Set url in the config file or pass --url",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Token environment variable is empty",
		Detail:   "The variable named by token_env is unset or empty.",
	},
	"E106": {
		Category:   CategoryConfig,
		Message:    "Unknown log level",
		Suggestion: "Use one of debug, info, warn, error",
	},

	// Connection (E200-E299)

	"E201": {
		Category: CategoryConnection,
		Message:  "Metrics listener failed",
		Detail:   "The HTTP server for /metrics and /healthz could not start.",
	},
	"E202": {
		Category: CategoryConnection,
		Message:  "Client setup failed",
	},

	// Archive (E300-E399)

	"E301": {
		Category:   CategoryArchive,
		Message:    "Archive setup failed",
		Suggestion: "Check archive.bucket, archive.region and the AWS_* environment variables",
	},
	"E302": {
		Category: CategoryArchive,
		Message:  "Archive upload failed",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
