// Package clioutput prints stratactl results as single-line JSON, the
// same agent-consumable envelope the teacher's internal/output package
// produces, adapted from sterr.Error instead of models.RecoverableError.
package clioutput

import (
	"encoding/json"
	"errors"
	"io"
	"os"
)

// recoverable mirrors sterr.Error's diagnostic surface locally, avoiding
// an import of the sterr package purely for an interface assertion.
type recoverable interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// Response is the envelope every subcommand prints, one line per
// invocation.
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            any               `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// Config controls where and how a Response is rendered.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig writes compact JSON to stdout; set STRATACTL_PRETTY_JSON=1
// for indented output.
func DefaultConfig() Config {
	pretty := os.Getenv("STRATACTL_PRETTY_JSON") == "1"
	return Config{Writer: os.Stdout, Pretty: pretty}
}

func Success(data any) Response {
	return Response{SchemaVersion: "v1", Success: true, Data: data}
}

func Error(err error) Response {
	resp := Response{SchemaVersion: "v1", Success: false, Error: err.Error()}
	var re recoverable
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

func PrintWith(cfg Config, v any) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func Print(v any) error { return PrintWith(DefaultConfig(), v) }

func PrintSuccess(data any) error { return Print(Success(data)) }

func PrintError(err error) error { return Print(Error(err)) }
