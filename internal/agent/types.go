// Package agent drives a streaming language-model run with a fixed set of
// tools the model may invoke mid-generation.
package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/DoganK01/VoiceAiAssistant/internal/config"
)

// Dependencies is the read-only capability bundle handed to every tool
// invocation during one run. It is never mutated during the run.
type Dependencies struct {
	Settings *config.Config
	HTTP     *http.Client
}

// Tool describes one callable tool: its wire schema and the function that
// executes it. The tool set is static and registered at agent construction;
// there is no dynamic dispatch.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Run         func(ctx context.Context, deps *Dependencies, args json.RawMessage) (string, error)
}
