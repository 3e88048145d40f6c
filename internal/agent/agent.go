package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/message"
)

const chatCompletionsEndpoint = "https://api.groq.com/openai/v1/chat/completions"

// maxToolRounds bounds how many times a single run may stop for tool calls
// before the adapter gives up.
const maxToolRounds = 5

// Agent streams replies from an OpenAI-compatible chat completions API,
// transparently executing tool invocations the model requests mid-run.
type Agent struct {
	HTTPClient *http.Client
	apiKey     string
	model      string
	system     string
	tools      []Tool
	logger     *zap.Logger
}

// New constructs an Agent with a fixed tool table.
func New(httpClient *http.Client, apiKey, model, systemPrompt string, tools []Tool, logger *zap.Logger) *Agent {
	return &Agent{
		HTTPClient: httpClient,
		apiKey:     apiKey,
		model:      model,
		system:     systemPrompt,
		tools:      tools,
		logger:     logger,
	}
}

// Run is one streaming interaction. Deltas yields incremental text while the
// stream is open; Wait blocks until the stream fully drains; NewMessages is
// only valid after Wait returns and holds the request/response entries this
// run appended, including any interleaved tool traffic.
type Run struct {
	deltas   chan string
	done     chan struct{}
	err      error
	messages []message.Message
}

// Deltas returns the incremental text channel. The full reply is the
// concatenation of all deltas in emission order.
func (r *Run) Deltas() <-chan string { return r.deltas }

// Wait blocks until the run finishes and returns its terminal error, if any.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// NewMessages returns this run's appended message-log entries. Call only
// after Wait.
func (r *Run) NewMessages() []message.Message { return r.messages }

// RunStream opens one streaming run for the prompt against the prior message
// log. Tool invocations requested by the model are executed with deps and
// folded back into the model's context before further text is produced.
func (a *Agent) RunStream(ctx context.Context, prompt string, history []message.Message, deps *Dependencies) (*Run, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("agent api key missing")
	}

	promptTS := time.Now().UTC()
	wire := make([]wireMessage, 0, len(history)+2)
	if a.system != "" {
		wire = append(wire, wireMessage{Role: "system", Content: a.system})
	}
	wire = append(wire, historyToWire(history)...)
	wire = append(wire, wireMessage{Role: "user", Content: prompt})

	r := &Run{
		deltas: make(chan string, 32),
		done:   make(chan struct{}),
		messages: []message.Message{message.Request{
			Parts:     []message.RequestPart{message.UserPrompt{Content: prompt, Timestamp: promptTS}},
			Timestamp: promptTS,
		}},
	}

	go func() {
		defer close(r.done)
		defer close(r.deltas)

		for round := 0; round <= maxToolRounds; round++ {
			text, calls, err := a.streamOnce(ctx, wire, r.deltas)
			if err != nil {
				r.err = err
				return
			}
			now := time.Now().UTC()

			if len(calls) == 0 {
				r.messages = append(r.messages, message.Response{
					Parts:     []message.ResponsePart{message.Text{Content: text}},
					Timestamp: now,
				})
				return
			}

			respParts := make([]message.ResponsePart, 0, len(calls)+1)
			if text != "" {
				respParts = append(respParts, message.Text{Content: text})
			}
			for _, call := range calls {
				respParts = append(respParts, message.ToolInvocation{
					CallID:    call.ID,
					Name:      call.Function.Name,
					Arguments: json.RawMessage(call.Function.Arguments),
				})
			}
			r.messages = append(r.messages, message.Response{Parts: respParts, Timestamp: now})
			wire = append(wire, wireMessage{Role: "assistant", Content: text, ToolCalls: calls})

			reqParts := make([]message.RequestPart, 0, len(calls))
			for _, call := range calls {
				content := a.executeTool(ctx, deps, call)
				resultTS := time.Now().UTC()
				reqParts = append(reqParts, message.ToolResult{
					CallID:    call.ID,
					Name:      call.Function.Name,
					Content:   content,
					Timestamp: resultTS,
				})
				wire = append(wire, wireMessage{Role: "tool", ToolCallID: call.ID, Content: content})
			}
			r.messages = append(r.messages, message.Request{Parts: reqParts, Timestamp: time.Now().UTC()})
		}
		r.err = fmt.Errorf("agent exceeded %d tool rounds", maxToolRounds)
	}()

	return r, nil
}

// executeTool runs one requested tool. Failures are folded back as the tool
// result content so the model can recover; they never abort the run.
func (a *Agent) executeTool(ctx context.Context, deps *Dependencies, call wireToolCall) string {
	for _, tool := range a.tools {
		if tool.Name != call.Function.Name {
			continue
		}
		a.logger.Info("executing tool", zap.String("tool", tool.Name))
		out, err := tool.Run(ctx, deps, json.RawMessage(call.Function.Arguments))
		if err != nil {
			a.logger.Warn("tool execution failed", zap.String("tool", tool.Name), zap.Error(err))
			return "error: " + err.Error()
		}
		return out
	}
	a.logger.Warn("model requested unknown tool", zap.String("tool", call.Function.Name))
	return fmt.Sprintf("error: unknown tool %q", call.Function.Name)
}

// streamOnce performs a single streaming chat completion, emitting text
// deltas as they arrive and accumulating any tool call fragments.
func (a *Agent) streamOnce(ctx context.Context, wire []wireMessage, deltas chan<- string) (string, []wireToolCall, error) {
	reqBody, _ := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: wire,
		Tools:    a.wireTools(),
		Stream:   true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatCompletionsEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("agent stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("agent stream error: status=%d body=%s", resp.StatusCode, detail)
	}

	var (
		full  strings.Builder
		calls []wireToolCall
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			a.logger.Warn("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			full.WriteString(delta.Content)
			select {
			case deltas <- delta.Content:
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
		}
		for _, fragment := range delta.ToolCalls {
			for len(calls) <= fragment.Index {
				calls = append(calls, wireToolCall{Type: "function"})
			}
			call := &calls[fragment.Index]
			if fragment.ID != "" {
				call.ID = fragment.ID
			}
			if fragment.Function.Name != "" {
				call.Function.Name = fragment.Function.Name
			}
			call.Function.Arguments += fragment.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("agent stream read: %w", err)
	}
	return full.String(), calls, nil
}

func (a *Agent) wireTools() []wireTool {
	if len(a.tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// historyToWire flattens the message log into chat completion messages.
func historyToWire(history []message.Message) []wireMessage {
	out := make([]wireMessage, 0, len(history))
	for _, msg := range history {
		switch m := msg.(type) {
		case message.Request:
			for _, part := range m.Parts {
				switch p := part.(type) {
				case message.UserPrompt:
					out = append(out, wireMessage{Role: "user", Content: p.Content})
				case message.ToolResult:
					out = append(out, wireMessage{Role: "tool", ToolCallID: p.CallID, Content: p.Content})
				}
			}
		case message.Response:
			var wm wireMessage
			wm.Role = "assistant"
			for _, part := range m.Parts {
				switch p := part.(type) {
				case message.Text:
					wm.Content += p.Content
				case message.ToolInvocation:
					wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
						ID:   p.CallID,
						Type: "function",
						Function: wireFunction{
							Name:      p.Name,
							Arguments: string(p.Arguments),
						},
					})
				}
			}
			out = append(out, wm)
		}
	}
	return out
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function wireToolDef `json:"function"`
}

type wireToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
