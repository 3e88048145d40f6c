// Package message defines the agent conversation log: an ordered list of
// request/response entries exchanged with the model during one or more runs.
// The variants form a closed set so consumers can dispatch with a type switch
// instead of runtime reflection.
package message

import (
	"encoding/json"
	"time"
)

// Message is either a Request (data sent to the model) or a Response
// (data produced by the model). The interface is sealed.
type Message interface {
	isMessage()
}

// Request carries one or more parts sent to the model: the user's prompt
// and/or results of tool invocations requested in an earlier response.
type Request struct {
	Parts     []RequestPart
	Timestamp time.Time
}

func (Request) isMessage() {}

// Response carries one or more parts produced by the model: generated text
// and/or tool invocation requests.
type Response struct {
	Parts     []ResponsePart
	Timestamp time.Time
}

func (Response) isMessage() {}

// RequestPart is either a UserPrompt or a ToolResult.
type RequestPart interface {
	isRequestPart()
}

// UserPrompt is the user's transcribed utterance with its capture time.
type UserPrompt struct {
	Content   string
	Timestamp time.Time
}

func (UserPrompt) isRequestPart() {}

// ToolResult is the output of one tool invocation, fed back to the model.
type ToolResult struct {
	CallID    string
	Name      string
	Content   string
	Timestamp time.Time
}

func (ToolResult) isRequestPart() {}

// ResponsePart is either generated Text or a ToolInvocation.
type ResponsePart interface {
	isResponsePart()
}

// Text is a span of generated assistant text.
type Text struct {
	Content string
}

func (Text) isResponsePart() {}

// ToolInvocation is the model asking for a tool to be executed.
type ToolInvocation struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

func (ToolInvocation) isResponsePart() {}
