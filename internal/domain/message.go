package domain

import (
	"encoding/json"
	"fmt"
)

// MessageKind discriminates the Message variants on the wire.
type MessageKind string

const (
	KindUser           MessageKind = "user"
	KindAssistant      MessageKind = "assistant"
	KindFunctionResult MessageKind = "function_result"
)

// Message is one entry of a conversation context. The set of implementations
// is closed: UserMessage, AssistantMessage and FunctionResultMessage.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// UserMessage is text typed by the customer.
type UserMessage struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// AssistantMessage is produced by a handler or a human operator. Source is
// the raw role of the author (e.g. "TechnicalAgent", "HumanAgent").
type AssistantMessage struct {
	Content AssistantContent `json:"content"`
	Source  string           `json:"source"`
}

// FunctionResult is the outcome of one tool call.
type FunctionResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
	Name    string `json:"name"`
}

// FunctionResultMessage carries the results of a batch of tool calls.
type FunctionResultMessage struct {
	Results []FunctionResult `json:"results"`
}

func (UserMessage) Kind() MessageKind           { return KindUser }
func (AssistantMessage) Kind() MessageKind      { return KindAssistant }
func (FunctionResultMessage) Kind() MessageKind { return KindFunctionResult }

func (UserMessage) isMessage()           {}
func (AssistantMessage) isMessage()      {}
func (FunctionResultMessage) isMessage() {}

// AssistantContent is either plain text or a batch of pending tool calls,
// never both. The zero value is empty text.
type AssistantContent struct {
	text  string
	calls []ToolCall
}

// TextContent returns text assistant content.
func TextContent(text string) AssistantContent {
	return AssistantContent{text: text}
}

// CallContent returns assistant content holding tool call requests.
// An empty batch is normalized to empty text.
func CallContent(calls ...ToolCall) AssistantContent {
	if len(calls) == 0 {
		return AssistantContent{}
	}
	cp := make([]ToolCall, len(calls))
	for i, c := range calls {
		cp[i] = c.clone()
	}
	return AssistantContent{calls: cp}
}

// Text returns the text and true when the content is text.
func (c AssistantContent) Text() (string, bool) {
	return c.text, c.calls == nil
}

// Calls returns the tool calls and true when the content is a call batch.
func (c AssistantContent) Calls() ([]ToolCall, bool) {
	return c.calls, c.calls != nil
}

// IsCalls reports whether the content is a call batch.
func (c AssistantContent) IsCalls() bool { return c.calls != nil }

type wireContent struct {
	Text  *string    `json:"text,omitempty"`
	Calls []ToolCall `json:"calls,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c AssistantContent) MarshalJSON() ([]byte, error) {
	if c.calls != nil {
		return json.Marshal(wireContent{Calls: c.calls})
	}
	text := c.text
	return json.Marshal(wireContent{Text: &text})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *AssistantContent) UnmarshalJSON(data []byte) error {
	var w wireContent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Text != nil && len(w.Calls) > 0 {
		return fmt.Errorf("assistant content: %w: both text and calls set", ErrInvalidInput)
	}
	if len(w.Calls) > 0 {
		*c = CallContent(w.Calls...)
		return nil
	}
	if w.Text != nil {
		*c = TextContent(*w.Text)
		return nil
	}
	*c = AssistantContent{}
	return nil
}

// MessageList is an ordered conversation context.
type MessageList []Message

// Clone returns a deep copy so the receiver of a published payload never
// shares backing arrays with the publisher.
func (l MessageList) Clone() MessageList {
	if l == nil {
		return nil
	}
	out := make(MessageList, len(l))
	for i, m := range l {
		switch v := m.(type) {
		case AssistantMessage:
			if calls, ok := v.Content.Calls(); ok {
				v.Content = CallContent(calls...)
			}
			out[i] = v
		case FunctionResultMessage:
			results := make([]FunctionResult, len(v.Results))
			copy(results, v.Results)
			out[i] = FunctionResultMessage{Results: results}
		default:
			out[i] = m
		}
	}
	return out
}

// Append returns a new list holding l followed by msgs. l is never modified.
func (l MessageList) Append(msgs ...Message) MessageList {
	out := make(MessageList, 0, len(l)+len(msgs))
	out = append(out, l...)
	return append(out, msgs...)
}

// Tail returns at most the last n messages.
func (l MessageList) Tail(n int) MessageList {
	if n <= 0 || len(l) <= n {
		return l
	}
	return l[len(l)-n:]
}

// LatestAssistant returns the most recent AssistantMessage.
func (l MessageList) LatestAssistant() (AssistantMessage, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if am, ok := l[i].(AssistantMessage); ok {
			return am, true
		}
	}
	return AssistantMessage{}, false
}

// LatestUserText returns the content of the most recent UserMessage.
func (l MessageList) LatestUserText() (string, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if um, ok := l[i].(UserMessage); ok {
			return um.Content, true
		}
	}
	return "", false
}

type wireMessage struct {
	Type    MessageKind       `json:"type"`
	Source  string            `json:"source,omitempty"`
	Text    string            `json:"text,omitempty"`
	Content *AssistantContent `json:"content,omitempty"`
	Results []FunctionResult  `json:"results,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (l MessageList) MarshalJSON() ([]byte, error) {
	wire := make([]wireMessage, 0, len(l))
	for _, m := range l {
		switch v := m.(type) {
		case UserMessage:
			wire = append(wire, wireMessage{Type: KindUser, Source: v.Source, Text: v.Content})
		case AssistantMessage:
			content := v.Content
			wire = append(wire, wireMessage{Type: KindAssistant, Source: v.Source, Content: &content})
		case FunctionResultMessage:
			wire = append(wire, wireMessage{Type: KindFunctionResult, Results: v.Results})
		default:
			return nil, fmt.Errorf("message list: unsupported message %T", m)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *MessageList) UnmarshalJSON(data []byte) error {
	var wire []wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(MessageList, 0, len(wire))
	for _, w := range wire {
		switch w.Type {
		case KindUser:
			out = append(out, UserMessage{Content: w.Text, Source: w.Source})
		case KindAssistant:
			var content AssistantContent
			if w.Content != nil {
				content = *w.Content
			}
			out = append(out, AssistantMessage{Content: content, Source: w.Source})
		case KindFunctionResult:
			out = append(out, FunctionResultMessage{Results: w.Results})
		default:
			return fmt.Errorf("message list: %w: unknown message type %q", ErrInvalidInput, w.Type)
		}
	}
	*l = out
	return nil
}
