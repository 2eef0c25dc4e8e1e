package multiagent

import (
	"fmt"
	"strings"

	"supportmesh/internal/domain"
)

// Fixed customer-facing texts.
const (
	GreetingText   = "Hello! I'm your AI support assistant. How can I help you today?"
	ApologyText    = "I apologize, but I encountered an error processing your request. Please try again."
	NoAgentsText   = "I understand you'd like to speak with a human representative. Unfortunately, no human agents are currently available. I'm here to help you with your request - please let me know what you need assistance with and I'll do my best to resolve it."
	ConnectingText = "I'm connecting you to a human support representative. They will assist you shortly..."
	QueuedText     = "All of our human support representatives are currently busy. You're in the queue and will be connected as soon as one is free."
	HandBackText   = "This conversation has been transferred from a human agent. Please continue assisting the customer."

	defaultInitialMessage = "Customer needs assistance"
	processingText        = "Processing your request..."
	functionDoneText      = "Function execution completed"
)

func delegatedText(target string) string {
	return fmt.Sprintf("Transferred to %s. Adopt persona immediately.", target)
}

func operatorNoteText(note string) string {
	return "Human agent note: " + note
}

func handedBackNotice(target string) string {
	return fmt.Sprintf("I'm transferring you to our %s team. They will continue assisting you.", domain.TeamName(target))
}

// RenderContent turns assistant content into customer-safe text. Call
// batches become placeholders naming the tools.
func RenderContent(c domain.AssistantContent) string {
	calls, ok := c.Calls()
	if !ok {
		text, _ := c.Text()
		return text
	}
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		if call.Name != "" {
			names = append(names, "Processing: "+call.Name)
		}
	}
	if len(names) == 0 {
		return processingText
	}
	return strings.Join(names, "; ")
}

func renderResults(results []domain.FunctionResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, "Function result: "+r.Content)
	}
	if len(parts) == 0 {
		return functionDoneText
	}
	return strings.Join(parts, "; ")
}
