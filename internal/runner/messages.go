package runner

import "strings"

// RefusalMessage is posted instead of an answer when the policy gate blocks a prompt.
var RefusalMessage = strings.Join([]string{
	"I can’t provide direct answers to graded/homework/exam questions.",
	"But I *can* help you get unstuck:",
	"• Tell me what you’ve tried so far, and where you think you’re stuck.",
	"• I can point you to the relevant lecture material and give hints.",
	"If you need the official solution, please go to office hours or email your TA/professor.",
}, "\n")

// ConnectivityMessage is posted when the generation service cannot be reached.
const ConnectivityMessage = "I couldn’t reach the local Ollama server. Make sure Ollama is running on this machine (localhost:11434)."

// StreamErrorMessage is posted once when the answer stream fails midway.
const StreamErrorMessage = "An error occurred while generating the response. Please try again."
