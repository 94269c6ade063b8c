package session

import "strings"

const (
	executePrefix = "EXECUTE_PYTHON:"
	stopCommand   = "STOP_EXECUTION"
)

// Outbound frames.
const (
	FrameReady              = "WebSocket connection established"
	FramePreviousTerminated = "Previous process terminated."
	FrameForcedStop         = "Execution forcefully stopped."
	FrameNothingRunning     = "No process running."
	FrameCompleted          = "Process completed."

	receivedPrefix = "Received: "
	errorPrefix    = "Error: "
)

type commandKind int

const (
	commandEcho commandKind = iota
	commandExecute
	commandStop
)

type command struct {
	kind   commandKind
	source string
	text   string
}

func parseCommand(msg string) command {
	switch {
	case strings.HasPrefix(msg, executePrefix):
		return command{kind: commandExecute, source: msg[len(executePrefix):], text: msg}
	case msg == stopCommand:
		return command{kind: commandStop, text: msg}
	default:
		return command{kind: commandEcho, text: msg}
	}
}

// ExecuteCommand builds the frame asking the server to run source.
func ExecuteCommand(source string) string {
	return executePrefix + source
}

// StopCommand is the frame asking the server to stop the running execution.
func StopCommand() string {
	return stopCommand
}

// ReceivedFrame is the server's echo of an unrecognized message.
func ReceivedFrame(text string) string {
	return receivedPrefix + text
}

// ErrorFrame reports a failure to the client.
func ErrorFrame(err error) string {
	return errorPrefix + err.Error()
}

// IsErrorFrame reports whether frame is an error report.
func IsErrorFrame(frame string) bool {
	return strings.HasPrefix(frame, errorPrefix)
}
