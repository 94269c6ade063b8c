package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name      string
		msg       string
		expKind   commandKind
		expSource string
	}{
		{
			name:      "execute",
			msg:       "EXECUTE_PYTHON:print(1)",
			expKind:   commandExecute,
			expSource: "print(1)",
		},
		{
			name:      "execute keeps the source verbatim",
			msg:       "EXECUTE_PYTHON:\nimport time\n  time.sleep(1)\n",
			expKind:   commandExecute,
			expSource: "\nimport time\n  time.sleep(1)\n",
		},
		{
			name:    "execute with empty source",
			msg:     "EXECUTE_PYTHON:",
			expKind: commandExecute,
		},
		{
			name:    "stop",
			msg:     "STOP_EXECUTION",
			expKind: commandStop,
		},
		{
			name:    "stop must match exactly",
			msg:     "STOP_EXECUTION now",
			expKind: commandEcho,
		},
		{
			name:    "prefix is case sensitive",
			msg:     "execute_python:print(1)",
			expKind: commandEcho,
		},
		{
			name:    "anything else",
			msg:     "hello",
			expKind: commandEcho,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cmd := parseCommand(c.msg)
			assert.Equal(t, c.expKind, cmd.kind)
			assert.Equal(t, c.expSource, cmd.source)
			assert.Equal(t, c.msg, cmd.text)
		})
	}
}

func TestFrames(t *testing.T) {
	assert.Equal(t, "EXECUTE_PYTHON:x = 1", ExecuteCommand("x = 1"))
	assert.Equal(t, "STOP_EXECUTION", StopCommand())
	assert.Equal(t, "Received: hi", ReceivedFrame("hi"))

	frame := ErrorFrame(errors.New("boom"))
	assert.Equal(t, "Error: boom", frame)
	assert.True(t, IsErrorFrame(frame))
	assert.False(t, IsErrorFrame("1"))
}
