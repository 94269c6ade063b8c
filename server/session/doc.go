/*
Package session serves the interactive execution protocol over a WebSocket connection.

Each connection owns one session, and a session runs at most one execution at a time. Executions are scoped to the connection: if the connection dies for any reason, the running execution is terminated.

Messages are plain text frames in both directions, with no length prefixing or JSON. The client sends one of:

	EXECUTE_PYTHON:<source>   terminate any running execution, then run <source>
	STOP_EXECUTION            terminate the running execution, if any
	<anything else>           echoed back as "Received: <text>"

The server sends a ready frame once the connection is accepted, then notices, raw output lines and a completion marker after every execution. Frames carry no correlation ids: the single active execution per session is the only correlation.

Every execution ends with exactly one "Process completed." frame, including executions that are stopped or superseded. In those cases the completion marker comes first, followed by "Execution forcefully stopped." or "Previous process terminated.", and nothing from the terminated execution is sent after the notice:

	-> EXECUTE_PYTHON:...      <- output lines...
	-> STOP_EXECUTION          <- Process completed.
	                           <- Execution forcefully stopped.

Every frame write is bounded by a timeout. A client that stops reading has its connection closed and its execution terminated.

Submitted source runs with the full privileges of the server process. There is no sandbox, quota or validation.
*/
package session
