/*
Package ws exposes the recorder over a WebSocket at /stream.

Client frames:

	{"type": "run", "source": "..."}   source omitted runs the saved text
	{"type": "reset"}
	{"type": "status"}
	{"type": "ping"}

Server frames carry the same type (result, reset, status, pong) plus
run_started, sent before a run begins, and error with an HTTP-style code
(409 while another run is in flight).
*/
package ws
