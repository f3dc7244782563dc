/*
Package http exposes the recorder over REST.

Routes:

	GET    /          service banner
	GET    /health    run status plus a metrics snapshot
	GET    /status    {running, has_result, last_run_id, settle_window_ms}
	POST   /run       {"source": "..."} or no body for the saved text
	POST   /reset     clear the last result
	GET    /result    last result, 404 when there is none
	GET    /source    saved editor text (the sample program until saved)
	PUT    /source    {"source": "..."}
	DELETE /source    restore the sample program

A run that is refused because another is in flight gets 409. A compile or
runtime error is not an HTTP error: the run returns 200 with its failure and
the partial traces.
*/
package http
