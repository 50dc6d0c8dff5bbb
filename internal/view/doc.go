// Package view serves the active subscription over HTTP so a browser can
// poll it.
//
// Routes:
//
//	GET  /health               liveness and build version
//	GET  /state                the current View plus its raw value
//	PUT  /topic/lobby          switch to the lobby
//	PUT  /topic/sessions/:id   switch to one session
//	POST /refresh              re-hydrate the active topic
package view
