package main

import (
	"io"
	"strings"
)

// CommandHandler answers one command of a session.
type CommandHandler func(s *session, w io.Writer, args []string)

// Router maps upper-case command names to handlers.
type Router struct {
	handlers map[string]CommandHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]CommandHandler)}
}

// Handle registers handler under name, case-insensitively.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch runs the handler named by parts[0] with the remaining parts.
func (r *Router) Dispatch(app *application, s *session, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}
	app.metrics.TotalCommands.Add(1)

	name := strings.ToUpper(parts[0])
	handler, ok := r.handlers[name]
	if !ok {
		app.unknownCommandResponse(w, name)
		return
	}
	handler(s, w, parts[1:])
}

// commands registers every command the server answers.
func (app *application) commands() *Router {
	router := NewRouter()

	router.Handle("PING", app.handlePing)
	router.Handle("INFO", app.handleInfo)

	// Session
	router.Handle("THRESHOLD", app.handleThreshold)
	router.Handle("QUERY", app.handleQuery)
	router.Handle("HITS", app.handleHits)
	router.Handle("SAVE", app.handleSave)
	router.Handle("RESET", app.handleReset)

	return router
}
