// Package http provides the HTTP handlers of the instrumented demo host.
//
// Endpoints:
//   - Health: / and /health
//   - Users: /users, /users/:id, /auth/login
//   - External: /external/todos, /external/users/:id
//   - Tracing: /debug/tracing, /debug/traces, /debug/traces/:id,
//     /debug/spans/stream, /debug/flush
//
// Example Usage:
//
//	handlers := http.NewHandlers(store, todos, agent, logger)
//	router.GET("/health", handlers.Health)
//	router.GET("/users/:id", handlers.GetUser)
package http
