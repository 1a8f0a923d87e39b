// Package server hosts the Fiber status service that runs next to a cache:
// request-id and recover middleware, a JSON 404 fallback, and the constructor
// that the routes package attaches /-/ diagnostics endpoints to. The cache is
// consumed through the narrow StatusSource interface so tests can inject a
// fake and the package never owns cache lifecycle.
package server
