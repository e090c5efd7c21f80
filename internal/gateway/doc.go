// Package gateway assembles the decision layer behind the HTTP API.
//
// The gateway owns no policy of its own: it routes calls through the
// dispatcher, answers discovery queries from the search index, reports the
// combined health-tracker and circuit-breaker view of each backend, and
// exposes passport delegation. It also runs the probe loop's lifecycle
// alongside the HTTP server.
package gateway
