// Package registry tracks the tool backends connected to the gateway.
//
// Each backend owns a set of tools; tool names are globally unique across
// backends so a call can be routed by tool name alone. The registry is the
// single source of truth for the tool catalogue: whenever a backend comes or
// goes it pushes a wholesale rebuild into the search index and keeps the
// health prober's probed set in step.
package registry
