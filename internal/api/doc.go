// Package api exposes the REST surface of the rigging service: submitting
// and inspecting invocations, browsing the loaded action definitions with
// their attribute metadata, and the Prometheus metrics endpoint.
package api
