// Package host abstracts the embedding 3D application. It exposes the small
// command surface the engine needs, such as resolving node selectors and
// applying rigging operations, so executors never talk to a concrete host
// process directly.
package host
