// Package rigging contains the built-in action executors. Each executor
// consumes a validated parameter set and drives the host session to mutate
// the scene, returning the nodes it touched.
package rigging
