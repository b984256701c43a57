// Package config loads the JSON configuration consumed by the rigging
// daemon at startup: HTTP listen address, invocation store and queue
// backends, the host session driver, the action definition library and
// logging and alerting settings.
package config
