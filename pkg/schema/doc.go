// Package schema implements the declarative action schema system: typed,
// constrained attribute definitions, the extensible attribute type registry,
// definition loading and validation, and construction of fully validated
// parameter sets for action invocations.
package schema
