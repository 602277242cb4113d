// Package query prepares client queries for the engine: it resolves the
// declared parameter types against a closed registry (TypeTag), converts the
// values, and substitutes the $Text$ placeholder.
package query
