// Package query validates audit queries and fills in their defaults.
//
// Storage backends call Validate before building a query so that sort
// columns and orders are restricted to a known set.
package query
