// Package preflight provides readiness checks for the filesystem paths and
// secrets contentflow depends on.
//
// The daemon runs RunAll at startup: failed directory checks abort the start,
// other failures are logged as warnings. `contentflow config validate` prints
// every result.
package preflight
