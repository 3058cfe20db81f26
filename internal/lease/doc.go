// Package lease defines the Locker used to keep recovery sweeps exclusive
// and provides a Redis-backed implementation. The workflow store is the
// default Locker.
package lease
