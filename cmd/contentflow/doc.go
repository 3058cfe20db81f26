// Package main hosts the contentflow operator CLI.
//
// Commands open the workflow database and wire the engine, scheduler and
// recovery sweeper in-process, so they work whether or not the daemon is
// running; SQLite WAL mode lets both share the file. `serve` runs the daemon
// itself. Output is a go-pretty table by default and JSON with --json.
package main
