// Package fake provides a scripted stage.Client for tests and local runs
// (vendors.<stage>.kind = "fake").
package fake
