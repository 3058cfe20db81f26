// Package events fans workflow transitions out to in-process listeners such
// as notifications.
package events
