// Package measurement defines the weight measurement record, its validation
// rules and the JSON payload broadcast to stream subscribers.
package measurement
