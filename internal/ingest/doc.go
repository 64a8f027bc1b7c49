// Package ingest turns a sensor record into a durable measurement and a
// broadcast event. Every transport that accepts measurements (HTTP, MQTT)
// goes through Service.Ingest.
package ingest
