// Package subject keeps the explicitly configured "current subject": the
// animal an ingest is attributed to when the station does not say.
package subject
