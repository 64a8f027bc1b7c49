// Package store defines the persistence gateway used by ingest and by the
// pull query endpoints, together with the report aggregation shared by its
// backends. Implementations live in kvstore (Pebble, the default) and
// pgstore (PostgreSQL).
package store
