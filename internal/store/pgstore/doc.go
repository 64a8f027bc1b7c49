// Package pgstore implements store.Gateway on PostgreSQL through
// database/sql and the lib/pq driver. The schema is created on first use.
package pgstore
