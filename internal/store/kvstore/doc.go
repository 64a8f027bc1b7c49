// Package kvstore implements store.Gateway on the embedded Pebble engine.
// Every measurement is written under a colony-wide time key and a
// per-subject time key in one batch, so newest-first reads are reverse
// prefix scans.
package kvstore
