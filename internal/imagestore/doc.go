// Package imagestore persists uploaded measurement photos on the local
// filesystem and hands back the URL path they are served under.
package imagestore
