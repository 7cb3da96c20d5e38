// Package dataset holds the helpers applied to uploaded training datasets:
// gzip compression for storage and the memory estimate used for node
// reservations.
package dataset
