// Package seed loads the identifiers harvested by earlier runs into the
// dedup store before any worker starts.
package seed
