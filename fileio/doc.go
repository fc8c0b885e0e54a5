// Package fileio reads and writes table metadata objects.
//
// Metadata files are written once and never modified. The IO routes each
// location by scheme:
//
//	s3://bucket/key          Amazon S3 or an S3-compatible endpoint
//	file:///path, /path      local disk
//	mem://path               in-process memory, for tests and ephemeral catalogs
//	http(s)://...            read-only, for registering published metadata
package fileio
