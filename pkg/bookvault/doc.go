// Package bookvault provides a personal-library service for uploading book
// files (PDF, EPUB, plain text) with pluggable repository and blob storage
// backends.
//
// It exposes a single Service interface that orchestrates upload validation,
// quota accounting, metadata extraction and cover derivative generation.
// Covers for small files are produced inline with the upload; larger files
// and failed inline attempts are handed to a concurrency-bounded job queue
// (see subpackage jobqueue). Rendering itself is delegated to an external
// helper process wrapped by subpackage covergen, and signed access URLs are
// served through the bounded TTL cache in subpackage urlcache.
//
// Implementations of repositories (memory, Postgres) and blob stores
// (memory, filesystem, S3) are provided under subpackages.
package bookvault
