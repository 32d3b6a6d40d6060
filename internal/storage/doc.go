// Package storage is the object store adapter: a filesystem-backed blob store
// keyed by slash-separated relative keys.
//
// Writes land in a temp file beside the target and are renamed into place, so
// readers never observe partial blobs. Every write is hashed and size-checked
// on the way in. The store refuses writes when free space drops below the
// configured floor.
package storage
