// Package export renders completed transcripts as txt, csv, srt, vtt, docx
// or pdf documents.
//
// Rendering is deterministic: the same segments always produce the same
// bytes, including the zip and PDF containers. Renderer caches each
// (job, format) rendering in blob storage and records it in the artifacts
// table; a missing blob is simply rendered again. Concurrent requests for the
// same pair are serialized so a format is rendered once.
package export
