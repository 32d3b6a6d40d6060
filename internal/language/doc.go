// Package language validates and names the source and target languages a job
// may request. A small table covers the codes and English words the upload
// form offers; anything else is resolved through golang.org/x/text.
package language
