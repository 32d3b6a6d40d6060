// Package httpapi exposes the service over HTTP using a chi router.
//
// Routes:
//
//	POST   /auth/register            create an account, returns a bearer token
//	POST   /auth/login               JSON or form credentials, returns a bearer token
//	GET    /auth/me                  account, plan and remaining quota
//	POST   /jobs/upload              multipart files[] plus processing options
//	GET    /jobs                     caller's jobs, newest first
//	GET    /jobs/{id}                one job with progress
//	GET    /jobs/{id}/transcript     export as txt, csv, srt, vtt, docx or pdf
//	DELETE /jobs/{id}                delete and cancel
//	GET    /healthz                  liveness
//	GET    /status                   daemon snapshot
//
// Errors carry a services marker that decides the status code; the body is
// always an api.ErrorResponse.
package httpapi
