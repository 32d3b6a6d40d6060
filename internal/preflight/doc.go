// Package preflight provides readiness checks for the filesystem paths,
// binaries and inference engine Scribe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure. Only
//     directory failures and a required but missing ffprobe stop startup;
//     an unreachable engine is reported and jobs retry against it.
//   - The CLI "scribe status" command uses the individual check functions
//     (CheckEngineFromConfig, CheckDirectoryAccess) to display service health.
package preflight
