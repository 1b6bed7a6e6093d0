// Package preflight provides readiness checks for the directories, binaries,
// and remote services clipweave depends on.
//
// These checks run in two contexts:
//   - The pipeline calls RunAll before segmenting a request. If a required
//     check fails, the run stops before any credential is spent.
//   - The CLI "clipweave doctor" command renders every check, including the
//     optional ones, so operators can see what a run would hit.
//
// Each optional check is gated by its config toggle; disabled features are
// reported but never fail.
package preflight
