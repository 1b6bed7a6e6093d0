// Package artifact owns the on-disk layout of a run: downloaded segment clips
// under <work_dir>/<run_id>/segments, the manifest next to them, and the
// housekeeping that removes run directories once they are no longer needed.
package artifact
