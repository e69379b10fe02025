// Package pagination drives a resumable, cursor-based import of the
// bookmarks timeline.
//
// An Importer runs the fetch → extract → store → advance-cursor loop for one
// run at a time. Pages are fetched strictly in cursor order, never in
// parallel. Rate limits and transient fetch failures are retried with the
// same cursor after an exponential backoff, so no page is lost and no page
// is counted twice. Storage failures end the run.
//
// Example usage:
//
//	im := pagination.New(fetcher, creds, store, notifier, pagination.DefaultConfig())
//	result, err := im.Start(ctx)
//
// Run lifecycle:
//   - Start clears the persisted collection, then runs the loop
//   - incomplete credentials end the run silently before any fetch
//   - a cursor equal to the previous one ends the run (loop prevention)
//   - a done event carries the final total
package pagination
