// Package syncer mirrors tracker ticket status onto work-management goals.
//
// A run moves through four stages, each a separate type:
//
//	Resolver  → ScopeConfig expanded into ordered, unique goal IDs
//	Extractor → ticket keys found on the attachments of supporting tasks
//	Detector  → live ticket compared with the stored SyncState
//	Composer  → status update text built and, outside dry-run, posted
//
// Orchestrator wires them together and processes goals, tasks and tickets
// one at a time. Remote systems are reached only through the port
// interfaces in ports.go, so the asana, jira and state packages plug in
// without this package importing them.
//
// # Failure Handling
//
// Per-item failures (TicketFetchError, PostError, StateError) are recorded
// in the RunSummary and the run continues. A ScopeError or AuthError is
// fatal: IsFatal reports it and Run returns the partial summary with it.
//
// State is written only after a successful post. A failed write keeps the
// item as posted and increments RunSummary.StateErrors; the next run will
// post that ticket again.
//
// # Observability
//
// Run, goal and item spans are named goalsync.run, goalsync.goal and
// goalsync.item. The goalsync.items_total counter is tagged with outcome
// and dry_run.
package syncer
