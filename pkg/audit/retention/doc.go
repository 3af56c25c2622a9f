// Package retention prunes audit events by age and by count.
//
// Pruner.Prune runs both phases once. Pruner.Start schedules it with
// robfig/cron using the configured PruneSchedule; "rulegate audit prune"
// calls Prune directly. With ArchiveBeforeDelete set, events are written to
// a JSON archive before they are deleted.
package retention
