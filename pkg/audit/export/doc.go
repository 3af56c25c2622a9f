// Package export writes audit events as JSON or CSV.
//
// Both exporters offer Export for a slice and ExportStream for the channel
// returned by audit.Storage.QueryStream. The retention pruner uses the JSON
// exporter to archive events before deleting them.
package export
