// Package audit records the append-only audit trail and security events.
//
// # Entries
//
// Every mutating or security-sensitive operation writes one Entry. A
// security event is an Entry with IsSecurityEvent set, an EventType and an
// explicit RiskLevel. Entries are never updated or deleted; a correction is
// a new audit.compensation entry that references the original:
//
//	entry, err := svc.Compensate(ctx, tc, originalID, "recorded wrong role", nil)
//
// # Writing
//
// Log and LogSecurityEvent validate and return errors. Record and
// RecordSecurityEvent apply the non-fatal policy used by operations whose
// primary effect has already happened: failures are logged at error level
// and counted in tenantguard_audit_write_failures_total. Every write runs
// under its own short timeout detached from request cancellation.
//
// Writes go to the Store unless WithSink supplies a MultiLogger that also
// copies entries to a FileSink for log shipping.
//
// # Reading
//
// Query is always scoped to one organization and validates pagination
// (page >= 1, 1 <= limit <= 100) instead of clamping it. Results are ordered
// by created_at descending with the id as tie-break. QueryCrossTenant is the
// only path that reads other tenants: it is limited to system admins and
// writes an audit.cross_tenant_query entry before running the query.
//
// # Export and archive
//
// Export renders a query as JSON, NDJSON or CSV. An Archiver uploads NDJSON
// exports to S3-compatible storage under org/<id>/<timestamp>.ndjson.
//
// # Monitoring
//
// Monitor runs on a cron schedule, publishes recent security event counts
// per risk level and warns when high plus critical events exceed a threshold.
package audit
