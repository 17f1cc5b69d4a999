package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MaxExportEntries caps a single export
const MaxExportEntries = 10000

// Export renders every entry matching filter (up to MaxExportEntries) in
// format. Page and Limit on filter are ignored. The export is itself
// recorded as an audit entry.
func (s *Service) Export(ctx context.Context, actorUserID string, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	data, err := encode(entries, format)
	if err != nil {
		return nil, err
	}

	s.Record(ctx, &Entry{
		OrganizationID: filter.OrganizationID,
		UserID:         actorUserID,
		Action:         ActionExport,
		Resource:       "audit_logs",
		Metadata: map[string]interface{}{
			"format":  string(format),
			"entries": len(entries),
		},
	})
	return data, nil
}

func (s *Service) collect(ctx context.Context, filter Filter) ([]*Entry, error) {
	filter.Limit = MaxPageSize
	var entries []*Entry
	for page := 1; len(entries) < MaxExportEntries; page++ {
		filter.Page = page
		result, err := s.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		entries = append(entries, result.Entries...)
		if len(result.Entries) < filter.Limit || int64(len(entries)) >= result.Total {
			break
		}
	}
	if len(entries) > MaxExportEntries {
		entries = entries[:MaxExportEntries]
	}
	return entries, nil
}

func encode(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return exportJSON(entries)
	}
}

// exportJSON exports entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, e := range entries {
		if err := encoder.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID",
	"CreatedAt",
	"OrganizationID",
	"UserID",
	"Action",
	"Resource",
	"ResourceID",
	"Status",
	"RiskLevel",
	"IsSecurityEvent",
	"EventType",
	"IPAddress",
	"UserAgent",
	"RequestID",
	"Metadata",
}

// exportCSV exports entries as CSV with metadata as a JSON column
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		metadata := ""
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		row := []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			e.OrganizationID,
			e.UserID,
			e.Action,
			e.Resource,
			e.ResourceID,
			string(e.Status),
			string(e.RiskLevel),
			strconv.FormatBool(e.IsSecurityEvent),
			e.EventType,
			e.IPAddress,
			e.UserAgent,
			e.RequestID,
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// contentType returns the HTTP content type and file extension for format
func contentType(format ExportFormat) (string, string) {
	switch format {
	case ExportFormatCSV:
		return "text/csv", "csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson", "ndjson"
	default:
		return "application/json", "json"
	}
}
