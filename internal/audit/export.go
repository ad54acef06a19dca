package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export renders a read-only compliance view of the chain in the
// requested format. It decrypts on read and never mutates the store.
func (c *Chain) Export(ctx context.Context, filter Filter, format string) ([]byte, error) {
	views, err := c.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(views, "", "  ")
	case FormatCSV:
		return exportCSV(views)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func exportCSV(views []EntryView) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "event_type", "risk_level", "actor", "ip_address", "user_agent", "details", "created_at", "hash", "previous_hash"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, v := range views {
		actor := ""
		if v.Actor != nil {
			actor = *v.Actor
		}
		userAgent := ""
		if v.UserAgent != nil {
			userAgent = *v.UserAgent
		}

		details, err := json.Marshal(v.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode details for entry %s: %w", v.ID, err)
		}

		row := []string{
			v.ID.String(),
			v.EventType,
			v.RiskLevel,
			actor,
			v.IPAddress,
			userAgent,
			string(details),
			v.CreatedAt.UTC().Format(time.RFC3339Nano),
			v.Hash,
			v.PreviousHash,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}

	return buf.Bytes(), nil
}
