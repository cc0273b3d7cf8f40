package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"daoledger/integrations/indexer"
)

// AuditCSV builds a CSV export of indexed audit events and returns the
// serialised data alongside a SHA-256 checksum of the payload. Attributes are
// flattened into a single key=value column ordered by key.
func AuditCSV(rows []indexer.AuditEvent) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "type", "module", "subject", "attributes", "recorded_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		attrs, err := row.Decode()
		if err != nil {
			return nil, "", fmt.Errorf("event %d: %w", row.Sequence, err)
		}
		record := []string{
			fmt.Sprintf("%d", row.Sequence),
			row.Type,
			row.Module,
			row.Subject,
			flatten(attrs),
			recordedAt(row).Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func flatten(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+attrs[key])
	}
	return strings.Join(parts, ";")
}

func recordedAt(row indexer.AuditEvent) time.Time {
	if row.CreatedAt.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return row.CreatedAt.UTC()
}
