package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"daoledger/integrations/indexer"
)

type auditLine struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Module     string            `json:"module"`
	Subject    string            `json:"subject,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt string            `json:"recorded_at"`
}

// AuditJSONL builds a JSON Lines export of indexed audit events and returns the
// serialised payload alongside a checksum.
func AuditJSONL(rows []indexer.AuditEvent) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		attrs, err := row.Decode()
		if err != nil {
			return nil, "", fmt.Errorf("event %d: %w", row.Sequence, err)
		}
		line := auditLine{
			Sequence:   row.Sequence,
			Type:       row.Type,
			Module:     row.Module,
			Subject:    row.Subject,
			Attributes: attrs,
			RecordedAt: recordedAt(row).Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
