package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/internal/ids"
)

// Log appends an audit entry to the audit_log table. The store acts as a
// persistent audit.Logger sink; combine with audit.Multi for fan-out.
func (s *Store) Log(ctx context.Context, entry audit.Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = audit.RequestIDFrom(ctx)
	}

	detail := []byte("{}")
	if len(entry.Detail) > 0 {
		data, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
		detail = data
	}

	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, at, event, username, request_id, detail)
		values ($1, $2, $3, nullif($4, ''), nullif($5, ''), $6)
	`, ids.New(), entry.At, entry.Event, entry.User, entry.RequestID, detail)
	return err
}
