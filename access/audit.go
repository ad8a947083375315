package access

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/melkeydev/dbplus/events"
	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/permissions"
	"github.com/melkeydev/dbplus/types"
)

// AuditTable receives one row per change event when the audit trail is on.
const AuditTable = "audit_trail"

// auditPolicy may only write the audit table.
var auditPolicy = permissions.Policy{
	Tables: map[string]permissions.TablePolicy{
		AuditTable: {Operations: permissions.NewSet(permissions.Write)},
	},
}

// auditTrail records every event outside skip in AuditTable. The audit table
// is always skipped so its own inserts do not recurse.
func (a *Access) auditTrail(skip []string) events.Handler {
	skipped := map[string]bool{AuditTable: true}
	for _, t := range skip {
		skipped[names.Stored(t)] = true
	}

	return func(ctx context.Context, e events.Event) error {
		if skipped[names.Stored(e.Table)] {
			return nil
		}

		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to serialize %s event: %w", e.Table, err)
		}

		rec := types.Record{
			types.F("table_name", e.Table),
			types.F("operation", e.Type.String()),
			types.F("data", string(data)),
		}
		_, o := a.TryWrite(ctx, auditPolicy, AuditTable, rec)
		return o.Err
	}
}
