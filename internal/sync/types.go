package sync

import (
	"encoding/json"
	"time"
)

// ChangeLogEntry represents a single local mutation awaiting (or past)
// delivery to the remote backend.
type ChangeLogEntry struct {
	ID        int64           `json:"id"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Operation string          `json:"operation"` // INSERT, UPDATE or DELETE
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	SourceID  string          `json:"source_id"`
	CreatedAt time.Time       `json:"created_at"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
}

// Operation constants
const (
	OperationInsert = "INSERT"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
)

// Status constants
const (
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusFailed  = "failed"
)

// SyncStats summarizes the change log.
type SyncStats struct {
	Pending    int64      `json:"pending"`
	Synced     int64      `json:"synced"`
	Failed     int64      `json:"failed"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// SyncMeta keys
const (
	MetaLastCloudSync = "last_cloud_sync"
	MetaDeviceID      = "device_id"
)

// HydratedKey returns the marker key recording that table has been fully
// downloaded for tenant.
func HydratedKey(table, tenant string) string {
	return "hydrated_" + table + "_" + tenant
}

// LastConfigSyncKey returns the key holding the last config refresh time of
// tenant.
func LastConfigSyncKey(tenant string) string {
	return "last_config_sync_" + tenant
}

// DailySummaryKey returns the marker key for the daily summary of day,
// formatted as yyyy-mm-dd.
func DailySummaryKey(day time.Time) string {
	return "daily_summary_" + day.Format(time.DateOnly)
}
