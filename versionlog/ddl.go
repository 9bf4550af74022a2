package versionlog

import (
	"fmt"

	"edutrail/data/db/dialect"
)

// DDL 返回版本表与序列计数表的建表语句
func DDL(d dialect.Dialect, table, seqTable string) []string {
	if table == "" {
		table = "versions"
	}
	if seqTable == "" {
		seqTable = "version_sequences"
	}
	ts := d.TimestampType()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id BIGINT PRIMARY KEY,
    item_type VARCHAR(64) NOT NULL,
    item_id BIGINT NOT NULL,
    sequence BIGINT NOT NULL,
    event VARCHAR(16) NOT NULL,
    whodunnit VARCHAR(255) NULL,
    object %s NULL,
    object_changes TEXT NULL,
    created_at %s NOT NULL,
    UNIQUE (item_type, item_id, sequence)
)`, table, d.BlobType(), ts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_event_created_at ON %s (event, created_at)`, table, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    item_type VARCHAR(64) NOT NULL,
    item_id BIGINT NOT NULL,
    next_sequence BIGINT NOT NULL,
    PRIMARY KEY (item_type, item_id)
)`, seqTable),
	}
}
