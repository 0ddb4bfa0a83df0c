package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAliasRecordsMixedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	lines := `{"ip":"10.0.0.1","port":25565,"last_pinged":"2026-08-01T00:00:00Z","description_json":"{}","description_plaintext":"A Minecraft Server","software":"vanilla","fingerprint_is_incorrect_field_order":false,"fingerprint_is_empty_sample":false,"fingerprint_is_empty_favicon":false}
{"ip":"203.0.113.9","allowed_port":25565,"first_seen":"2026-08-01T00:00:00Z","last_checked":"2026-08-02T00:00:00Z"}
not json at all
{"ip":"203.0.113.10","allowed_port":1024,"first_seen":"2026-08-03T00:00:00Z","last_checked":"2026-08-03T00:00:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))

	records, err := loadAliasRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "203.0.113.9", records[0].IP)
	assert.Equal(t, uint16(25565), records[0].AllowedPort)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), records[0].FirstSeen)
	assert.Equal(t, "203.0.113.10", records[1].IP)
}

func TestLoadAliasRecordsMissingFile(t *testing.T) {
	records, err := loadAliasRecords(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, records)
}
