package faucetstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	Set("wallet", Error, "RPC unreachable")
	entry := Get("wallet")
	assert.Equal(t, Error, entry.Level)
	assert.Equal(t, "RPC unreachable", entry.Message)

	Set("wallet", Info, "recovered")
	entry = Get("wallet")
	assert.Equal(t, Info, entry.Level)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	Set("refill", Warning, "cooling down")
	snap := Snapshot()
	entry, ok := snap["refill"]
	assert.True(t, ok)
	assert.Equal(t, Warning, entry.Level)

	Set("refill", Info, "ok")
	assert.Equal(t, Warning, snap["refill"].Level, "snapshot must not reflect later writes")
}
