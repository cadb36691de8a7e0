package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/storage"
)

func TestKeyFromURL(t *testing.T) {
	const base = "https://storage.googleapis.com/helpdesk/"
	tests := []struct {
		name string
		url  string
		key  string
		ok   bool
	}{
		{"plain", base + "tickets/t-1/a.pdf", "tickets/t-1/a.pdf", true},
		{"query stripped", base + "tickets/t-1/a.pdf?v=2", "tickets/t-1/a.pdf", true},
		{"double slash", base + "/tickets/a.pdf", "tickets/a.pdf", true},
		{"foreign host", "https://cdn.example.org/helpdesk/tickets/a.pdf", "", false},
		{"other bucket", "https://storage.googleapis.com/other/tickets/a.pdf", "", false},
		{"base only", base, "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := storage.KeyFromURL(base, tt.url)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.key, key)
		})
	}
}

func TestKeyFromURLEmptyBase(t *testing.T) {
	_, ok := storage.KeyFromURL("", "https://anything/x")
	require.False(t, ok)
}
