package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenteconomy/backend/internal/token"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	entries := []token.Transaction{
		{ID: "mint_00000001", Kind: token.TxMint, To: "alice",
			Amount: token.FromFloat(100), Timestamp: "2026-01-01T00:00:00Z"},
		{ID: "escrow_00000002", Kind: token.TxEscrow, From: "alice",
			Amount: token.FromFloat(10.50), TaskID: "task-1",
			Memo: "task:task-1", Timestamp: "2026-01-01T00:01:00Z", PrevHash: "abc"},
	}
	for i := range entries {
		require.NoError(t, s.Append(&entries[i]))
	}
	require.NoError(t, s.Close())

	// A fresh store over the same directory reads everything back.
	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestFileStoreEmpty(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStoreCorruptLine(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	tx := token.Transaction{ID: "mint_00000001", Kind: token.TxMint,
		To: "alice", Amount: token.FromFloat(1)}
	require.NoError(t, s.Append(&tx))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(filepath.Join(dir, ledgerFileName), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.LoadAll()
	assert.ErrorContains(t, err, "corrupt ledger line 2")
}
