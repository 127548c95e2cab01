package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadJSON_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := record{Name: "alice", Count: 7}

	require.NoError(t, WriteJSON(path, in, false))

	var out record
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestReadJSON_MissingFileReturnsNotExistError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	var out record
	err := ReadJSON(path, &out)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSON_PrivateSetsOwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, WriteJSON(path, record{Name: "bob"}, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAppendJSONLineReadJSONLines_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")

	require.NoError(t, AppendJSONLine(path, record{Name: "a", Count: 1}))
	require.NoError(t, AppendJSONLine(path, record{Name: "b", Count: 2}))

	var got []record
	err := ReadJSONLines(path, func() any { return &record{} }, func(item any) error {
		got = append(got, *item.(*record))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestReadJSONLines_MissingFileIsEmptyNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.jsonl")
	var got []record
	err := ReadJSONLines(path, func() any { return &record{} }, func(item any) error {
		got = append(got, *item.(*record))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
