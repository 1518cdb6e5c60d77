package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lexstore/internal/lexicon"
)

// runCLI executes the root command against a project in dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "lexstore.yaml"), "-o", "json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func newProject(t *testing.T, engine string) string {
	t.Helper()
	dir := t.TempDir()
	body := "backend: " + engine + "\ndb_path: lexicon.db\ndata_dir: data\nsource: cli-test\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lexstore.yaml"), []byte(body), 0o600))
	return dir
}

func decodeResult(t *testing.T, out string) lexicon.Result {
	t.Helper()
	var res lexicon.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func decodeRows(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	return rows
}

func TestCLI_AnimalWorkflow(t *testing.T) {
	for _, engine := range []string{"relational", "file"} {
		t.Run(engine, func(t *testing.T) {
			dir := newProject(t, engine)

			_, err := runCLI(t, dir, "init")
			require.NoError(t, err)

			out, err := runCLI(t, dir, "guid", "next", "animal")
			require.NoError(t, err)
			assert.Equal(t, "N02_001", decodeRows(t, out)[0]["guid"])

			out, err = runCLI(t, dir, "lemma", "add", "cat", "--category", "noun", "--translation", "de=Katze")
			require.NoError(t, err)
			created := decodeResult(t, out)
			assert.True(t, created.Success)
			assert.Equal(t, "N00_001", created.GUID)

			out, err = runCLI(t, dir, "lemma", "reclassify", "N00_001", "--subcategory", "animal")
			require.NoError(t, err)
			assert.Equal(t, "N02_001", decodeResult(t, out).GUID)

			out, err = runCLI(t, dir, "tombstone", "chain", "N00_001")
			require.NoError(t, err)
			chain := decodeRows(t, out)
			require.Len(t, chain, 1)
			assert.Equal(t, "subtype_change", chain[0]["reason"])
			assert.Equal(t, "cat", chain[0]["original_text"])
			assert.Equal(t, "cli-test", chain[0]["changed_by"])

			out, err = runCLI(t, dir, "tombstone", "lemma", strconv.FormatInt(created.ID, 10))
			require.NoError(t, err)
			retired := decodeRows(t, out)
			require.Len(t, retired, 1)
			assert.Equal(t, "N00_001", retired[0]["guid"])

			out, err = runCLI(t, dir, "tombstone", "resolve", "N00_001")
			require.NoError(t, err)
			assert.Equal(t, "N02_001", decodeResult(t, out).GUID)

			out, err = runCLI(t, dir, "lemma", "list", "--prefix", "N02")
			require.NoError(t, err)
			lemmas := decodeRows(t, out)
			require.Len(t, lemmas, 1)
			assert.Equal(t, "cat", lemmas[0]["text"])

			out, err = runCLI(t, dir, "log", "list", "--source", "cli-test")
			require.NoError(t, err)
			assert.Len(t, decodeRows(t, out), 2)
		})
	}
}

func TestCLI_FailedOperationExitsWithError(t *testing.T) {
	dir := newProject(t, "file")

	out, err := runCLI(t, dir, "lemma", "add", "cat", "--category", "gibberish")
	require.Error(t, err)
	res := decodeResult(t, out)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown category")
}

func TestCLI_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lexstore.yaml"), []byte("output: xml\n"), 0o600))

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "lexstore.yaml"), "guid", "prefixes"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestCLI_Version(t *testing.T) {
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "lexstore v"+Version)
}
