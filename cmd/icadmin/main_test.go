package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "icstore/internal/jwt_token"
	"icstore/internal/merge/batch"
)

type cliEnv struct {
	dsn       string
	reportDir string
	docs      string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	t.Setenv("ICSTORE_KAFKA_BROKERS", "")
	t.Setenv("ICSTORE_REDIS_URL", "")
	t.Setenv("ICSTORE_VOCABULARY_FILE", "")
	dir := t.TempDir()
	return cliEnv{
		dsn:       filepath.Join(dir, "icstore.db"),
		reportDir: filepath.Join(dir, "reports"),
		docs:      dir,
	}
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--db-driver", "sqlite", "--db-dsn", e.dsn}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e cliEnv) writeDoc(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.docs, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMigrate(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date (sqlite)")
}

func TestImportShowAndUnlock(t *testing.T) {
	env := newCLIEnv(t)
	doc := env.writeDoc(t, "twain.json", `{"entity_type":"person","ark_id":"ark:/99166/w6twain","entities":[{"kind":"name_entry","entity":{"operation":"insert","original":"Twain, Mark"}}]}`)

	out, err := env.run(t, "import", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "created ic_id=1 version=1")

	out, err = env.run(t, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Twain, Mark")
	assert.Contains(t, out, "locked_editing")

	out, err = env.run(t, "unlock", "1", "--note", "stale lock")
	require.NoError(t, err)
	assert.Contains(t, out, "unlocked ic_id=1")

	out, err = env.run(t, "show", "1", "--version", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "locked_editing")

	_, err = env.run(t, "show", "abc")
	assert.Error(t, err)

	_, err = env.run(t, "show", "42")
	assert.Error(t, err)
}

func TestDedupeWritesReport(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.MkdirAll(env.reportDir, 0o755))
	first := env.writeDoc(t, "a.json", `{"entity_type":"person","ark_id":"ark:/99166/w6a","entities":[{"kind":"name_entry","entity":{"operation":"insert","original":"Twain, Mark"}}]}`)
	second := env.writeDoc(t, "b.json", `{"entity_type":"person","ark_id":"ark:/99166/w6b","entities":[{"kind":"name_entry","entity":{"operation":"insert","original":"TWAIN, MARK"}}]}`)

	_, err := env.run(t, "import", first)
	require.NoError(t, err)
	_, err = env.run(t, "import", second)
	require.NoError(t, err)

	out, err := env.run(t, "dedupe", "--report-dir", env.reportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "groups=1 merged=1 failed=0")

	matches, err := filepath.Glob(filepath.Join(env.reportDir, "dedupe-*.yaml"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	report, err := batch.ReadReport(f)
	require.NoError(t, err)
	require.Len(t, report.Merged, 1)
	assert.Equal(t, int64(1), report.Merged[0].SurvivorID)
	assert.Equal(t, []int64{1, 2}, report.Merged[0].ICIDs)

	out, err = env.run(t, "dedupe", "--report-dir", env.reportDir, "--retry", matches[0])
	require.NoError(t, err)
	assert.Contains(t, out, "groups=0 merged=0 failed=0")
}

func TestReconcileWithNoLegacyRows(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "reconcile-maybe-same")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated: 0")
}

func TestMissingConfigFileIsAnError(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "--config", filepath.Join(env.docs, "missing.yaml"), "migrate")
	assert.Error(t, err)
}

func TestIssueToken(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("ICSTORE_JWT_SIGNING_KEY", "cli-test-key")

	out, err := env.run(t, "issue-token", "ada", "--admin", "--ttl", "5m")
	require.NoError(t, err)

	claims, err := jwttoken.New("cli-test-key").Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ada", claims.Curator)
	assert.True(t, claims.Admin)
}
