package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapframe/internal/config"
	"github.com/leapstack-labs/leapframe/internal/server"
	"github.com/leapstack-labs/leapframe/internal/testutil"
	"github.com/leapstack-labs/leapframe/pkg/client"
	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
	"github.com/leapstack-labs/leapframe/pkg/wire"
)

// execute runs cmd with cfg in its context and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	ctx := testutil.Context(t, 20*time.Second)
	err := cmd.ExecuteContext(config.WithContext(ctx, cfg, testutil.NewTestLogger(t)))
	return out.String(), err
}

func rollupQuery(t *testing.T, dir string) string {
	t.Helper()
	data, err := json.Marshal(query.NewBuilder("").Rollup(map[string]any{
		"sx": "d => op.sum(d.x)",
		"sy": "d => op.sum(d.y)",
	}))
	require.NoError(t, err)
	return testutil.WriteFile(t, dir, "q.json", string(data))
}

func TestASTCommand(t *testing.T) {
	dir := t.TempDir()
	path := rollupQuery(t, dir)

	out, err := execute(t, NewASTCommand(), config.Default(), path)
	require.NoError(t, err)

	var ast map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ast))
	assert.Equal(t, "Query", ast["type"])
	assert.Contains(t, out, `"rollup"`)
}

func TestASTCommandErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, NewASTCommand(), config.Default(), filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read query")

	bad := testutil.WriteFile(t, dir, "bad.json", `{"verbs":[{"verb":"nope"}]}`)
	_, err = execute(t, NewASTCommand(), config.Default(), bad)
	assert.Error(t, err)
}

func TestQueryCommandOverWebSocket(t *testing.T) {
	for _, format := range []string{"json", "arrow"} {
		t.Run(format, func(t *testing.T) {
			srv := server.New(server.Config{Logger: testutil.NewTestLogger(t)})
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()

			dir := t.TempDir()
			queryPath := rollupQuery(t, dir)
			dataPath := testutil.WriteFile(t, dir, "data.json", `{"x":[1,2,3],"y":[4,5,6]}`)

			cfg := config.Default()
			cfg.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
			cfg.Format = format
			cfg.Output = OutputJSON

			out, err := execute(t, NewQueryCommand(), cfg, queryPath, "--table", "test", "--data", dataPath)
			require.NoError(t, err)

			got, err := table.FromJSON([]byte(out))
			require.NoError(t, err)
			sx, _ := got.Column("sx")
			sy, _ := got.Column("sy")
			assert.Equal(t, []any{6.0}, sx)
			assert.Equal(t, []any{15.0}, sy)
		})
	}
}

func TestQueryCommandRequiresTable(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, NewQueryCommand(), config.Default(), rollupQuery(t, dir))
	assert.ErrorContains(t, err, "--table")
}

func TestWorkerCommand(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	cmd := NewWorkerCommand()
	cmd.SetIn(stdinR)
	cmd.SetOut(stdoutW)
	cmd.SetArgs(nil)

	ctx := testutil.Context(t, 20*time.Second)
	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(config.WithContext(ctx, config.Default(), testutil.NewTestLogger(t)))
		_ = stdoutW.Close()
	}()

	conn := wire.NewStreamConnPair(stdoutR, stdinW, stdinW)
	c := client.New(conn, client.Config{Timeout: 10 * time.Second})

	_, err := c.Table(ctx, "t", map[string]any{"a": []string{"u"}}, "")
	require.NoError(t, err)
	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, list)

	require.NoError(t, c.Terminate())
	require.NoError(t, <-done)
}

func TestRenderTable(t *testing.T) {
	tbl, err := table.New([]string{"k", "v"}, [][]any{{"a", nil}, {1.0, []any{1.0, 2.0}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, tbl, OutputTable))
	out := buf.String()
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "[1,2]")
	assert.Contains(t, out, "(2 rows)")

	buf.Reset()
	require.NoError(t, renderTable(&buf, tbl, OutputAuto))
	assert.True(t, json.Valid(buf.Bytes()), "auto renders json off a terminal")

	empty, err := table.New([]string{"k"}, [][]any{{}})
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, renderTable(&buf, empty, OutputTable))
	assert.Equal(t, "(0 rows)\n", buf.String())

	assert.Error(t, renderTable(&buf, tbl, "xml"))
}
