package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapframe/internal/config"
	"github.com/leapstack-labs/leapframe/pkg/client"
	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/wire"
	"github.com/leapstack-labs/leapframe/pkg/worker"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Table   string
	Data    string
	Limit   int
	Offset  int
	Columns []string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <query.json>",
		Short: "Run a serialized query on a worker",
		Long: `Connect to a worker, optionally load a data file as a table, run a
serialized query and print the result.

Data files ending in .csv, .parquet or .arrow are loaded by the worker;
.json files are sent as row arrays or column objects. A query without a
source table runs against --table.`,
		Example: `  # Query a CSV file through a local worker subprocess
  leapframe query rollup.json --table sales --data sales.csv --transport stdio

  # Query a running server, as JSON
  leapframe query q.json --table t --url ws://localhost:8787/ws -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "Table name for --data and for queries without a source")
	cmd.Flags().StringVar(&opts.Data, "data", "", "Data file to add before querying")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum rows to return (0 for all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Rows to skip")
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "Columns to return")

	return cmd
}

func runQuery(cmd *cobra.Command, path string, opts *QueryOptions) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := config.GetLogger(ctx)

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read query: %w", err)
	}
	q, err := query.Parse(content)
	if err != nil {
		return err
	}
	if q.TableName() == "" {
		if opts.Table == "" {
			return errors.New("query has no source table; use --table")
		}
		q = q.WithTable(opts.Table)
	}

	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	conn, err := connect(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c := client.New(conn, client.Config{Codec: codec, Timeout: cfg.Timeout, Logger: logger})
	defer func() { _ = c.Terminate() }()

	if opts.Data != "" {
		if opts.Table == "" {
			return errors.New("--data requires --table")
		}
		if err := addData(ctx, c, opts.Table, opts.Data); err != nil {
			return err
		}
	}

	result, err := c.Query(ctx, q, client.FetchOptions{
		Format: cfg.Format,
		JSONOptions: query.JSONOptions{
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			Columns: opts.Columns,
		},
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return renderTable(cmd.OutOrStdout(), result, cfg.Output)
}

func addData(ctx context.Context, c *client.Client, name, path string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case worker.FormatCSV, worker.FormatParquet, worker.FormatArrow:
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		_, err = c.Load(ctx, name, abs, client.LoadOptions{Format: ext})
		return err
	case worker.FormatJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
		_, err = c.Table(ctx, name, data, "")
		return err
	default:
		return fmt.Errorf("unsupported data file %s", path)
	}
}

// connect opens a connection to a worker over the configured transport.
func connect(ctx context.Context, cfg *config.Config, stderr io.Writer) (wire.Conn, error) {
	switch cfg.Transport {
	case "websocket":
		conn, err := wire.DialWebSocket(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "stdio":
		return spawnWorker(cfg, stderr)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// spawnWorker runs this binary's worker command as a subprocess.
func spawnWorker(cfg *config.Config, stderr io.Writer) (wire.Conn, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	proc := exec.Command(self, "worker", "--codec", cfg.Codec, "--log-level", cfg.LogLevel)
	proc.Stderr = stderr
	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return wire.NewStreamConnPair(stdout, stdin, &subprocess{proc: proc, stdin: stdin}), nil
}

// subprocess closes the worker's stdin and waits for it to exit.
type subprocess struct {
	proc  *exec.Cmd
	stdin io.Closer
}

func (s *subprocess) Close() error {
	_ = s.stdin.Close()
	return s.proc.Wait()
}
