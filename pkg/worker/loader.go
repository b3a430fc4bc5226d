package worker

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/leapframe/pkg/table"
)

// Load formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// LoadOptions tune file parsing. Unknown keys are ignored.
type LoadOptions struct {
	// Delimiter is the CSV field separator.
	Delimiter string `mapstructure:"delimiter"`
	// Header reports whether the first CSV line names the columns.
	Header *bool `mapstructure:"header"`
	// Columns limits the loaded columns.
	Columns []string `mapstructure:"columns"`
}

// Loader reads csv, json and parquet files through an in-memory DuckDB
// connection, and Arrow IPC data directly. The connection opens on first
// use.
type Loader struct {
	mu     sync.Mutex
	db     *sql.DB
	httpfs bool
	client *http.Client
	logger *slog.Logger
}

// NewLoader creates a loader. A nil logger discards output.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{client: &http.Client{Timeout: 60 * time.Second}, logger: logger}
}

func (l *Loader) conn(ctx context.Context) (*sql.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		return l.db, nil
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	l.db = db
	return db, nil
}

// Close releases the DuckDB connection.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "s3://")
}

// Load reads url in the given format.
func (l *Loader) Load(ctx context.Context, format, url string, options map[string]any) (*table.Table, error) {
	var opts LoadOptions
	if err := mapstructure.WeakDecode(options, &opts); err != nil {
		return nil, fmt.Errorf("invalid load options: %w", err)
	}
	if url == "" {
		return nil, fmt.Errorf("load requires a url")
	}
	start := time.Now()
	var (
		t   *table.Table
		err error
	)
	switch format {
	case FormatCSV, FormatJSON, FormatParquet:
		t, err = l.loadDuckDB(ctx, format, url, opts)
	case FormatArrow:
		t, err = l.loadArrow(ctx, url)
	default:
		return nil, &UnsupportedFormatError{Format: format}
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	if len(opts.Columns) > 0 {
		cols := make([]any, len(opts.Columns))
		for i, c := range opts.Columns {
			cols[i] = c
		}
		selected, err := t.Select(cols)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", url, err)
		}
		t = selected.(*table.Table)
	}
	l.logger.Debug("file loaded", "url", url, "format", format, "rows", t.NumRows(), "duration", time.Since(start))
	return t, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// scanSQL builds the DuckDB table function call for a file.
func scanSQL(format, path string, opts LoadOptions) string {
	var fn string
	args := []string{quote(path)}
	switch format {
	case FormatCSV:
		fn = "read_csv_auto"
		if opts.Delimiter != "" {
			args = append(args, "delim="+quote(opts.Delimiter))
		}
		header := true
		if opts.Header != nil {
			header = *opts.Header
		}
		args = append(args, "header="+strconv.FormatBool(header))
	case FormatJSON:
		fn = "read_json_auto"
	case FormatParquet:
		fn = "read_parquet"
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", fn, strings.Join(args, ", "))
}

func (l *Loader) loadDuckDB(ctx context.Context, format, url string, opts LoadOptions) (*table.Table, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	path := url
	if isRemote(url) {
		if err := l.enableHTTPFS(ctx, db); err != nil {
			return nil, err
		}
	} else if path, err = filepath.Abs(strings.TrimPrefix(url, "file://")); err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	rows, err := db.QueryContext(ctx, scanSQL(format, path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", format, err)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	columns := make([][]any, len(names))
	for i := range columns {
		columns[i] = []any{}
	}
	vals := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range vals {
			columns[i] = append(columns[i], cellValue(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table.New(names, columns)
}

func (l *Loader) enableHTTPFS(ctx context.Context, db *sql.DB) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.httpfs {
		return nil
	}
	for _, stmt := range []string{"INSTALL httpfs", "LOAD httpfs"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to enable httpfs: %w", err)
		}
	}
	l.httpfs = true
	return nil
}

// cellValue converts DuckDB scan results to table values.
func cellValue(v any) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		return x.Float64()
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case duckdb.Interval:
		return fmt.Sprintf("%d months %d days %d us", x.Months, x.Days, x.Micros)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cellValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cellValue(item)
		}
		return out
	default:
		return v
	}
}

func (l *Loader) loadArrow(ctx context.Context, url string) (*table.Table, error) {
	var data []byte
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch failed: %s", resp.Status)
		}
		if data, err = io.ReadAll(resp.Body); err != nil {
			return nil, err
		}
	} else {
		var err error
		if data, err = os.ReadFile(strings.TrimPrefix(url, "file://")); err != nil {
			return nil, err
		}
	}
	return table.FromArrow(data)
}
