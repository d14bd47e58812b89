package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/pkg/types"
)

// DefaultTable is the statistics table name read by SQLiteSource.
const DefaultTable = "statement_stats"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSource reads statement statistics from a SQLite database opened
// read-only. The table holds one or more rows per fingerprint with columns
// queryid, calls, total_plan_time, total_exec_time, min_exec_time and
// max_exec_time; rows for the same queryid are aggregated.
type SQLiteSource struct {
	db    *sql.DB
	query string
}

// OpenSQLite opens path read-only. An empty table uses DefaultTable.
func OpenSQLite(path, table string) (*SQLiteSource, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierRe.MatchString(table) {
		return nil, mentorerrors.NewValidationError(mentorerrors.CodeInvalidConfig,
			fmt.Sprintf("invalid telemetry table name %q", table))
	}

	// Query parameters are only honored on file: URIs.
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true&_busy_timeout=5000")
	if err != nil {
		return nil, mentorerrors.NewTelemetryError("failed to open telemetry database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, mentorerrors.NewTelemetryError("failed to open telemetry database", err)
	}

	return &SQLiteSource{
		db: db,
		query: fmt.Sprintf(`SELECT
			COALESCE(SUM(calls), 0),
			COALESCE(MIN(min_exec_time), 0),
			COALESCE(MAX(max_exec_time), 0),
			COALESCE(SUM(total_exec_time), 0),
			COALESCE(SUM(total_plan_time), 0)
		FROM %s WHERE queryid = ?`, table),
	}, nil
}

// Lookup implements Source.
func (s *SQLiteSource) Lookup(ctx context.Context, fp types.Fingerprint) (Stats, bool, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, s.query, int64(fp)).Scan(
		&st.Calls,
		&st.MinExecTime,
		&st.MaxExecTime,
		&st.TotalExecTime,
		&st.TotalPlanTime,
	)
	if err != nil {
		return Stats{}, false, mentorerrors.NewTelemetryError("failed to read statement statistics", err).
			WithDetails(map[string]interface{}{"fingerprint": fp.String()})
	}
	if st.Calls <= 0 {
		return Stats{}, false, nil
	}
	st.MeanExecTime = st.TotalExecTime / float64(st.Calls)
	return st, true, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
