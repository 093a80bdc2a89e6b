// Package sqltool implements the engine's built-in read-only SQL tools:
// sql_query_readonly, sql_get_schema, and sql_get_sample_queries, all
// backed by a single *sql.DB and gated through pkg/sqlvalidator before any
// statement reaches the driver.
package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
	"github.com/dgraft/factengine/pkg/sqlvalidator"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QueryResult is the structured outcome of a validated, executed statement.
type QueryResult struct {
	Rows            []map[string]interface{} `json:"rows"`
	RowCount        int                       `json:"row_count"`
	Columns         []string                  `json:"columns"`
	ExecutionTimeMs int64                     `json:"execution_time_ms"`
}

// Executor validates and executes read-only SQL statements against a
// single database handle.
type Executor struct {
	db        *sql.DB
	validator *sqlvalidator.Validator
	logger    *logging.Logger
}

// New constructs an Executor. db is the query connection pool; validator
// gates every statement before it reaches db.
func New(db *sql.DB, validator *sqlvalidator.Validator, logger *logging.Logger) *Executor {
	return &Executor{db: db, validator: validator, logger: logger}
}

// ExecuteQuery validates statement, runs it, and returns its rows shaped
// as a slice of column-name-keyed maps.
func (e *Executor) ExecuteQuery(ctx context.Context, statement string) (QueryResult, error) {
	start := time.Now()

	if err := e.validator.Validate(statement); err != nil {
		return QueryResult{}, err
	}

	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return QueryResult{}, facterrors.WrapKind(facterrors.KindToolExecution, "query execution failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResult{}, facterrors.WrapKind(facterrors.KindToolExecution, "read result columns", err)
	}

	result, err := scanRows(rows, columns)
	if err != nil {
		return QueryResult{}, facterrors.WrapKind(facterrors.KindToolExecution, "scan result rows", err)
	}

	return QueryResult{
		Rows:            result,
		RowCount:        len(result),
		Columns:         columns,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func scanRows(rows *sql.Rows, columns []string) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// isValidTableName guards interpolating a table name into a PRAGMA
// statement, since PRAGMA table_info cannot bind its argument as a
// parameter.
func isValidTableName(name string) bool {
	return validTableName.MatchString(name)
}

// GetSchema enumerates every user table and its columns via sqlite_master
// and PRAGMA table_info. Tables with a name the validator would reject are
// skipped rather than failing the whole call.
func (e *Executor) GetSchema(ctx context.Context) (map[string]interface{}, error) {
	tables, err := e.ExecuteQuery(ctx, "SELECT name AS table_name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}

	tableInfos := make([]map[string]interface{}, 0, len(tables.Rows))
	for _, row := range tables.Rows {
		tableName, _ := row["table_name"].(string)
		if !isValidTableName(tableName) {
			if e.logger != nil {
				e.logger.Warn("skipping invalid table name in schema query", logging.Fields{}.Custom("table_name", tableName).ToZapFields()...)
			}
			continue
		}

		columns, err := e.ExecuteQuery(ctx, fmt.Sprintf("PRAGMA table_info(%q)", tableName))
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("failed to read table columns", logging.Fields{}.Custom("table_name", tableName).Error(err).ToZapFields()...)
			}
			continue
		}

		cols := make([]map[string]interface{}, 0, len(columns.Rows))
		for _, col := range columns.Rows {
			cols = append(cols, map[string]interface{}{
				"name":        col["name"],
				"type":        col["type"],
				"nullable":    isZeroInt(col["notnull"]),
				"primary_key": !isZeroInt(col["pk"]),
			})
		}

		tableInfos = append(tableInfos, map[string]interface{}{
			"name":    tableName,
			"columns": cols,
		})
	}

	return map[string]interface{}{
		"tables":        tableInfos,
		"total_tables":  len(tableInfos),
		"database_type": "SQLite",
	}, nil
}

func isZeroInt(v interface{}) bool {
	switch n := v.(type) {
	case int64:
		return n == 0
	case int:
		return n == 0
	case float64:
		return n == 0
	}
	return false
}

var sampleQueries = []map[string]interface{}{
	{
		"description": "Get all companies in the Technology sector",
		"query":       "SELECT * FROM companies WHERE sector = 'Technology'",
	},
	{
		"description": "Get total revenue by company for 2024",
		"query":       "SELECT c.name, SUM(f.revenue) as total_revenue FROM companies c JOIN financial_records f ON c.id = f.company_id WHERE f.year = 2024 GROUP BY c.id, c.name ORDER BY total_revenue DESC",
	},
	{
		"description": "Get company count by sector",
		"query":       "SELECT sector, COUNT(*) as company_count FROM companies GROUP BY sector ORDER BY company_count DESC",
	},
}

// GetSampleQueries returns the fixed set of illustrative queries shipped
// alongside the engine.
func GetSampleQueries() []map[string]interface{} {
	return sampleQueries
}

// RegisterTools installs sql_query_readonly, sql_get_schema, and
// sql_get_sample_queries into registry, bound to this Executor.
func (e *Executor) RegisterTools(registry *toolregistry.Registry) error {
	minLen, maxLen := 10, 1000

	if err := registry.Register(&toolregistry.ToolDefinition{
		Name:           "sql_query_readonly",
		Description:    "Execute SELECT queries on the database to retrieve data. Only read-only SELECT statements are allowed for security.",
		Version:        "1.0.0",
		TimeoutSeconds: 30,
		Parameters: map[string]toolregistry.ParamSchema{
			"statement": {
				Type:      "string",
				MinLength: &minLen,
				MaxLength: &maxLen,
			},
		},
		Function: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			statement, _ := args["statement"].(string)
			result, err := e.ExecuteQuery(ctx, statement)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"rows":              result.Rows,
				"row_count":         result.RowCount,
				"columns":           result.Columns,
				"execution_time_ms": result.ExecutionTimeMs,
				"statement":         truncateStatement(statement),
				"status":            "success",
			}, nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(&toolregistry.ToolDefinition{
		Name:           "sql_get_schema",
		Description:    "Get database schema information including table structures and column details.",
		Version:        "1.0.0",
		TimeoutSeconds: 10,
		Parameters:     map[string]toolregistry.ParamSchema{},
		Function: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return e.GetSchema(ctx)
		},
	}); err != nil {
		return err
	}

	return registry.Register(&toolregistry.ToolDefinition{
		Name:           "sql_get_sample_queries",
		Description:    "Get sample SQL queries for exploring the database.",
		Version:        "1.0.0",
		TimeoutSeconds: 5,
		Parameters:     map[string]toolregistry.ParamSchema{},
		Function: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"sample_queries": GetSampleQueries()}, nil
		},
	})
}

func truncateStatement(statement string) string {
	if len(statement) > 100 {
		return statement[:100] + "..."
	}
	return statement
}
