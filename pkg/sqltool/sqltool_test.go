package sqltool_test

import (
	"context"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dgraft/factengine/pkg/sqltool"
	"github.com/dgraft/factengine/pkg/sqlvalidator"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

var _ = Describe("Executor", func() {
	var (
		exec *sqltool.Executor
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m

		// A nil-db validator skips the EXPLAIN QUERY PLAN syntax check so
		// each test only needs to mock the query it actually exercises.
		validator, err := sqlvalidator.New(sqlvalidator.DefaultConfig(), nil, nil)
		Expect(err).NotTo(HaveOccurred())

		exec = sqltool.New(db, validator, nil)
	})

	Describe("ExecuteQuery", func() {
		It("rejects a non-SELECT statement before touching the database", func() {
			_, err := exec.ExecuteQuery(context.Background(), "DROP TABLE companies")
			Expect(err).To(HaveOccurred())
		})

		It("executes a validated SELECT and shapes the result", func() {
			mock.ExpectQuery("SELECT name, revenue FROM companies").
				WillReturnRows(sqlmock.NewRows([]string{"name", "revenue"}).
					AddRow("TechCorp", int64(25000000000)).
					AddRow("BioCorp", int64(500000000)))

			result, err := exec.ExecuteQuery(context.Background(), "SELECT name, revenue FROM companies")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RowCount).To(Equal(2))
			Expect(result.Columns).To(Equal([]string{"name", "revenue"}))
			Expect(result.Rows[0]["name"]).To(Equal("TechCorp"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("wraps a database execution failure as a tool execution error", func() {
			mock.ExpectQuery("SELECT \\* FROM companies").WillReturnError(sqlErr("database is locked"))

			_, err := exec.ExecuteQuery(context.Background(), "SELECT * FROM companies")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("query execution failed"))
		})
	})

	Describe("GetSchema", func() {
		It("enumerates tables and their columns, skipping an invalid table name", func() {
			mock.ExpectQuery("SELECT name AS table_name FROM sqlite_master").
				WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
					AddRow("companies").
					AddRow("bad; name"))

			mock.ExpectQuery(`PRAGMA table_info\("companies"\)`).
				WillReturnRows(sqlmock.NewRows([]string{"name", "type", "notnull", "pk"}).
					AddRow("id", "INTEGER", int64(0), int64(1)).
					AddRow("name", "TEXT", int64(1), int64(0)))

			schema, err := exec.GetSchema(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(schema["total_tables"]).To(Equal(1))
			Expect(schema["database_type"]).To(Equal("SQLite"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("GetSampleQueries", func() {
		It("returns a non-empty fixed set of illustrative queries", func() {
			Expect(sqltool.GetSampleQueries()).NotTo(BeEmpty())
		})
	})

	Describe("RegisterTools", func() {
		It("registers sql_query_readonly, sql_get_schema, and sql_get_sample_queries", func() {
			registry := toolregistry.New(nil)
			Expect(exec.RegisterTools(registry)).To(Succeed())

			for _, name := range []string{"sql_query_readonly", "sql_get_schema", "sql_get_sample_queries"} {
				_, err := registry.Get(name)
				Expect(err).NotTo(HaveOccurred())
			}
		})
	})
})

type sqlErrString string

func (e sqlErrString) Error() string { return string(e) }

func sqlErr(msg string) error { return sqlErrString(msg) }
