// Package sqlvalidator implements the read-only SQL gate: it accepts only
// SELECT and PRAGMA table_info statements, rejects DDL/DML and injection
// patterns, caps statement complexity, and confirms syntax via a
// non-executing EXPLAIN QUERY PLAN — with its own validation-result cache
// so a repeated statement skips the whole pipeline.
package sqlvalidator

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
)

var dangerousKeywords = []string{
	"drop", "delete", "update", "insert", "alter", "create",
	"truncate", "replace", "merge", "exec", "execute",
	"attach", "detach", "vacuum", "reindex", "analyze",
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`--`),
	regexp.MustCompile(`(?s)/\*.*?\*/`),
	regexp.MustCompile(`;\s*\S`),
	regexp.MustCompile(`\bunion\s+select\b`),
	regexp.MustCompile(`\bor\s+1\s*=\s*1\b`),
	regexp.MustCompile(`\band\s+1\s*=\s*1\b`),
	regexp.MustCompile(`\bor\s+'.*?'\s*=\s*'.*?'`),
	regexp.MustCompile(`\\x[0-9a-f]{2}`),
}

const (
	maxStatementLengthDefault = 5000
	maxSelectOccurrences      = 5
	validationCacheEvictCount = 100
)

// Config configures a Validator's limits and cache size.
type Config struct {
	MaxStatementLength  int
	MaxNestedSelects    int
	ValidationCacheSize int
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		MaxStatementLength:  maxStatementLengthDefault,
		MaxNestedSelects:    maxSelectOccurrences,
		ValidationCacheSize: 1000,
	}
}

// Validator is the read-only SQL gate. It is safe for concurrent use: the
// underlying lru.Cache is internally synchronized, and EXPLAIN QUERY PLAN
// checks run against a *sql.DB connection pool rather than a single
// shared connection.
type Validator struct {
	cfg    Config
	db     *sql.DB
	cache  *lru.Cache[string, struct{}]
	logger *logging.Logger
}

// New constructs a Validator. db is used only for the non-executing
// EXPLAIN QUERY PLAN syntax check (step 7); it may be nil, in which case
// that check is skipped — useful for tests that exercise only the
// lexical/security gate.
func New(cfg Config, db *sql.DB, logger *logging.Logger) (*Validator, error) {
	if cfg.ValidationCacheSize <= 0 {
		cfg.ValidationCacheSize = DefaultConfig().ValidationCacheSize
	}
	cache, err := lru.New[string, struct{}](cfg.ValidationCacheSize)
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindConfiguration, "create validation cache", err)
	}
	return &Validator{cfg: cfg, db: db, cache: cache, logger: logger}, nil
}

// Validate runs the read-only gate against statement, in order, short-
// circuiting on the first failure. A cache hit on the trimmed statement's
// hash short-circuits the entire pipeline and returns nil.
func (v *Validator) Validate(statement string) error {
	key := hashStatement(statement)
	if _, ok := v.cache.Get(key); ok {
		return nil
	}

	normalized := strings.ToLower(strings.TrimSpace(statement))
	isSelect := strings.HasPrefix(normalized, "select")
	isSafePragma := strings.HasPrefix(normalized, "pragma table_info")

	if !isSelect && !isSafePragma {
		return v.reject(statement, securityError("only SELECT statements and PRAGMA table_info queries are allowed"))
	}
	if strings.HasPrefix(normalized, "pragma") && !isSafePragma {
		return v.reject(statement, securityError("only PRAGMA table_info queries are allowed"))
	}

	masked := maskQuotedLiterals(normalized)

	if err := checkDangerousKeywords(masked); err != nil {
		return v.reject(statement, err)
	}

	if !isSafePragma {
		if err := checkInjectionPatterns(masked); err != nil {
			return v.reject(statement, err)
		}
	}

	maxLen := v.cfg.MaxStatementLength
	if maxLen <= 0 {
		maxLen = maxStatementLengthDefault
	}
	if len(statement) > maxLen {
		return v.reject(statement, securityError("query too long - potential DoS attack"))
	}

	maxSelects := v.cfg.MaxNestedSelects
	if maxSelects <= 0 {
		maxSelects = maxSelectOccurrences
	}
	if strings.Count(masked, "select") > maxSelects {
		return v.reject(statement, securityError("too many nested subqueries - potential injection attack"))
	}

	if v.db != nil {
		if err := v.checkSyntax(statement); err != nil {
			return v.reject(statement, err)
		}
	}

	v.rememberValid(key)
	return nil
}

func (v *Validator) reject(statement string, err error) error {
	if v.logger != nil {
		preview := statement
		if len(preview) > 100 {
			preview = preview[:100]
		}
		v.logger.Warn("sql statement rejected", logging.SecurityFields("validate", preview).Error(err).ToZapFields()...)
	}
	return err
}

func (v *Validator) checkSyntax(statement string) error {
	rows, err := v.db.Query("EXPLAIN QUERY PLAN " + statement)
	if err != nil {
		return syntaxError(fmt.Sprintf("SQL syntax error: %s", err.Error()))
	}
	return rows.Close()
}

func (v *Validator) rememberValid(key string) {
	if v.cache.Len() >= v.cfg.effectiveCacheSize() {
		evictOldest(v.cache, validationCacheEvictCount)
	}
	v.cache.Add(key, struct{}{})
}

func (c Config) effectiveCacheSize() int {
	if c.ValidationCacheSize <= 0 {
		return DefaultConfig().ValidationCacheSize
	}
	return c.ValidationCacheSize
}

// evictOldest removes up to n of the least-recently-used entries, matching
// the source's "drop the 100 oldest" eviction rule.
func evictOldest(cache *lru.Cache[string, struct{}], n int) {
	for i := 0; i < n; i++ {
		if key, _, ok := cache.GetOldest(); ok {
			cache.Remove(key)
		} else {
			break
		}
	}
}

func checkDangerousKeywords(normalized string) error {
	for _, token := range tokenize(normalized) {
		for _, kw := range dangerousKeywords {
			if token == kw {
				return securityError(fmt.Sprintf("dangerous SQL keyword detected: %s", kw))
			}
		}
	}
	return nil
}

func checkInjectionPatterns(normalized string) error {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(normalized) {
			preview := normalized
			if len(preview) > 100 {
				preview = preview[:100]
			}
			return securityError(fmt.Sprintf("potential SQL injection pattern detected in query: %s", preview))
		}
	}
	return nil
}

func hashStatement(statement string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(statement)))
	return hex.EncodeToString(sum[:])
}

func securityError(message string) error {
	return facterrors.New(facterrors.KindSecurity, message)
}

func syntaxError(message string) error {
	return facterrors.New(facterrors.KindValidation, message)
}
