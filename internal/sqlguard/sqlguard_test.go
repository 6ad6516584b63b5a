package sqlguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier() *Classifier {
	return NewClassifier(Config{DefaultLimit: 100, MaxLimit: 1000})
}

func intPtr(v int) *int { return &v }

func assertRejected(t *testing.T, c *Classifier, sql string, reason Reason) *Statement {
	t.Helper()
	st := c.Classify(sql, nil)
	require.Equal(t, Rejected, st.Class, "expected %q to be rejected", sql)
	require.NotNil(t, st.Rejection)
	assert.Equal(t, reason, st.Rejection.Reason, "sql: %q", sql)
	assert.Equal(t, StateRejected, st.State)
	return st
}

func assertSafe(t *testing.T, c *Classifier, sql string) *Statement {
	t.Helper()
	st := c.Classify(sql, nil)
	require.Equal(t, SafeSelect, st.Class, "expected %q to be safe, got %+v", sql, st.Rejection)
	assert.Equal(t, StateRewritten, st.State)
	return st
}

func TestClassify_NotSelect(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	for _, sql := range []string{
		"",
		"   ",
		";",
		"EXPLAIN SELECT 1",
		"VALUES (1)",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"(SELECT 1)",
		"-- note\nSELECT 1",
		"/* hi */ SELECT 1",
		"selectx FROM t",
		"SHOW search_path",
		"TABLE users",
	} {
		assertRejected(t, c, sql, ReasonNotSelect)
	}
}

func TestClassify_DangerousKeywords(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	cases := []struct{ sql, keyword string }{
		{"SELECT * FROM t WHERE id IN (DELETE FROM t RETURNING id)", "delete"},
		{"select 1 union select 2 from pg_catalog.pg_tables; drop", "drop"},
		{"SELECT set_config('a','b',false), 1 FROM t; SET x = 1", "set"},
		{"SELECT pg_sleep(1); COMMIT", "commit"},
		{"SELECT * FROM users UPDATE", "update"},
		{"SELECT 1 FROM t WHERE EXISTS (SELECT 1) OR Truncate", "truncate"},
		{"SELECT * FROM t /* ok */ GRANT", "grant"},
		{"SELECT 1 DO", "do"},
	}
	for _, tc := range cases {
		st := assertRejected(t, c, tc.sql, ReasonDangerousKeyword)
		assert.Equal(t, tc.keyword, st.Rejection.Keyword, "sql: %q", tc.sql)
		assert.Contains(t, st.Rejection.Error(), strings.ToUpper(tc.keyword))
	}
}

func TestClassify_UnreservedWordsAsColumns(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	for _, sql := range []string{
		"SELECT notify, merge, execute FROM alerts",
		"SELECT vacuum, listen, prepare, discard, reindex FROM maintenance_log",
	} {
		assertSafe(t, c, sql)
	}
}

func TestClassify_KeywordsInsideLiteralsAndComments(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	for _, sql := range []string{
		"SELECT name FROM t -- DROP note",
		"SELECT 'DROP TABLE users' AS s",
		"SELECT 'it''s a delete' AS s",
		`SELECT E'\'; DELETE FROM t; --' AS s`,
		"SELECT $$ update t set x = 1 $$ AS s",
		"SELECT $body$ ; insert ; $body$ AS s",
		`SELECT "update" FROM t`,
		`SELECT "weird;name" FROM t`,
		"SELECT 1 /* outer /* nested drop */ still comment ; */ AS x",
		"SELECT updated_at, created_by, settings, offset_value FROM t",
		"SELECT a$b FROM t",
	} {
		assertSafe(t, c, sql)
	}
}

func TestClassify_MultipleStatements(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	// DROP is a blocked keyword, checked first.
	st := assertRejected(t, c, "SELECT * FROM t; DROP TABLE t;", ReasonDangerousKeyword)
	assert.Equal(t, "drop", st.Rejection.Keyword)

	for _, sql := range []string{
		"SELECT 1; SELECT 2",
		"SELECT 1;;SELECT 2",
		"SELECT 1; 'x'",
	} {
		assertRejected(t, c, sql, ReasonMultipleStatements)
	}
}

func TestClassify_TrailingSemicolon(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	st := assertSafe(t, c, "  SELECT 1;  ")
	assert.Equal(t, "SELECT 1", st.Normalized)
	assert.Equal(t, "SELECT 1\nLIMIT 100", st.Rewritten)

	st = assertSafe(t, c, "SELECT 1; -- trailing note")
	assert.Equal(t, "SELECT 1\nLIMIT 100", st.Rewritten)

	st = assertSafe(t, c, "SELECT 1 -- trailing note")
	assert.Equal(t, "SELECT 1 -- trailing note\nLIMIT 100", st.Rewritten)
}

func TestClassify_Syntax(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	for _, sql := range []string{
		"SELECT 'unterminated",
		`SELECT "unterminated`,
		"SELECT 1 /* never closed",
		"SELECT $$ never closed",
		`SELECT E'\'`,
	} {
		assertRejected(t, c, sql, ReasonSyntax)
	}
}

func TestClassify_LimitAppended(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()

	st := c.Classify("SELECT * FROM departments", intPtr(5))
	require.Equal(t, SafeSelect, st.Class)
	assert.True(t, st.LimitApplied)
	assert.Equal(t, 5, st.AppliedLimit)
	assert.Equal(t, "SELECT * FROM departments\nLIMIT 5", st.Rewritten)

	st = c.Classify("SELECT * FROM departments", intPtr(50000))
	assert.Equal(t, 1000, st.AppliedLimit)

	st = c.Classify("SELECT * FROM departments", intPtr(0))
	assert.Equal(t, 0, st.AppliedLimit)
	assert.True(t, strings.HasSuffix(st.Rewritten, "\nLIMIT 0"))

	st = c.Classify("SELECT * FROM departments", nil)
	assert.Equal(t, 100, st.AppliedLimit)
}

func TestClassify_ExistingLimitIsAuthoritative(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	for _, sql := range []string{
		"SELECT * FROM t LIMIT 5000",
		"select * from t limit 10 offset 20",
		"SELECT * FROM t ORDER BY id FETCH FIRST 3 ROWS ONLY",
	} {
		st := c.Classify(sql, intPtr(5))
		require.Equal(t, SafeSelect, st.Class, sql)
		assert.False(t, st.LimitApplied, sql)
		assert.Equal(t, sql, st.Rewritten)
	}
}

func TestClassify_SubqueryLimitDoesNotCount(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	st := assertSafe(t, c, "SELECT * FROM (SELECT * FROM t LIMIT 5) s")
	assert.True(t, st.LimitApplied)
	assert.True(t, strings.HasSuffix(st.Rewritten, "\nLIMIT 100"))

	st = assertSafe(t, c, "SELECT 'limit 5' AS s")
	assert.True(t, st.LimitApplied)
}

func TestClassify_InvalidLimit(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	st := c.Classify("SELECT 1", intPtr(-1))
	require.Equal(t, Rejected, st.Class)
	assert.Equal(t, ReasonInvalidLimit, st.Rejection.Reason)

	assertRejected(t, c, "SELECT * FROM t LIMIT ALL", ReasonInvalidLimit)
	assertRejected(t, c, "SELECT * FROM t LIMIT NULL", ReasonInvalidLimit)
	assertRejected(t, c, "select * from t order by id limit null offset 5", ReasonInvalidLimit)
}

func TestClassify_PreservesOriginalCase(t *testing.T) {
	t.Parallel()
	c := newTestClassifier()
	st := assertSafe(t, c, `SeLeCt "MixedCase" FROM "Users"`)
	assert.Equal(t, `SeLeCt "MixedCase" FROM "Users"`+"\nLIMIT 100", st.Rewritten)
	assert.Equal(t, `select "mixedcase" from "users"`, st.Lower)
}

func TestNewClassifier_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClassifier(Config{})
	assert.Equal(t, 100, c.DefaultLimit())
	assert.Equal(t, 1000, c.MaxLimit())

	c = NewClassifier(Config{DefaultLimit: 500, MaxLimit: 50})
	assert.Equal(t, 50, c.DefaultLimit())
}

func TestLex_Depth(t *testing.T) {
	t.Parallel()
	tokens, err := lex("SELECT (a, (b)) FROM t")
	require.NoError(t, err)
	depths := map[string]int{}
	for _, tok := range tokens {
		if tok.kind == tokWord {
			depths[tok.text] = tok.depth
		}
	}
	assert.Equal(t, 0, depths["select"])
	assert.Equal(t, 1, depths["a"])
	assert.Equal(t, 2, depths["b"])
	assert.Equal(t, 0, depths["from"])
}

func TestDollarTag(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "$$", dollarTag("$$x$$", 0))
	assert.Equal(t, "$fn$", dollarTag("$fn$x$fn$", 0))
	assert.Equal(t, "", dollarTag("$1", 0))
	assert.Equal(t, "", dollarTag("a$b$", 1))
}
