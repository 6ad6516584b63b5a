// Package protection verifies caller SQL with PostgreSQL's own parser after
// the text gate in internal/sqlguard has accepted and rewritten it.
package protection

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Rule names the check a statement failed.
type Rule string

const (
	RuleParse          Rule = "parse"
	RuleStatementCount Rule = "statement_count"
	RuleNotSelect      Rule = "not_select"
	RuleInto           Rule = "select_into"
	RuleLocking        Rule = "locking_clause"
	RuleFunction       Rule = "blocked_function"
	RuleMissingLimit   Rule = "missing_limit"
)

// DefaultBlockedFunctions are functions that change session or server state,
// or reach outside the database, even inside a read-only transaction.
var DefaultBlockedFunctions = []string{
	"set_config",
	"pg_terminate_backend", "pg_cancel_backend", "pg_reload_conf", "pg_rotate_logfile",
	"pg_read_file", "pg_read_binary_file", "pg_ls_dir", "pg_stat_file",
	"lo_import", "lo_export",
	"dblink", "dblink_exec", "dblink_connect",
	"pg_advisory_lock", "pg_advisory_xact_lock", "pg_advisory_lock_shared",
	"pg_switch_wal", "pg_create_restore_point",
}

// Violation describes why a statement was blocked.
type Violation struct {
	Rule    Rule
	Keyword string
	Message string
}

func (v *Violation) Error() string { return v.Message }

// Config configures a Checker.
type Config struct {
	// BlockedFunctions replaces DefaultBlockedFunctions when non-nil.
	BlockedFunctions []string
}

// Checker validates that SQL is a single plain SELECT. Safe for concurrent use.
type Checker struct {
	blockedFuncs map[string]struct{}
}

// NewChecker creates a new Checker with the given config.
func NewChecker(config Config) *Checker {
	funcs := config.BlockedFunctions
	if funcs == nil {
		funcs = DefaultBlockedFunctions
	}
	c := &Checker{blockedFuncs: make(map[string]struct{}, len(funcs))}
	for _, f := range funcs {
		c.blockedFuncs[strings.ToLower(f)] = struct{}{}
	}
	return c
}

// Check parses sql with pg_query and walks the AST. It returns nil if the
// statement is allowed, or a *Violation. With requireLimit set, the
// top-level SELECT must carry a LIMIT (or FETCH FIRST).
func (c *Checker) Check(sql string, requireLimit bool) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return &Violation{Rule: RuleParse, Message: fmt.Sprintf("SQL parse error: %v", err)}
	}

	if len(result.Stmts) == 0 {
		return &Violation{Rule: RuleParse, Message: "SQL parse error: empty query"}
	}
	if len(result.Stmts) > 1 {
		return &Violation{
			Rule:    RuleStatementCount,
			Message: fmt.Sprintf("multi-statement queries are not allowed: found %d statements", len(result.Stmts)),
		}
	}

	sel := result.Stmts[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return &Violation{Rule: RuleNotSelect, Message: "only SELECT statements are allowed"}
	}
	if requireLimit && sel.GetLimitCount() == nil {
		return &Violation{Rule: RuleMissingLimit, Message: "statement has no top-level LIMIT"}
	}

	return walk(result.Stmts[0].GetStmt().ProtoReflect(), c.checkNode)
}

// checkNode is called for every message in the AST.
func (c *Checker) checkNode(m protoreflect.Message) error {
	switch n := m.Interface().(type) {
	case *pg_query.SelectStmt:
		if n.GetIntoClause() != nil {
			return &Violation{Rule: RuleInto, Keyword: "into", Message: "SELECT INTO is not allowed: it creates a table"}
		}
		if len(n.GetLockingClause()) > 0 {
			return &Violation{Rule: RuleLocking, Keyword: "for update/share", Message: "SELECT ... FOR UPDATE/SHARE is not allowed: it takes row locks"}
		}

	case *pg_query.CommonTableExpr:
		if n.GetCtequery().GetSelectStmt() == nil {
			return &Violation{Rule: RuleNotSelect, Message: fmt.Sprintf("WITH query %q is not a SELECT: data-modifying CTEs are not allowed", n.GetCtename())}
		}

	case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
		return &Violation{Rule: RuleNotSelect, Message: "data-modifying statements are not allowed"}

	case *pg_query.FuncCall:
		name := funcName(n)
		if _, blocked := c.blockedFuncs[name]; blocked {
			return &Violation{Rule: RuleFunction, Keyword: name, Message: fmt.Sprintf("function %s() is not allowed", name)}
		}
	}
	return nil
}

// funcName returns the unqualified, lower-cased function name.
func funcName(fc *pg_query.FuncCall) string {
	parts := fc.GetFuncname()
	if len(parts) == 0 {
		return ""
	}
	return strings.ToLower(parts[len(parts)-1].GetString_().GetSval())
}

// walk visits m and every message reachable from it, depth first, stopping
// at the first error.
func walk(m protoreflect.Message, visit func(protoreflect.Message) error) error {
	if !m.IsValid() {
		return nil
	}
	if err := visit(m); err != nil {
		return err
	}
	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap():
		case fd.IsList():
			if fd.Message() == nil {
				return true
			}
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				if err = walk(list.Get(i).Message(), visit); err != nil {
					return false
				}
			}
		case fd.Message() != nil:
			err = walk(v.Message(), visit)
		}
		return err == nil
	})
	return err
}
