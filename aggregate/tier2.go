package aggregate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Tier2Run runs stages one at a time against chained temp tables, per
// spec.md §4.7's Tier-2: each temp table has the base collection's
// (id, data) shape, named with a per-invocation UUID prefix so
// concurrent aggregations never collide, and is guaranteed dropped on
// every exit path — grounded on atomicbase/api/database/manage_db.go's
// create/cleanup-on-all-paths pattern for its own scratch databases.
type Tier2Run struct {
	db      *sql.DB
	invoke  string
	tables  []string // created temp tables, in creation order, for cleanup
	current string   // name of the table the next stage reads from
}

// Tier2 reports, without touching the database, whether every stage's
// operator is one Tier-2 handles, so the caller can decide whether to
// commit to Tier-2 or fall through to Tier-3 before any temp table is
// created. Only operator names are checked; a stage argument Tier-2
// cannot encode is reported later, as an error from Run.
func (x *Executor) Tier2(stages []Stage) (ok bool) {
	if x.skipTiers() {
		return false
	}
	for _, s := range stages {
		switch s.Op {
		case "$match", "$sort", "$skip", "$limit", "$unwind", "$group", "$project", "$addFields", "$replaceRoot", "$replaceWith", "$lookup":
		default:
			return false
		}
	}
	return true
}

// Run executes a pre-validated (Tier2-returned-true) stage list against
// db, chaining `CREATE TABLE t_k AS SELECT ...` statements. It always
// returns a cleanup func; callers must call it (directly, or via the
// cursor that wraps it) on every exit path — normal completion,
// error, or early cursor close — per spec.md §5's cancellation
// invariants.
func (x *Executor) Run(ctx context.Context, db *sql.DB, stages []Stage) (resultTable string, cleanup func(), err error) {
	run := &Tier2Run{db: db, invoke: uuid.NewString()[:8], current: "[" + x.Table + "]"}
	cleanup = func() {
		for i := len(run.tables) - 1; i >= 0; i-- {
			_, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS ["+run.tables[i]+"]")
		}
	}

	for idx, s := range stages {
		if err := x.runStage(ctx, run, idx, s); err != nil {
			cleanup()
			return "", func() {}, err
		}
	}
	return run.current, cleanup, nil
}

func (x *Executor) runStage(ctx context.Context, run *Tier2Run, idx int, s Stage) error {
	name := fmt.Sprintf("t2_%s_%d", run.invoke, idx)
	var selectSQL string
	var params []any

	switch s.Op {
	case "$match":
		filter, ok := s.Arg.(map[string]any)
		if !ok {
			return fmt.Errorf("aggregate: $match argument must be a document")
		}
		where, p, ok := x.Query.BuildWhere(filter)
		if !ok {
			return fmt.Errorf("aggregate: unsupported $match in tier-2")
		}
		selectSQL = "SELECT id, data FROM " + run.current
		if where != "" {
			selectSQL += " WHERE " + where
		}
		params = p

	case "$sort":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return fmt.Errorf("aggregate: $sort argument must be a document")
		}
		orderBy, ok := x.sortClause(spec)
		if !ok {
			return fmt.Errorf("aggregate: unsupported $sort in tier-2")
		}
		selectSQL = "SELECT id, data FROM " + run.current + " ORDER BY " + orderBy

	case "$skip":
		n, ok := asInt(s.Arg)
		if !ok {
			return fmt.Errorf("aggregate: $skip argument must be numeric")
		}
		selectSQL = fmt.Sprintf("SELECT id, data FROM %s LIMIT -1 OFFSET %d", run.current, n)

	case "$limit":
		n, ok := asInt(s.Arg)
		if !ok {
			return fmt.Errorf("aggregate: $limit argument must be numeric")
		}
		selectSQL = fmt.Sprintf("SELECT id, data FROM %s LIMIT %d", run.current, n)

	case "$unwind":
		join, patched, _, ok := x.unwindJoin(s.Arg, "je", "t."+"data")
		if !ok {
			return fmt.Errorf("aggregate: unsupported $unwind in tier-2")
		}
		selectSQL = "SELECT t.id, " + patched + " AS data FROM " + run.current + " t, " + join

	case "$group":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return fmt.Errorf("aggregate: $group argument must be a document")
		}
		groupSQL, p, ok := x.groupClause(spec, "", "t")
		if !ok {
			return fmt.Errorf("aggregate: unsupported $group in tier-2")
		}
		selectSQL = "SELECT " + groupSQL + " FROM " + run.current + " t GROUP BY 1"
		params = p

	case "$project", "$addFields":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return fmt.Errorf("aggregate: %s argument must be a document", s.Op)
		}
		dataExpr, p, ok := x.projectExpr(spec, s.Op == "$addFields")
		if !ok {
			return fmt.Errorf("aggregate: unsupported %s in tier-2", s.Op)
		}
		selectSQL = "SELECT id, " + dataExpr + " AS data FROM " + run.current
		params = p

	case "$replaceRoot", "$replaceWith":
		expr := s.Arg
		if s.Op == "$replaceRoot" {
			m, ok := s.Arg.(map[string]any)
			if !ok {
				return fmt.Errorf("aggregate: $replaceRoot requires {newRoot: <expr>}")
			}
			expr = m["newRoot"]
		}
		sqlExpr, p, ok := x.Expr.ToSQL(expr)
		if !ok {
			return fmt.Errorf("aggregate: unsupported %s expression in tier-2", s.Op)
		}
		selectSQL = "SELECT id, " + sqlExpr + " AS data FROM " + run.current
		params = p

	case "$lookup":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return fmt.Errorf("aggregate: $lookup argument must be a document")
		}
		lookupSQL, ok := x.lookupSelect(spec, run.current)
		if !ok {
			return fmt.Errorf("aggregate: unsupported $lookup in tier-2")
		}
		selectSQL = lookupSQL

	default:
		return fmt.Errorf("aggregate: stage %s not supported in tier-2", s.Op)
	}

	createSQL := "CREATE TEMP TABLE [" + name + "] AS " + selectSQL
	if _, err := run.db.ExecContext(ctx, createSQL, params...); err != nil {
		return fmt.Errorf("aggregate: tier-2 stage %d (%s): %w", idx, s.Op, err)
	}
	run.tables = append(run.tables, name)
	run.current = "[" + name + "]"
	return nil
}

// projectExpr renders a $project/$addFields spec as a single json_set
// chain over `data`: each field maps to an expression, evaluated via the
// Expression Evaluator; a literal 0 (exclusion, $project only) removes
// the field, docval.Remove's SQL counterpart (an expression evaluating
// to SQL NULL through an operator Tier-1/Tier-2 can't represent) is left
// to Tier-3.
func (x *Executor) projectExpr(spec map[string]any, isAddFields bool) (string, []any, bool) {
	expr := "data"
	var params []any

	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}

	for _, field := range keys {
		value := spec[field]
		if !isAddFields {
			if n, ok := asInt(value); ok {
				if n == 0 {
					expr = x.Accessor.MutatorCallOn(expr, "remove", field)
					continue
				}
				// {field: 1} (bare inclusion) has no single-field SQL
				// rendering without projecting away everything else;
				// $project's inclusion semantics fall back to Tier-3.
				return "", nil, false
			}
		}
		sqlExpr, p, ok := x.Expr.ToSQL(value)
		if !ok {
			return "", nil, false
		}
		expr = x.Accessor.MutatorCallOn(expr, "set", field, sqlExpr)
		params = append(params, p...)
	}

	return expr, params, true
}

// lookupSelect renders a $lookup stage as a correlated subquery
// producing a json_group_array of matching foreign rows, patched into
// the `as` field, per spec.md §4.7.
func (x *Executor) lookupSelect(spec map[string]any, current string) (string, bool) {
	from, _ := spec["from"].(string)
	localField, _ := spec["localField"].(string)
	foreignField, _ := spec["foreignField"].(string)
	as, _ := spec["as"].(string)
	if from == "" || localField == "" || foreignField == "" || as == "" {
		return "", false
	}

	localExpr := "json_extract(t.data,'$." + localField + "')"
	foreignExpr := "json_extract(f.data,'$." + foreignField + "')"
	subquery := "(SELECT json_group_array(json(f.data)) FROM [" + from + "] f WHERE " + foreignExpr + " = " + localExpr + ")"

	dataExpr := "json_set(t.data,'$.\"" + as + "\"', coalesce(" + subquery + ", json('[]')))"
	return "SELECT t.id, " + dataExpr + " AS data FROM " + current + " t", true
}
