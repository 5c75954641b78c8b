package task

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/datalens-ai/taskstream/internal/stream"
)

// stage is one timed step of a task program. run is optional; when set it
// performs the stage's side effects (intermediate events, result fields) and
// its error short-circuits the remaining stages into the failed terminal
// event.
type stage struct {
	phase   string
	message string
	// weight multiplies the driver's base stage delay.
	weight int
	run    func(ctx context.Context, st *runState) error
}

// program is the full stage list for one task instance plus its event name
// prefix.
type program struct {
	prefix string
	stages []stage
}

// runState accumulates result data across stages and lets stage bodies emit
// intermediate events for their own task only.
type runState struct {
	taskID string
	result map[string]any
	emit   func(taskID string, eventType stream.EventType, payload map[string]any)
}

// emitEvent publishes an intermediate event for the owning task.
func (st *runState) emitEvent(eventType stream.EventType, payload map[string]any) {
	st.emit(st.taskID, eventType, payload)
}

// buildProgram returns the stage program for a task type. Params must already
// have defaults applied.
func buildProgram(typ Type, params Params) program {
	switch typ {
	case TypeRefreshSchema:
		return refreshSchemaProgram(params)
	case TypeGenerateData:
		return generateDataProgram(params)
	case TypeTrainModel:
		return trainModelProgram(params)
	case TypeQuery:
		return queryProgram(params)
	default:
		// Unreachable behind ParseType; an empty program completes instantly.
		return program{prefix: typ.EventPrefix()}
	}
}

// schemaCatalog is the simulated warehouse layout used by refresh_schema.
var schemaCatalog = map[string]int{
	"customers":   12,
	"orders":      9,
	"order_items": 6,
	"products":    14,
	"events":      8,
}

func refreshSchemaProgram(params Params) program {
	tables := make([]string, 0, len(schemaCatalog))
	for name := range schemaCatalog {
		if params.Table != "" && name != params.Table {
			continue
		}
		tables = append(tables, name)
	}
	sort.Strings(tables)

	var tablesScanned, columnsProfiled int
	return program{
		prefix: TypeRefreshSchema.EventPrefix(),
		stages: []stage{
			{
				phase:   "connect",
				message: "Connecting to warehouse",
				weight:  1,
			},
			{
				phase:   "introspect",
				message: "Introspecting tables",
				weight:  2,
				run: func(_ context.Context, st *runState) error {
					if len(tables) == 0 {
						return fmt.Errorf("table %q not found in warehouse", params.Table)
					}
					for _, name := range tables {
						tablesScanned++
						columnsProfiled += schemaCatalog[name]
						st.emitEvent("table_discovered", map[string]any{
							"table":   name,
							"columns": schemaCatalog[name],
						})
					}
					return nil
				},
			},
			{
				phase:   "profile",
				message: "Profiling column statistics",
				weight:  2,
			},
			{
				phase:   "index",
				message: "Rebuilding semantic index",
				weight:  1,
				run: func(_ context.Context, st *runState) error {
					st.result["tables_scanned"] = tablesScanned
					st.result["columns_profiled"] = columnsProfiled
					st.result["refreshed"] = true
					return nil
				},
			},
		},
	}
}

func generateDataProgram(params Params) program {
	n := params.NumExamples
	stages := make([]stage, 0, n)
	examples := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		num := i
		stages = append(stages, stage{
			phase:   "generate",
			message: fmt.Sprintf("Generated example %d of %d", num, n),
			weight:  1,
			run: func(_ context.Context, st *runState) error {
				example := synthesizeExample(num)
				examples = append(examples, example)
				st.emitEvent("example_generated", map[string]any{
					"example_number": num,
					"example":        example,
				})
				if num == n {
					st.result["total_generated"] = n
					st.result["examples"] = examples
				}
				return nil
			},
		})
	}
	return program{prefix: TypeGenerateData.EventPrefix(), stages: stages}
}

// synthesizeExample produces a deterministic sample row for the given index.
func synthesizeExample(num int) map[string]any {
	names := []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald"}
	return map[string]any{
		"id":     num,
		"name":   names[(num-1)%len(names)],
		"email":  fmt.Sprintf("user%d@example.com", num),
		"amount": 25 + 17*num,
	}
}

func trainModelProgram(params Params) program {
	epochs := params.Epochs
	stages := []stage{
		{
			phase:   "prepare",
			message: "Preparing training dataset",
			weight:  2,
		},
	}
	for i := 1; i <= epochs; i++ {
		epoch := i
		stages = append(stages, stage{
			phase:   "train",
			message: fmt.Sprintf("Training epoch %d of %d", epoch, epochs),
			weight:  2,
			run: func(_ context.Context, st *runState) error {
				st.emitEvent("epoch_completed", map[string]any{
					"epoch": epoch,
					"loss":  1.0 / float64(epoch+1),
				})
				return nil
			},
		})
	}
	stages = append(stages, stage{
		phase:   "evaluate",
		message: "Evaluating on holdout set",
		weight:  1,
		run: func(_ context.Context, st *runState) error {
			st.result["trained"] = true
			st.result["epochs"] = epochs
			st.result["accuracy"] = 0.92
			return nil
		},
	})
	return program{prefix: TypeTrainModel.EventPrefix(), stages: stages}
}

func queryProgram(params Params) program {
	var sql string
	var rows []map[string]any
	return program{
		prefix: TypeQuery.EventPrefix(),
		stages: []stage{
			{
				phase:   "understand",
				message: "Parsing question",
				weight:  1,
				run: func(_ context.Context, _ *runState) error {
					if strings.TrimSpace(params.Question) == "" {
						return fmt.Errorf("question is required for query tasks")
					}
					return nil
				},
			},
			{
				phase:   "generate_sql",
				message: "Generating SQL",
				weight:  2,
				run: func(_ context.Context, st *runState) error {
					sql = synthesizeSQL(params.Question, params.Table)
					st.result["sql"] = sql
					st.emitEvent("sql_generated", map[string]any{"sql": sql})
					return nil
				},
			},
			{
				phase:   "execute",
				message: "Executing query",
				weight:  2,
				run: func(_ context.Context, st *runState) error {
					rows = sampleQueryRows()
					st.result["rows"] = rows
					st.result["row_count"] = len(rows)
					st.emitEvent("data_fetched", map[string]any{
						"row_count": len(rows),
						"rows":      rows,
					})
					return nil
				},
			},
			{
				phase:   "chart",
				message: "Rendering chart",
				weight:  1,
				run: func(_ context.Context, st *runState) error {
					st.result["chart_type"] = "bar"
					st.emitEvent("chart_generated", map[string]any{"chart_type": "bar"})
					return nil
				},
			},
		},
	}
}

// synthesizeSQL fakes text-to-SQL output for the simulated query pipeline.
func synthesizeSQL(question, table string) string {
	if table == "" {
		table = "orders"
	}
	column := "total"
	if strings.Contains(strings.ToLower(question), "count") {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s;", table)
	}
	return fmt.Sprintf("SELECT date_trunc('month', created_at) AS month, SUM(%s) FROM %s GROUP BY 1 ORDER BY 1;", column, table)
}

func sampleQueryRows() []map[string]any {
	return []map[string]any{
		{"month": "2026-05", "sum": 48210},
		{"month": "2026-06", "sum": 51876},
		{"month": "2026-07", "sum": 46904},
	}
}
