package taskproxy

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// gradeArity is the number of positional results of an array-shaped grade.
const gradeArity = 4

// GradeResult holds the positional results of task.gradeAnswer: score,
// message, and two opaque extras (typically a score token). Arrays are
// padded or cut to four positions with nil; a scalar result yields one.
// Numbers are kept as json.Number.
type GradeResult struct {
	Args []any
}

// Arg returns position i, or nil when absent.
func (g GradeResult) Arg(i int) any {
	if i < 0 || i >= len(g.Args) {
		return nil
	}
	return g.Args[i]
}

func (g GradeResult) Score() any   { return g.Arg(0) }
func (g GradeResult) Message() any { return g.Arg(1) }

// NormalizeGrade converts a raw gradeAnswer result into a GradeResult.
func NormalizeGrade(raw json.RawMessage) (GradeResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return GradeResult{Args: []any{nil}}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return GradeResult{}, fmt.Errorf("taskproxy.NormalizeGrade: %w", err)
	}

	arr, ok := v.([]any)
	if !ok {
		return GradeResult{Args: []any{v}}, nil
	}

	args := make([]any, gradeArity)
	copy(args, arr)
	return GradeResult{Args: args}, nil
}
