// internal/batch/batch.go

// Package batch fans compilation and reverse parsing out across workers.
// Units are independent: each produces its own outcome, unit failures never
// abort the batch, and cancelling the context stops unstarted units without
// invalidating completed ones.
package batch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/specforge/internal/detect"
	"github.com/solatis/specforge/internal/emit"
	"github.com/solatis/specforge/internal/reverse"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// Enhancer improves a low-confidence parse result. The returned result may
// be the input unchanged.
type Enhancer interface {
	Enhance(ctx context.Context, source string, result *types.ParseResult) *types.ParseResult
}

// CompileOutcome is the result of forward-compiling one action.
type CompileOutcome struct {
	Action string
	Source string
	Err    error
}

// SourceFile is one reverse-parse input.
type SourceFile struct {
	Name   string
	Source string
}

// ParseOutcome is the result of reverse-parsing one function unit.
type ParseOutcome struct {
	File   string
	Line   int
	Result *types.ParseResult
	Err    error
}

func workers(limit int) int {
	if limit > 0 {
		return limit
	}
	return runtime.GOMAXPROCS(0)
}

// Compile emits every action concurrently. Outcomes are index-aligned with
// the input slice.
func Compile(ctx context.Context, em emit.Emitter, reg *schema.Registry, actions []types.Action, limit int) []CompileOutcome {
	out := make([]CompileOutcome, len(actions))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(limit))
	for i, action := range actions {
		i, action := i, action
		out[i].Action = action.Name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Source, out[i].Err = em.Emit(action, reg)
			return nil
		})
	}
	g.Wait()
	return out
}

// Parse splits every file into function units and reverse-parses them
// concurrently. Results carry detected patterns; when an enhancer is given,
// low-confidence results pass through it before being returned. Outcomes
// are ordered by file then by unit position.
func Parse(ctx context.Context, p *reverse.Parser, enh Enhancer, files []SourceFile, limit int) []ParseOutcome {
	type work struct {
		file string
		unit reverse.Unit
	}
	var outcomes []ParseOutcome
	var pending []work
	for _, f := range files {
		units, err := reverse.Units(f.Source)
		if err != nil {
			outcomes = append(outcomes, ParseOutcome{File: f.Name, Err: err})
			continue
		}
		for _, u := range units {
			pending = append(pending, work{file: f.Name, unit: u})
		}
	}

	results := make([]ParseOutcome, len(pending))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(limit))
	for i, w := range pending {
		i, w := i, w
		results[i].File = w.file
		results[i].Line = w.unit.Line
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			r, err := p.ParseUnit(w.unit)
			if err != nil {
				results[i].Err = err
				return nil
			}
			r.DetectedPatterns = detect.ForEntity(r.IR, p.Registry, r.IR.Entity)
			if enh != nil {
				r = enh.Enhance(ctx, w.unit.Source, r)
			}
			results[i].Result = r
			return nil
		})
	}
	g.Wait()
	return append(outcomes, results...)
}
