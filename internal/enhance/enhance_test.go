package enhance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/solatis/specforge/internal/types"
)

func fallbackResult(confidence float64) *types.ParseResult {
	return &types.ParseResult{
		IR: types.NewAction("opaque", "order", "app", nil,
			types.ResultContract{},
			[]types.Step{
				{Kind: types.KindFallback, Raw: "LOCK TABLE app.tb_order;", Reason: "unrecognized statement"},
				{Kind: types.KindReturn},
			}),
		Confidence: confidence,
		DetectedPatterns: []types.DetectedPattern{
			{Name: "soft_delete", Confidence: 1.0},
		},
		Warnings: []types.Warning{
			{Line: 3, Construct: "statement", Reason: "unrecognized statement"},
		},
	}
}

func TestEnhanceSkipsAboveThreshold(t *testing.T) {
	e := New(Config{APIKey: "unused", Threshold: 0.6})
	in := fallbackResult(0.7)
	if got := e.Enhance(context.Background(), "SELECT 1;", in); got != in {
		t.Error("result above threshold must pass through untouched")
	}
}

func TestEnhanceSkipsWithoutFallbacks(t *testing.T) {
	e := New(Config{APIKey: "unused"})
	in := &types.ParseResult{
		IR: types.NewAction("clean", "order", "app", nil,
			types.ResultContract{},
			[]types.Step{{Kind: types.KindReturn}}),
		Confidence: 0.2,
	}
	if got := e.Enhance(context.Background(), "SELECT 1;", in); got != in {
		t.Error("result without opaque regions must pass through untouched")
	}
}

func TestEnhanceNilResult(t *testing.T) {
	e := New(Config{APIKey: "unused"})
	if got := e.Enhance(context.Background(), "", nil); got != nil {
		t.Errorf("Enhance(nil) = %v, want nil", got)
	}
}

func TestNewDefaults(t *testing.T) {
	e := New(Config{APIKey: "unused"})
	if e.model != "gpt-4o" {
		t.Errorf("model = %q", e.model)
	}
	if e.timeout != 15*time.Second {
		t.Errorf("timeout = %v", e.timeout)
	}
	if e.threshold != 0.6 {
		t.Errorf("threshold = %v", e.threshold)
	}
}

func TestMergeRaisesConfidence(t *testing.T) {
	in := fallbackResult(0.4)
	out := merge(in, reply{Confidence: 0.8})
	if out.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", out.Confidence)
	}
	if in.Confidence != 0.4 {
		t.Error("merge mutated the input result")
	}
}

func TestMergeNeverLowersConfidence(t *testing.T) {
	out := merge(fallbackResult(0.5), reply{Confidence: 0.1})
	if out.Confidence != 0.5 {
		t.Errorf("confidence = %v, want the heuristic floor 0.5", out.Confidence)
	}
}

func TestMergeCapsConfidence(t *testing.T) {
	out := merge(fallbackResult(0.4), reply{Confidence: 1.0})
	if out.Confidence != 0.95 {
		t.Errorf("confidence = %v, want cap at 0.95", out.Confidence)
	}
}

func TestMergePatterns(t *testing.T) {
	r := reply{Confidence: 0.5}
	r.Patterns = []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	}{
		{Name: "saga", Confidence: 0.7},
		{Name: "soft_delete", Confidence: 0.3}, // already detected, kept at 1.0
		{Name: "", Confidence: 0.9},
		{Name: "bogus", Confidence: 1.5},
	}

	out := merge(fallbackResult(0.4), r)
	want := []types.DetectedPattern{
		{Name: "soft_delete", Confidence: 1.0},
		{Name: "saga", Confidence: 0.7},
	}
	if len(out.DetectedPatterns) != len(want) {
		t.Fatalf("patterns = %v, want %v", out.DetectedPatterns, want)
	}
	for i, p := range want {
		if out.DetectedPatterns[i] != p {
			t.Errorf("patterns[%d] = %v, want %v", i, out.DetectedPatterns[i], p)
		}
	}
}

func TestFallbackRegions(t *testing.T) {
	in := fallbackResult(0.4)
	regions := fallbackRegions(in.IR)
	if len(regions) != 1 || regions[0] != "LOCK TABLE app.tb_order;" {
		t.Errorf("regions = %v", regions)
	}

	nested := types.NewAction("nested", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindIf, Expr: "true", Then: []types.Step{
				{Kind: types.KindFallback, Raw: "NOTIFY ch;", Reason: "unrecognized statement"},
			}},
		})
	if got := fallbackRegions(nested); len(got) != 1 || got[0] != "NOTIFY ch;" {
		t.Errorf("nested regions = %v", got)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"confidence": 0.8}`, `{"confidence": 0.8}`},
		{"```json\n{\"confidence\": 0.8}\n```", `{"confidence": 0.8}`},
		{"```\n{\"confidence\": 0.8}\n```", `{"confidence": 0.8}`},
		{"  {\"confidence\": 0.8}  ", `{"confidence": 0.8}`},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	in := fallbackResult(0.4)
	prompt := buildPrompt("CREATE FUNCTION ...", in, fallbackRegions(in.IR))
	for _, want := range []string{
		"Source:\nCREATE FUNCTION ...",
		"line 3: statement: unrecognized statement",
		"Opaque regions:\n- LOCK TABLE app.tb_order;",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
