package db

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solatis/specforge/internal/types"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	conn, err := Open("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := MigrateUp(conn); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	q, err := LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries failed: %v", err)
	}
	return NewCatalog(q)
}

func TestResolveDriver(t *testing.T) {
	cases := []struct {
		name       string
		dbURL      string
		driver     string
		dataSource string
	}{
		{name: "sqlite relative", dbURL: "sqlite://catalog.db", driver: "sqlite3", dataSource: "catalog.db"},
		{name: "sqlite absolute", dbURL: "sqlite:///var/lib/catalog.db", driver: "sqlite3", dataSource: "/var/lib/catalog.db"},
		{name: "postgres", dbURL: "postgres://u:p@localhost:5432/catalog?sslmode=disable", driver: "postgres", dataSource: "postgres://u:p@localhost:5432/catalog?sslmode=disable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.dbURL)
			if err != nil {
				t.Fatalf("url.Parse failed: %v", err)
			}
			driver, dataSource, err := resolveDriver(u, tc.dbURL)
			if err != nil {
				t.Fatalf("resolveDriver failed: %v", err)
			}
			if driver != tc.driver || dataSource != tc.dataSource {
				t.Errorf("got (%s, %s), want (%s, %s)", driver, dataSource, tc.driver, tc.dataSource)
			}
		})
	}
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open("mysql://localhost/catalog")
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if !strings.Contains(err.Error(), "unsupported database scheme") {
		t.Errorf("unexpected error: %v", err)
	}
}

func testAction() types.Action {
	return types.NewAction("create_order", "order", "public",
		[]types.Param{{Name: "p_customer_id", Type: "text"}},
		types.ResultContract{
			Success: []types.FieldValue{{Name: "status", Expr: "'success'"}},
			Errors:  []string{"missing_customer_id"},
		},
		[]types.Step{
			{Kind: types.KindValidate, Expr: "p_customer_id IS NOT NULL", ErrorCode: "missing_customer_id"},
			{Kind: types.KindInsert, Entity: "order", Fields: []types.FieldValue{{Name: "customer_id", Expr: "p_customer_id"}}},
			{Kind: types.KindReturn},
		})
}

func TestArtifactRoundTrip(t *testing.T) {
	cat := openTestCatalog(t)
	action := testAction()

	id, err := cat.SaveArtifact(Artifact{
		Backend: "plpgsql",
		Action:  action,
		Source:  "CREATE OR REPLACE FUNCTION public.create_order ...",
	})
	if err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	got, err := cat.GetArtifact(id)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got.ID != id {
		t.Errorf("expected ID %s, got %s", id, got.ID)
	}
	if got.Backend != "plpgsql" {
		t.Errorf("expected backend plpgsql, got %s", got.Backend)
	}
	if !types.Equal(got.Action, action) {
		t.Error("stored action does not match original")
	}
	if got.Source == "" {
		t.Error("stored source is empty")
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not recovered")
	}
}

func TestListArtifacts(t *testing.T) {
	cat := openTestCatalog(t)

	summaries, err := cat.ListArtifacts()
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected empty catalog, got %d rows", len(summaries))
	}

	action := testAction()
	for _, backend := range []string{"plpgsql", "goorm"} {
		if _, err := cat.SaveArtifact(Artifact{Backend: backend, Action: action, Source: "src"}); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}
	}

	summaries, err = cat.ListArtifacts()
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(summaries))
	}
	for _, s := range summaries {
		if s.ActionName != "create_order" {
			t.Errorf("unexpected action name %s", s.ActionName)
		}
		if s.Entity != "order" {
			t.Errorf("unexpected entity %s", s.Entity)
		}
	}
}

func TestDeleteArtifact(t *testing.T) {
	cat := openTestCatalog(t)

	id, err := cat.SaveArtifact(Artifact{Backend: "plpgsql", Action: testAction(), Source: "src"})
	if err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if err := cat.DeleteArtifact(id); err != nil {
		t.Fatalf("DeleteArtifact failed: %v", err)
	}
	if _, err := cat.GetArtifact(id); err == nil {
		t.Error("expected error loading deleted artifact")
	}
}

func TestParseResultRoundTrip(t *testing.T) {
	cat := openTestCatalog(t)

	result := types.ParseResult{
		IR:         testAction(),
		Confidence: 0.93,
		DetectedPatterns: []types.DetectedPattern{
			{Name: "audit_trail", Confidence: 1.0},
		},
		Warnings: []types.Warning{
			{Line: 12, Construct: "loop", Reason: "bare loop without cursor lifecycle"},
		},
	}

	id, err := cat.SaveParseResult("legacy/create_order.sql", result)
	if err != nil {
		t.Fatalf("SaveParseResult failed: %v", err)
	}

	got, err := cat.GetParseResult(id)
	if err != nil {
		t.Fatalf("GetParseResult failed: %v", err)
	}
	if got.ID != id {
		t.Errorf("expected unit ID %s, got %s", id, got.ID)
	}
	if got.SourceFile != "legacy/create_order.sql" {
		t.Errorf("unexpected source file %s", got.SourceFile)
	}
	if got.Result.Confidence != 0.93 {
		t.Errorf("expected confidence 0.93, got %v", got.Result.Confidence)
	}
	if len(got.Result.DetectedPatterns) != 1 || got.Result.DetectedPatterns[0].Name != "audit_trail" {
		t.Errorf("detected patterns not recovered: %+v", got.Result.DetectedPatterns)
	}
	if len(got.Result.Warnings) != 1 || got.Result.Warnings[0].Line != 12 {
		t.Errorf("warnings not recovered: %+v", got.Result.Warnings)
	}
	if !types.Equal(got.Result.IR, result.IR) {
		t.Error("stored IR does not match original")
	}
}

func TestMigrateStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "status.db")
	conn, err := Open("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	if err := MigrateUp(conn); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	statuses, err := MigrateStatus(conn)
	if err != nil {
		t.Fatalf("MigrateStatus failed: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
	}
}
