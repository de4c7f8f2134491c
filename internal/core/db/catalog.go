package db

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/solatis/specforge/internal/types"
)

// Catalog persists compiled artifacts and reverse-parse results.
// Payloads are msgpack-encoded; the indexed columns (action name, backend,
// confidence) are denormalized out of the payload for querying.
type Catalog struct {
	q *Queries
}

// NewCatalog wraps a loaded Queries instance.
func NewCatalog(q *Queries) *Catalog {
	return &Catalog{q: q}
}

// Artifact is one stored compilation output: the IR action plus the
// source text the backend emitted for it.
type Artifact struct {
	ID        types.ArtifactID `db:"artifact_id" msgpack:"-"`
	Backend   string           `db:"backend" msgpack:"backend"`
	Action    types.Action     `db:"-" msgpack:"action"`
	Source    string           `db:"-" msgpack:"source"`
	CreatedAt time.Time        `db:"created_at" msgpack:"-"`
}

// ArtifactSummary is the payload-free listing row.
type ArtifactSummary struct {
	ID         types.ArtifactID `db:"artifact_id"`
	ActionName string           `db:"action_name"`
	Backend    string           `db:"backend"`
	Entity     string           `db:"entity"`
	CreatedAt  time.Time        `db:"created_at"`
}

// StoredParseResult is one persisted reverse-parse outcome.
type StoredParseResult struct {
	ID         types.UnitID      `db:"result_id"`
	SourceFile string            `db:"source_file"`
	Result     types.ParseResult `db:"-"`
	CreatedAt  time.Time         `db:"created_at"`
}

// SaveArtifact stores a compiled artifact and returns its generated ID.
func (c *Catalog) SaveArtifact(a Artifact) (types.ArtifactID, error) {
	payload, err := msgpack.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	id := types.NewArtifactID()
	createdAt := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	_, err = c.q.Exec("save-artifact", string(id), a.Action.Name, a.Backend, a.Action.Entity, payload, createdAt)
	if err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	return id, nil
}

// GetArtifact loads one artifact by ID, decoding the stored payload.
func (c *Catalog) GetArtifact(id types.ArtifactID) (*Artifact, error) {
	var row struct {
		ID         string `db:"artifact_id"`
		ActionName string `db:"action_name"`
		Backend    string `db:"backend"`
		Entity     string `db:"entity"`
		Payload    []byte `db:"payload"`
		CreatedAt  string `db:"created_at"`
	}
	if err := c.q.Get("get-artifact", &row, string(id)); err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", id, err)
	}

	var a Artifact
	if err := msgpack.Unmarshal(row.Payload, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", id, err)
	}
	a.ID = types.ArtifactID(row.ID)
	a.CreatedAt = parseStoredTime(row.CreatedAt)
	return &a, nil
}

// ListArtifacts returns summaries for all stored artifacts, newest first.
func (c *Catalog) ListArtifacts() ([]ArtifactSummary, error) {
	var rows []struct {
		ID         string `db:"artifact_id"`
		ActionName string `db:"action_name"`
		Backend    string `db:"backend"`
		Entity     string `db:"entity"`
		CreatedAt  string `db:"created_at"`
	}
	if err := c.q.Select("list-artifacts", &rows); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	summaries := make([]ArtifactSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, ArtifactSummary{
			ID:         types.ArtifactID(r.ID),
			ActionName: r.ActionName,
			Backend:    r.Backend,
			Entity:     r.Entity,
			CreatedAt:  parseStoredTime(r.CreatedAt),
		})
	}
	return summaries, nil
}

// DeleteArtifact removes one artifact by ID.
func (c *Catalog) DeleteArtifact(id types.ArtifactID) error {
	if _, err := c.q.Exec("delete-artifact", string(id)); err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", id, err)
	}
	return nil
}

// SaveParseResult stores one reverse-parse outcome and returns its unit ID.
func (c *Catalog) SaveParseResult(sourceFile string, result types.ParseResult) (types.UnitID, error) {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode parse result: %w", err)
	}

	id := types.NewUnitID()
	createdAt := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	_, err = c.q.Exec("save-parse-result", string(id), sourceFile, result.IR.Name, result.Confidence, payload, createdAt)
	if err != nil {
		return "", fmt.Errorf("failed to save parse result: %w", err)
	}
	return id, nil
}

// GetParseResult loads one stored parse result by unit ID.
func (c *Catalog) GetParseResult(id types.UnitID) (*StoredParseResult, error) {
	var row struct {
		ID         string  `db:"result_id"`
		SourceFile string  `db:"source_file"`
		ActionName string  `db:"action_name"`
		Confidence float64 `db:"confidence"`
		Payload    []byte  `db:"payload"`
		CreatedAt  string  `db:"created_at"`
	}
	if err := c.q.Get("get-parse-result", &row, string(id)); err != nil {
		return nil, fmt.Errorf("failed to load parse result %s: %w", id, err)
	}

	var result types.ParseResult
	if err := msgpack.Unmarshal(row.Payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode parse result %s: %w", id, err)
	}
	return &StoredParseResult{
		ID:         types.UnitID(row.ID),
		SourceFile: row.SourceFile,
		Result:     result,
		CreatedAt:  parseStoredTime(row.CreatedAt),
	}, nil
}

// parseStoredTime decodes the stored UTC text format.
// Returns zero time for malformed values; caller should check IsZero().
func parseStoredTime(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
