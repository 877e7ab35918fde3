package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/okian/courtside/internal/domain/model"
)

// ResultsTable is the hosted table holding one row per result.
const ResultsTable = "analysis_results"

// resultRow maps to the analysis_results table. The whole result is kept in
// the data column in the shape clients read back.
type resultRow struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// PostgrestPersister stores results in a Supabase/PostgREST table.
type PostgrestPersister struct {
	client *postgrest.Client
}

// NewPostgrest connects to the REST endpoint under baseURL with a service key.
func NewPostgrest(baseURL, key string) (*PostgrestPersister, error) {
	client := postgrest.NewClient(strings.TrimRight(baseURL, "/")+"/rest/v1", "", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("init postgrest client: %w", client.ClientError)
	}
	return &PostgrestPersister{client: client}, nil
}

// Save upserts the result row keyed by id.
func (p *PostgrestPersister) Save(_ context.Context, userID string, result *model.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", result.ID, err)
	}
	row := resultRow{
		ID:        result.ID,
		UserID:    userID,
		Data:      data,
		CreatedAt: createdAt(result),
	}
	if _, _, err := p.client.From(ResultsTable).Upsert(row, "id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("upsert result %s: %w", result.ID, connErr(err))
	}
	return nil
}

// History reads a user's rows newest first.
func (p *PostgrestPersister) History(_ context.Context, userID string, limit int) ([]*model.AnalysisResult, error) {
	q := p.client.From(ResultsTable).
		Select("data", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		q = q.Limit(limit, "")
	}
	var rows []resultRow
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("load history: %w", connErr(err))
	}
	return decodeRows(rows)
}

// Name implements Persister.
func (p *PostgrestPersister) Name() string { return BackendPostgrest }

// Close implements Persister.
func (p *PostgrestPersister) Close() error { return nil }

func decodeRows(rows []resultRow) ([]*model.AnalysisResult, error) {
	out := make([]*model.AnalysisResult, 0, len(rows))
	for _, row := range rows {
		var r model.AnalysisResult
		if err := json.Unmarshal(row.Data, &r); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", model.ErrParse)
		}
		out = append(out, &r)
	}
	return out, nil
}

// createdAt orders rows by the result date, falling back to now.
func createdAt(r *model.AnalysisResult) time.Time {
	if t, err := time.Parse(time.RFC3339, r.Date); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func connErr(err error) error {
	return fmt.Errorf("%w: %w", model.ErrConnection, err)
}
