package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// ResetDictionary empties the dictionary and restores the version 0 state.
func ResetDictionary(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	stmts := []string{
		`TRUNCATE dictionary_entries, dictionary_versions RESTART IDENTITY`,
		`INSERT INTO dictionary_versions (version, word_count, last_modified_at) VALUES (0, 0, now())`,
		`UPDATE dictionary_state SET version = 0, word_count = 0, history_horizon = 0, updated_at = now()`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("testhelper: ResetDictionary: %v", err)
		}
	}
}

// SeedWords commits one version that adds an entry per text, bypassing the
// service layer. Returns the new version number and the assigned ids in order.
func SeedWords(t *testing.T, pool *pgxpool.Pool, texts ...string) (int64, []int64) {
	t.Helper()
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("testhelper: SeedWords begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int64
	var wordCount int
	if err := tx.QueryRow(ctx,
		`SELECT version, word_count FROM dictionary_state FOR UPDATE`,
	).Scan(&version, &wordCount); err != nil {
		t.Fatalf("testhelper: SeedWords lock state: %v", err)
	}
	version++

	ids := make([]int64, 0, len(texts))
	for _, text := range texts {
		attrs, _ := json.Marshal(domain.Attributes{domain.AttrText: text})
		var id int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO dictionary_entries (text_normalized, attributes, introduced_at_version, last_modified_version)
			 VALUES ($1, $2, $3, $3) RETURNING id`,
			domain.NormalizeText(text), string(attrs), version,
		).Scan(&id); err != nil {
			t.Fatalf("testhelper: SeedWords insert %q: %v", text, err)
		}
		ids = append(ids, id)
	}

	wordCount += len(texts)
	now := time.Now().UTC().Truncate(time.Microsecond)
	if _, err := tx.Exec(ctx,
		`INSERT INTO dictionary_versions (version, word_count, last_modified_at) VALUES ($1, $2, $3)`,
		version, wordCount, now,
	); err != nil {
		t.Fatalf("testhelper: SeedWords insert version: %v", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE dictionary_state SET version = $1, word_count = $2, updated_at = $3`,
		version, wordCount, now,
	); err != nil {
		t.Fatalf("testhelper: SeedWords update state: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("testhelper: SeedWords commit: %v", err)
	}
	return version, ids
}
