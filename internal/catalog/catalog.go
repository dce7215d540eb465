// Package catalog provides the problem catalog cursor and seeding.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tutorstack/mathchat/internal/domain"
	"github.com/tutorstack/mathchat/internal/store"
)

// Cursor hands out catalog problems at most once per user per tier. The
// exclusion set lives in the store; selection and marking share a single
// store transaction, so repeated or concurrent calls never repeat a problem.
type Cursor struct {
	repo store.Repository
}

// NewCursor creates a catalog cursor over the given repository.
func NewCursor(repo store.Repository) *Cursor {
	return &Cursor{repo: repo}
}

// Next returns the first unserved problem in (category, topic) for the user,
// marking it used before returning. Returns (nil, nil) when the tier is
// exhausted for this user.
func (c *Cursor) Next(ctx context.Context, userID string, category domain.Category, topic string) (*domain.Problem, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	p, err := c.repo.NextUnusedProblem(ctx, userID, category, topic)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("next unused problem: %w", err)
	}
	return p, nil
}

// Lookup resolves a problem by catalog id. The hint tier is checked first;
// when it is empty or misses, every tier is searched in stable order. Problem
// ids are assumed unique across tiers.
func (c *Cursor) Lookup(ctx context.Context, problemID string, hint domain.Category) (*domain.Problem, error) {
	if hint.Valid() {
		p, err := c.repo.GetProblem(ctx, hint, problemID)
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("lookup problem in %s: %w", hint, err)
		}
		if p != nil {
			return p, nil
		}
	}
	p, err := c.repo.FindProblem(ctx, problemID)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("find problem: %w", err)
	}
	return p, nil
}

// Take resolves a problem by id the way Lookup does, then adds it to the
// user's exclusion set so a later Next cannot serve it again.
func (c *Cursor) Take(ctx context.Context, userID, problemID string, hint domain.Category) (*domain.Problem, error) {
	p, err := c.Lookup(ctx, problemID, hint)
	if err != nil || p == nil {
		return p, err
	}
	if err := c.repo.MarkProblemUsed(ctx, userID, p.Category, p.ID); err != nil && !errors.Is(err, store.ErrUnavailable) {
		return nil, fmt.Errorf("mark selected problem used: %w", err)
	}
	return p, nil
}

// seedFile is the on-disk catalog format.
type seedFile struct {
	Problems []domain.Problem `json:"problems"`
}

// Seed loads catalog records from a JSON file when the catalog is empty. A
// missing file is not an error; the service runs with whatever the catalog
// already holds.
func Seed(ctx context.Context, repo store.Repository, path string) error {
	count, err := repo.CountProblems(ctx)
	if err != nil {
		return fmt.Errorf("count problems: %w", err)
	}
	if count > 0 {
		slog.Info("Problem catalog already populated", "problems", count)
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Catalog seed file not found, starting with empty catalog", "path", path)
			return nil
		}
		return fmt.Errorf("read catalog seed: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse catalog seed: %w", err)
	}

	valid := seed.Problems[:0]
	for _, p := range seed.Problems {
		if p.ID == "" || !p.Category.Valid() {
			slog.Warn("Skipping malformed catalog entry", "problem_id", p.ID, "category", p.Category)
			continue
		}
		valid = append(valid, p)
	}

	if err := repo.InsertProblems(ctx, valid); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	slog.Info("Problem catalog seeded", "problems", len(valid), "path", path)
	return nil
}
