package agent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/memo"
	"github.com/smartbi/analyst/pkg/models"
)

// DefaultSchemaTTL bounds how long a filtered descriptor is reused.
const DefaultSchemaTTL = 5 * time.Minute

// SchemaAgent introspects a datasource and narrows the descriptor to the
// tables plausibly relevant to the question. Results are memoized per
// (datasource id, question digest) for a short TTL.
type SchemaAgent struct {
	pool  *pool.Manager
	cache *memo.Cache[models.SchemaDescriptor]
	log   *slog.Logger
	ttl   time.Duration
}

// NewSchemaAgent creates the agent. A zero ttl uses DefaultSchemaTTL.
func NewSchemaAgent(poolManager *pool.Manager, ttl time.Duration) *SchemaAgent {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &SchemaAgent{
		pool:  poolManager,
		cache: memo.NewCache[models.SchemaDescriptor](ttl),
		log:   slog.With("component", "schema_agent"),
		ttl:   ttl,
	}
}

// Close stops the cache's expiration loop.
func (a *SchemaAgent) Close() { a.cache.Stop() }

// Invalidate drops cached descriptors after a datasource change. The
// cache keys carry a question digest, so eviction is whole-cache: cheap
// and always correct.
func (a *SchemaAgent) Invalidate() {
	a.cache.DeleteAll()
}

// Descriptor returns the schema filtered for the question. Concurrent
// calls for the same (datasource, question) share a single introspection.
func (a *SchemaAgent) Descriptor(ctx context.Context, ds *models.Datasource, question string) (models.SchemaDescriptor, error) {
	fingerprint := memo.Fingerprint("schema", ds.ID, strings.ToLower(strings.TrimSpace(question)))
	return a.cache.GetOrCompute(ctx, fingerprint, a.ttl, func(ctx context.Context) (models.SchemaDescriptor, error) {
		lease, err := a.pool.Acquire(ctx, ds)
		if err != nil {
			return models.SchemaDescriptor{}, err
		}
		defer lease.Release()

		schema, err := lease.Adapter().Introspect(ctx)
		if err != nil {
			lease.Discard()
			return models.SchemaDescriptor{}, err
		}

		filtered := filterSchema(*schema, question)
		a.log.Debug("Schema resolved",
			"datasource_id", ds.ID,
			"tables_total", len(schema.Tables),
			"tables_kept", len(filtered.Tables))
		return filtered, nil
	})
}

// filterSchema ranks tables by token overlap with the question, pulls in
// foreign-key neighbors of the matches, and drops the rest. A question
// that matches nothing keeps the full schema.
func filterSchema(schema models.SchemaDescriptor, question string) models.SchemaDescriptor {
	terms := questionTerms(question)
	if len(terms) == 0 {
		return schema
	}

	scores := make(map[string]int, len(schema.Tables))
	for _, table := range schema.Tables {
		scores[table.Name] = overlapScore(&table, terms)
	}

	// FK proximity: a table referenced by (or referencing) a matching
	// table is worth keeping even with no direct overlap.
	neighbors := make(map[string]bool)
	for _, table := range schema.Tables {
		for _, col := range table.Columns {
			if col.ForeignKey == nil {
				continue
			}
			if scores[table.Name] > 0 {
				neighbors[col.ForeignKey.Table] = true
			}
			if scores[col.ForeignKey.Table] > 0 {
				neighbors[table.Name] = true
			}
		}
	}

	matched := false
	for _, s := range scores {
		if s > 0 {
			matched = true
			break
		}
	}
	if !matched {
		return schema
	}

	kept := make([]models.Table, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		if scores[table.Name] > 0 || neighbors[table.Name] {
			kept = append(kept, table)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return scores[kept[i].Name] > scores[kept[j].Name]
	})
	return models.SchemaDescriptor{Tables: kept, Dialect: schema.Dialect}
}

// questionTerms lowercases and splits the question, dropping one-rune
// noise tokens.
func questionTerms(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}

// overlapScore counts question terms appearing in the table name or its
// column names; table-name hits weigh double.
func overlapScore(table *models.Table, terms []string) int {
	name := strings.ToLower(table.Name)
	score := 0
	for _, term := range terms {
		if strings.Contains(name, term) || strings.Contains(term, name) {
			score += 2
		}
		for _, col := range table.Columns {
			if strings.Contains(strings.ToLower(col.Name), term) {
				score++
			}
		}
	}
	return score
}
