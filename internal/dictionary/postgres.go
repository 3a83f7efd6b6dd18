package dictionary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/pkg/postgres"
	"github.com/lib/pq"
)

// Postgres resolves terms from a dictionary table:
//
//	CREATE TABLE term_dictionary (
//	    term           TEXT PRIMARY KEY,
//	    term_type      TEXT NOT NULL,
//	    term_count     BIGINT NOT NULL,
//	    document_count BIGINT NOT NULL,
//	    block_id       BIGINT NOT NULL,
//	    field_ids      INTEGER[] NOT NULL DEFAULT '{}'
//	);
//
// Terms are stored in their Normalize form.
type Postgres struct {
	db     *sql.DB
	query  string
	upsert string
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, table string) *Postgres {
	return &Postgres{
		db:     db,
		query:  lookupQuery(table),
		upsert: upsertQuery(table),
		logger: slog.Default().With("component", "postgres-dictionary", "table", table),
	}
}

func upsertQuery(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (term, term_type, term_count, document_count, block_id, field_ids)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (term) DO UPDATE SET term_type = EXCLUDED.term_type, term_count = EXCLUDED.term_count,
document_count = EXCLUDED.document_count, block_id = EXCLUDED.block_id, field_ids = EXCLUDED.field_ids`,
		pq.QuoteIdentifier(table),
	)
}

func lookupQuery(table string) string {
	return fmt.Sprintf(
		"SELECT term_type, term_count, document_count, block_id, field_ids FROM %s WHERE term = $1",
		pq.QuoteIdentifier(table),
	)
}

func (p *Postgres) Lookup(ctx context.Context, term string, fields *bitset.BitSet) (TermInfo, error) {
	var (
		termType      string
		termCount     int64
		documentCount int64
		blockID       int64
		fieldIDs      []int64
	)
	err := p.db.QueryRowContext(ctx, p.query, Normalize(term)).
		Scan(&termType, &termCount, &documentCount, &blockID, pq.Array(&fieldIDs))
	if errors.Is(err, sql.ErrNoRows) {
		return TermInfo{}, ErrTermNotFound
	}
	if err != nil {
		return TermInfo{}, fmt.Errorf("querying term %q: %w", term, err)
	}
	info, err := rowToTermInfo(termType, termCount, documentCount, blockID, fieldIDs)
	if err != nil {
		p.logger.Error("invalid dictionary row", "term", term, "error", err)
		return TermInfo{}, fmt.Errorf("term %q: %w", term, err)
	}
	if !OccursIn(info, fields) {
		return TermInfo{}, ErrTermDoesNotOccur
	}
	return info, nil
}

func rowToTermInfo(termType string, termCount, documentCount, blockID int64, fieldIDs []int64) (TermInfo, error) {
	tt, err := ParseTermType(termType)
	if err != nil {
		return TermInfo{}, err
	}
	if termCount < 0 || termCount > 0xFFFFFFFF || documentCount < 0 || documentCount > 0xFFFFFFFF {
		return TermInfo{}, fmt.Errorf("counts out of range: term_count=%d document_count=%d", termCount, documentCount)
	}
	if blockID < 0 {
		return TermInfo{}, fmt.Errorf("negative block id %d", blockID)
	}
	info := TermInfo{
		Type:          tt,
		TermCount:     uint32(termCount),
		DocumentCount: uint32(documentCount),
		BlockID:       uint64(blockID),
	}
	for _, id := range fieldIDs {
		if id < 0 || id > 0xFFFFFFFF {
			return TermInfo{}, fmt.Errorf("field id %d out of range", id)
		}
		info.Fields = append(info.Fields, uint32(id))
	}
	return info, nil
}

// Publish upserts entries in a single transaction, so readers see either the
// previous dictionary or the complete new one.
func (p *Postgres) Publish(ctx context.Context, entries []Entry) error {
	err := postgres.InTx(ctx, p.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, p.upsert)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			fieldIDs := make([]int64, len(e.Info.Fields))
			for i, id := range e.Info.Fields {
				fieldIDs[i] = int64(id)
			}
			if _, err := stmt.ExecContext(ctx,
				Normalize(e.Term), e.Info.Type.String(), int64(e.Info.TermCount),
				int64(e.Info.DocumentCount), int64(e.Info.BlockID), pq.Array(fieldIDs),
			); err != nil {
				return fmt.Errorf("upserting term %q: %w", e.Term, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("dictionary published", "terms", len(entries))
	return nil
}
