package postgres

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/pine-finance/relayer-svc/internal/data"
	"gitlab.com/distributed_lab/kit/pgdb"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const watermarksTable = "watermarks"

type watermarks struct {
	db *pgdb.DB
}

func NewWatermarks(db *pgdb.DB) data.Watermarks {
	return watermarks{db: db}
}

func (q watermarks) Get(strategy string) (*uint64, error) {
	var result struct {
		Block uint64 `db:"block"`
	}
	stmt := squirrel.Select("block").From(watermarksTable).
		Where(squirrel.Eq{"strategy": strategy})

	if err := q.db.Get(&result, stmt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to select watermark")
	}

	return &result.Block, nil
}

func (q watermarks) Set(strategy string, block uint64) error {
	stmt := squirrel.Insert(watermarksTable).
		Columns("strategy", "block").Values(strategy, block).
		// Never roll the watermark back once advanced.
		Suffix("ON CONFLICT (strategy) DO UPDATE SET block = GREATEST(watermarks.block, EXCLUDED.block)")
	err := q.db.Exec(stmt)
	return errors.Wrap(err, "failed to upsert watermark")
}
