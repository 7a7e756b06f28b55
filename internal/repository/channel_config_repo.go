package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mchango-payments/internal/domain"
)

type ChannelConfigRepository interface {
	// ListEnabled returns every enabled row for provider. Callers decide
	// what zero or several rows mean.
	ListEnabled(ctx context.Context, provider domain.Provider) ([]domain.ChannelConfigRecord, error)
}

type channelConfigRepo struct {
	db *pgxpool.Pool
}

func NewChannelConfigRepository(db *pgxpool.Pool) ChannelConfigRepository {
	return &channelConfigRepo{db: db}
}

func (r *channelConfigRepo) ListEnabled(ctx context.Context, provider domain.Provider) ([]domain.ChannelConfigRecord, error) {
	query := `
		SELECT id, provider, enabled, settings
		FROM payment_channel_configs
		WHERE provider = $1 AND enabled
		ORDER BY updated_at DESC
		LIMIT 2
	`

	rows, err := r.db.Query(ctx, query, provider)
	if err != nil {
		return nil, fmt.Errorf("query channel configs: %w", err)
	}
	defer rows.Close()

	var records []domain.ChannelConfigRecord
	for rows.Next() {
		var rec domain.ChannelConfigRecord
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Enabled, &rec.Settings); err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel configs: %w", err)
	}
	return records, nil
}
