package postgres

import (
	"context"
	"fmt"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// DirectoryRepository resolves rider and club display names.
type DirectoryRepository struct {
	conn Querier
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(conn Querier) *DirectoryRepository {
	return &DirectoryRepository{conn: conn}
}

// Names implements ranking.NameDirectory. Unknown ids are absent from the map.
func (r *DirectoryRepository) Names(ctx context.Context, kind ranking.EntityKind, ids []int64) (names map[int64]string, err error) {
	names = make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	query := `SELECT id, TRIM(first_name || ' ' || last_name) FROM riders WHERE id = ANY($1)`
	table := "riders"
	if kind == ranking.KindClub {
		query = `SELECT id, name FROM clubs WHERE id = ANY($1)`
		table = "clubs"
	}

	ctx, end := tracing.StartDBSpan(ctx, table, "names")
	defer func() { end(err) }()

	rows, err := r.conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s names: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
