package timers

import (
	"context"
	"database/sql"
)

// SQLStore reads timer definitions from Postgres.
type SQLStore struct {
	DB *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{DB: db} }

func (s *SQLStore) ActiveTimers(ctx context.Context, userID int64) ([]Timer, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, message, period FROM timers WHERE user_id = $1 AND active ORDER BY id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []Timer
	for rows.Next() {
		var t Timer
		if err := rows.Scan(&t.ID, &t.Message, &t.Period); err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}
