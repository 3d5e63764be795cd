package betting

import (
	"context"
	"database/sql"

	dbpkg "github.com/dotalayer/companion/db"
)

// SQLStore is the Postgres-backed Store. Season statistics are computed at read
// time from the bets/bet_rounds join rather than maintained as counters.
type SQLStore struct {
	DB *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{DB: db} }

func (s *SQLStore) LastRoundNumber(ctx context.Context, seasonID int64) (int, error) {
	var n sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(round) FROM bet_rounds WHERE bet_season_id = $1`, seasonID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

func (s *SQLStore) CreateRound(ctx context.Context, seasonID, userID int64, round, chatters int) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO bet_rounds (bet_season_id, user_id, round, status, chatters)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		seasonID, userID, round, string(StatusBetting), chatters).Scan(&id)
	return id, err
}

func (s *SQLStore) PatchRound(ctx context.Context, roundID int64, status Status, result string) error {
	if result != "" {
		_, err := s.DB.ExecContext(ctx,
			`UPDATE bet_rounds SET status = $1, result = $2 WHERE id = $3`,
			string(status), result, roundID)
		return err
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE bet_rounds SET status = $1 WHERE id = $2`, string(status), roundID)
	return err
}

// SaveBet upserts the watcher row and inserts the wager. The unique constraint on
// (bet_round_id, watcher_id) backstops the in-memory duplicate check.
func (s *SQLStore) SaveBet(ctx context.Context, userID, roundID int64, bettor Bettor, side string) error {
	w, err := dbpkg.RequireWatcher(ctx, s.DB, bettor.TwitchID, bettor.DisplayName, bettor.Username, userID)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO bets (bet_round_id, watcher_id, bet)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (bet_round_id, watcher_id) DO NOTHING`,
		roundID, w.ID, side)
	return err
}

func (s *SQLStore) UserCommands(ctx context.Context, userID int64) ([]Command, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, command, message, type, active, COALESCE(identifier, '')
		   FROM commands WHERE user_id = $1 ORDER BY id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.ID, &c.Command, &c.Message, &c.Type, &c.Active, &c.Identifier); err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

func (s *SQLStore) SeasonStats(ctx context.Context, seasonID int64, username string) (SeasonStats, error) {
	var st SeasonStats
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE b.bet = r.result), COUNT(*)
		   FROM bets b
		   JOIN bet_rounds r ON r.id = b.bet_round_id
		   JOIN watchers w ON w.id = b.watcher_id
		  WHERE r.bet_season_id = $1
		    AND r.status = $2
		    AND LOWER(w.username) = LOWER($3)`,
		seasonID, string(StatusFinished), username).Scan(&st.Won, &st.Total)
	return st, err
}

func (s *SQLStore) SeasonToplist(ctx context.Context, seasonID int64) ([]ToplistEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT w.display_name, COUNT(*) FILTER (WHERE b.bet = r.result), COUNT(*)
		   FROM bets b
		   JOIN bet_rounds r ON r.id = b.bet_round_id
		   JOIN watchers w ON w.id = b.watcher_id
		  WHERE r.bet_season_id = $1
		    AND r.status = $2
		  GROUP BY w.display_name`,
		seasonID, string(StatusFinished))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ToplistEntry
	for rows.Next() {
		var e ToplistEntry
		if err := rows.Scan(&e.Name, &e.Won, &e.Total); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
