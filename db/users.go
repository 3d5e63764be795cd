package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Account statuses.
const (
	UserStatusActive = "active"
	UserStatusLocked = "locked"
)

// User is the broadcaster account owning a channel, its betting configuration,
// and its GSI credentials.
type User struct {
	ID                 int64
	TwitchID           string
	DisplayName        string
	Status             string
	GSIAuth            string
	GSIActive          bool
	FrameAPIKey        string
	UseAutomaticVoting bool
	UsePredictions     bool
	BetSeasonID        sql.NullInt64
	TeamAName          string
	TeamBName          string

	PredictionPlayingTitle     string
	PredictionPlayingOptionA   string
	PredictionPlayingOptionB   string
	PredictionObservingTitle   string
	PredictionObservingOptionA string
	PredictionObservingOptionB string
	PredictionDuration         int
}

// Channel returns the IRC channel owned by the user ("#" + lowercased display name).
func (u *User) Channel() string {
	return "#" + strings.ToLower(u.DisplayName)
}

const userColumns = `id, twitch_id, display_name, status, gsi_auth, gsi_active, frame_api_key,
	use_automatic_voting, use_predictions, bet_season_id, team_a_name, team_b_name,
	prediction_playing_title, prediction_playing_option_a, prediction_playing_option_b,
	prediction_observing_title, prediction_observing_option_a, prediction_observing_option_b,
	prediction_duration`

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.TwitchID, &u.DisplayName, &u.Status, &u.GSIAuth, &u.GSIActive,
		&u.FrameAPIKey, &u.UseAutomaticVoting, &u.UsePredictions, &u.BetSeasonID,
		&u.TeamAName, &u.TeamBName,
		&u.PredictionPlayingTitle, &u.PredictionPlayingOptionA, &u.PredictionPlayingOptionB,
		&u.PredictionObservingTitle, &u.PredictionObservingOptionA, &u.PredictionObservingOptionB,
		&u.PredictionDuration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UserByID loads a user by primary key; returns (nil, nil) when absent.
func UserByID(ctx context.Context, dbx *sql.DB, id int64) (*User, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// UserByGSIToken resolves the GSI auth token delivered by the game client.
func UserByGSIToken(ctx context.Context, dbx *sql.DB, token string) (*User, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE gsi_auth = $1`, token)
	return scanUser(row)
}

// UserByTrustedChannel maps an IRC channel ("#name") back to the owning account.
func UserByTrustedChannel(ctx context.Context, dbx *sql.DB, channel string) (*User, error) {
	name := strings.TrimPrefix(strings.ToLower(channel), "#")
	row := dbx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(display_name) = $1`, name)
	return scanUser(row)
}

// UserByFrameAPIKey resolves the overlay/frame API key used by websocket subscribers.
func UserByFrameAPIKey(ctx context.Context, dbx *sql.DB, key string) (*User, error) {
	if key == "" {
		return nil, nil
	}
	row := dbx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE frame_api_key = $1`, key)
	return scanUser(row)
}

// RequireUser loads the broadcaster account for a Twitch identity, creating it on
// first OAuth sign-in. New accounts get fresh GSI and frame API credentials.
func RequireUser(ctx context.Context, dbx *sql.DB, twitchID, displayName string) (*User, error) {
	row := dbx.QueryRowContext(ctx,
		`INSERT INTO users(twitch_id, display_name, gsi_auth, frame_api_key)
		 VALUES($1,$2,$3,$4)
		 ON CONFLICT(twitch_id) DO UPDATE SET display_name = EXCLUDED.display_name
		 RETURNING `+userColumns,
		twitchID, displayName, uuid.NewString(), uuid.NewString())
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("require user: %w", err)
	}
	return u, nil
}

// TrustedChannels lists the IRC channels of every active account; the chat bot
// joins these at startup.
func TrustedChannels(ctx context.Context, dbx *sql.DB) ([]string, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT display_name FROM users WHERE status = $1 ORDER BY id`, UserStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		channels = append(channels, "#"+strings.ToLower(name))
	}
	return channels, rows.Err()
}

// SetGSIActive flips the persisted telemetry-connected flag.
func SetGSIActive(ctx context.Context, dbx *sql.DB, userID int64, active bool) error {
	_, err := dbx.ExecContext(ctx, `UPDATE users SET gsi_active = $1 WHERE id = $2`, active, userID)
	return err
}

// Watcher is a chat participant's mapped identity within one broadcaster's channel.
type Watcher struct {
	ID          int64
	TwitchID    string
	UserID      int64
	DisplayName string
	Username    string
}

// RequireWatcher loads the watcher for (twitchID, userID), creating it lazily on first
// contact (first bet).
func RequireWatcher(ctx context.Context, dbx *sql.DB, twitchID, displayName, username string, userID int64) (*Watcher, error) {
	w := &Watcher{TwitchID: twitchID, UserID: userID, DisplayName: displayName, Username: username}
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO watchers(twitch_id, user_id, display_name, username)
		 VALUES($1,$2,$3,$4)
		 ON CONFLICT(twitch_id, user_id) DO UPDATE SET display_name=EXCLUDED.display_name, username=EXCLUDED.username
		 RETURNING id`, twitchID, userID, displayName, username).Scan(&w.ID)
	if err != nil {
		return nil, fmt.Errorf("require watcher: %w", err)
	}
	return w, nil
}

// SaveDotaGame records a personal win/loss result for the user.
func SaveDotaGame(ctx context.Context, dbx *sql.DB, userID int64, win bool) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO dota_games(user_id, win) VALUES($1,$2)`, userID, win)
	return err
}

// ClearUserStats deletes recorded games up to the given time and is used by the
// stats-reset notification path.
func ClearUserStats(ctx context.Context, dbx *sql.DB, userID int64) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM dota_games WHERE user_id = $1`, userID)
	return err
}
