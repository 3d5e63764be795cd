// Package oauth provides background refresh for per-user scope tokens persisted
// in the oauth_scope_tokens table. It performs jittered checks and refreshes
// rows whose expiry falls within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	dbpkg "github.com/dotalayer/companion/db"
)

// RefreshFunc performs the provider-specific refresh and returns the new token
// pair and expiry.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)

// StartRefresher launches a goroutine that periodically scans the given scope's
// token rows and refreshes the ones expiring within window.
func StartRefresher(ctx context.Context, db *sql.DB, scope string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshPass(ctx, db, scope, window, fn)
		}
	}()
}

func refreshPass(ctx context.Context, db *sql.DB, scope string, window time.Duration, fn RefreshFunc) {
	users, err := expiringUsers(ctx, db, scope, window)
	if err != nil {
		slog.Warn("token scan failed", slog.String("scope", scope), slog.Any("err", err))
		return
	}
	for _, userID := range users {
		_, rt, _, err := dbpkg.GetScopeToken(ctx, db, userID, scope)
		if err != nil {
			slog.Warn("token read failed", slog.String("scope", scope), slog.Int64("user", userID), slog.Any("err", err))
			continue
		}
		if rt == "" {
			continue
		}

		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		newAT, newRT, newExp, err := fn(ctx2, rt)
		cancel()
		if err != nil {
			slog.Warn("token refresh failed", slog.String("scope", scope), slog.Int64("user", userID), slog.Any("err", err))
			continue
		}
		if newRT == "" {
			newRT = rt
		}
		if err := dbpkg.UpsertScopeToken(ctx, db, userID, scope, newAT, newRT, newExp); err != nil {
			slog.Warn("token persist failed", slog.String("scope", scope), slog.Int64("user", userID), slog.Any("err", err))
			continue
		}
		slog.Info("token refreshed", slog.String("scope", scope), slog.Int64("user", userID))
	}
}

func expiringUsers(ctx context.Context, db *sql.DB, scope string, window time.Duration) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM oauth_scope_tokens
		  WHERE scope = $1
		    AND COALESCE(refresh_token, '') <> ''
		    AND expires_at IS NOT NULL
		    AND expires_at <= $2`,
		scope, time.Now().Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
