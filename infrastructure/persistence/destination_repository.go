package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"crosspost/domain/model"
)

// DestinationRepository is the PostgreSQL destination store: one row per
// (user, platform), account list and token extras as JSON columns.
type DestinationRepository struct{ db *sql.DB }

func NewDestinationRepository(db *sql.DB) *DestinationRepository {
	return &DestinationRepository{db: db}
}

const destinationColumns = `id, user_id, platform, client_id, client_secret,
	access_token, access_expires_at, refresh_token, refresh_expires_at,
	extra, accounts, is_enabled, created_at, updated_at`

func (r *DestinationRepository) GetAll(ctx context.Context, userID string) ([]*model.DestinationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE user_id=$1 ORDER BY platform`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DestinationRecord
	for rows.Next() {
		rec, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *DestinationRepository) Get(ctx context.Context, userID, platform string) (*model.DestinationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE user_id=$1 AND platform=$2`, userID, platform)
	rec, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *DestinationRepository) Upsert(ctx context.Context, rec *model.DestinationRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	extra, accounts, err := marshalJSONColumns(rec)
	if err != nil {
		return err
	}
	q := `INSERT INTO destinations (user_id, platform, client_id, client_secret,
			access_token, access_expires_at, refresh_token, refresh_expires_at,
			extra, accounts, is_enabled, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		  ON CONFLICT (user_id, platform) DO UPDATE SET
			client_id=EXCLUDED.client_id,
			client_secret=EXCLUDED.client_secret,
			access_token=EXCLUDED.access_token,
			access_expires_at=EXCLUDED.access_expires_at,
			refresh_token=EXCLUDED.refresh_token,
			refresh_expires_at=EXCLUDED.refresh_expires_at,
			extra=EXCLUDED.extra,
			accounts=EXCLUDED.accounts,
			is_enabled=EXCLUDED.is_enabled,
			updated_at=EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, q,
		rec.UserID, rec.Platform, rec.Credentials.ClientID, rec.Credentials.ClientSecret,
		rec.Authorization.AccessToken, nullableTime(rec.Authorization.AccessTokenExpiresAt),
		rec.Authorization.RefreshToken, nullableZeroTime(rec.Authorization.RefreshTokenExpiresAt),
		extra, accounts, rec.IsEnabled, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r *DestinationRepository) SetEnabled(ctx context.Context, userID, platform string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE destinations SET is_enabled=$1, updated_at=$2 WHERE user_id=$3 AND platform=$4`,
		enabled, time.Now().UTC(), userID, platform)
	return err
}

func (r *DestinationRepository) ClearAuthorization(ctx context.Context, userID, platform string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE destinations SET access_token='', access_expires_at=NULL, refresh_token='',
			refresh_expires_at=NULL, extra='{}', accounts='[]', updated_at=$1
		 WHERE user_id=$2 AND platform=$3`,
		time.Now().UTC(), userID, platform)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDestination(row rowScanner) (*model.DestinationRecord, error) {
	rec := &model.DestinationRecord{}
	var accessExp, refreshExp sql.NullTime
	var clientSecret, accessToken, refreshToken sql.NullString
	var extraRaw, accountsRaw []byte
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Platform,
		&rec.Credentials.ClientID, &clientSecret,
		&accessToken, &accessExp, &refreshToken, &refreshExp,
		&extraRaw, &accountsRaw, &rec.IsEnabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Credentials.ClientSecret = clientSecret.String
	rec.Authorization.AccessToken = accessToken.String
	rec.Authorization.RefreshToken = refreshToken.String
	if accessExp.Valid {
		t := accessExp.Time
		rec.Authorization.AccessTokenExpiresAt = &t
	}
	if refreshExp.Valid {
		rec.Authorization.RefreshTokenExpiresAt = refreshExp.Time
	}
	if len(extraRaw) > 0 {
		if err := json.Unmarshal(extraRaw, &rec.Authorization.Extra); err != nil {
			return nil, err
		}
	}
	if len(accountsRaw) > 0 {
		if err := json.Unmarshal(accountsRaw, &rec.Accounts); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func marshalJSONColumns(rec *model.DestinationRecord) (extra, accounts []byte, err error) {
	e := rec.Authorization.Extra
	if e == nil {
		e = map[string]string{}
	}
	extra, err = json.Marshal(e)
	if err != nil {
		return nil, nil, err
	}
	a := rec.Accounts
	if a == nil {
		a = []model.Account{}
	}
	accounts, err = json.Marshal(a)
	if err != nil {
		return nil, nil, err
	}
	return extra, accounts, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
