package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crosspost/domain/model"
)

// DestinationRepositoryMSSQL is the SQL Server counterpart of
// DestinationRepository (Azure SQL in production).
type DestinationRepositoryMSSQL struct{ db *sql.DB }

func NewDestinationRepositoryMSSQL(db *sql.DB) *DestinationRepositoryMSSQL {
	return &DestinationRepositoryMSSQL{db: db}
}

// EnsureDestinationSchemaMSSQL creates the destinations table for SQL Server
// if it does not exist.
func EnsureDestinationSchemaMSSQL(db *sql.DB) error {
	ddl := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.destinations') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[destinations] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        user_id NVARCHAR(128) NOT NULL,
        platform NVARCHAR(64) NOT NULL,
        client_id NVARCHAR(512) NOT NULL,
        client_secret NVARCHAR(512) NULL,
        access_token NVARCHAR(MAX) NULL,
        access_expires_at DATETIME2 NULL,
        refresh_token NVARCHAR(MAX) NULL,
        refresh_expires_at DATETIME2 NULL,
        extra NVARCHAR(MAX) NOT NULL DEFAULT '{}',
        accounts NVARCHAR(MAX) NOT NULL DEFAULT '[]',
        is_enabled BIT NOT NULL DEFAULT 0,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_destinations_user_platform ON dbo.[destinations](user_id, platform);
END`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create destinations (mssql): %w", err)
	}
	return nil
}

func (r *DestinationRepositoryMSSQL) GetAll(ctx context.Context, userID string) ([]*model.DestinationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE user_id=@p1 ORDER BY platform`, userID)
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

func (r *DestinationRepositoryMSSQL) Get(ctx context.Context, userID, platform string) (*model.DestinationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE user_id=@p1 AND platform=@p2`, userID, platform)
	rec, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *DestinationRepositoryMSSQL) Upsert(ctx context.Context, rec *model.DestinationRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	extra, accounts, err := marshalJSONColumns(rec)
	if err != nil {
		return err
	}
	q := `MERGE dbo.[destinations] AS target
USING (SELECT @p1 AS user_id, @p2 AS platform) AS source
ON target.user_id = source.user_id AND target.platform = source.platform
WHEN MATCHED THEN UPDATE SET
    client_id=@p3, client_secret=@p4,
    access_token=@p5, access_expires_at=@p6,
    refresh_token=@p7, refresh_expires_at=@p8,
    extra=@p9, accounts=@p10, is_enabled=@p11, updated_at=@p13
WHEN NOT MATCHED THEN INSERT
    (user_id, platform, client_id, client_secret, access_token, access_expires_at,
     refresh_token, refresh_expires_at, extra, accounts, is_enabled, created_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11,@p12,@p13);`
	_, err = r.db.ExecContext(ctx, q,
		rec.UserID, rec.Platform, rec.Credentials.ClientID, rec.Credentials.ClientSecret,
		rec.Authorization.AccessToken, nullableTime(rec.Authorization.AccessTokenExpiresAt),
		rec.Authorization.RefreshToken, nullableZeroTime(rec.Authorization.RefreshTokenExpiresAt),
		string(extra), string(accounts), rec.IsEnabled, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r *DestinationRepositoryMSSQL) SetEnabled(ctx context.Context, userID, platform string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE destinations SET is_enabled=@p1, updated_at=@p2 WHERE user_id=@p3 AND platform=@p4`,
		enabled, time.Now().UTC(), userID, platform)
	return err
}

func (r *DestinationRepositoryMSSQL) ClearAuthorization(ctx context.Context, userID, platform string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE destinations SET access_token='', access_expires_at=NULL, refresh_token='',
			refresh_expires_at=NULL, extra='{}', accounts='[]', updated_at=@p1
		 WHERE user_id=@p2 AND platform=@p3`,
		time.Now().UTC(), userID, platform)
	return err
}
