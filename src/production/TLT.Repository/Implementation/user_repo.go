package implementation

import (
	"context"
	"database/sql"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) FindPushToken(ctx context.Context, email string) (string, error) {
	query := `SELECT fcm_token FROM users WHERE email = $1`

	var token sql.NullString
	err := r.db.QueryRowContext(ctx, query, email).Scan(&token)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	if !token.Valid {
		return "", nil
	}
	return token.String, nil
}

func (r *PostgresUserRepository) ClearPushToken(ctx context.Context, email string) error {
	query := `UPDATE users SET fcm_token = NULL WHERE email = $1`
	_, err := r.db.ExecContext(ctx, query, email)
	return err
}
