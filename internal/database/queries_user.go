package database

import (
	"context"

	"github.com/lib/pq"
)

const userColumns = "id, nickname, email, password_hash, image_url, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Nickname,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.ImageUrl,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (db *PgRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	ts := now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (nickname, email, password_hash, image_url, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+userColumns,
		params.Nickname,
		params.EmailAddress,
		params.PasswordHash,
		params.ImageUrl,
		ts,
		ts,
	)

	u, err := scanUser(row)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	return u, err
}

func (db *PgRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET nickname = $2, password_hash = $3, image_url = $4, updated_at = $5 "+
			"WHERE id = $1 RETURNING "+userColumns,
		params.UserId,
		params.Nickname,
		params.PasswordHash,
		params.ImageUrl,
		now(),
	)

	return scanUser(row)
}

func (db *PgRepository) GetUserById(ctx context.Context, userId int64) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 LIMIT 1",
		userId,
	)

	return scanUser(row)
}

func (db *PgRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1 LIMIT 1",
		email,
	)

	return scanUser(row)
}

func (db *PgRepository) ListUsersByIds(ctx context.Context, userIds []int64) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ANY($1) ORDER BY id",
		pq.Array(userIds),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, len(userIds))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}
