package database

import (
	"context"
	"database/sql"
	"fmt"
)

const membershipColumns = "m.id, m.user_id, m.chat_room_id, m.room_type, COALESCE(r.name, ''), " +
	"m.read_index, m.is_first, m.state, m.image_url, m.created_at, m.updated_at"

func scanMembership(row rowScanner) (Membership, error) {
	var m Membership
	err := row.Scan(
		&m.Id,
		&m.UserId,
		&m.RoomId,
		&m.RoomType,
		&m.RoomName,
		&m.ReadIndex,
		&m.IsFirst,
		&m.State,
		&m.ImageUrl,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func (db *PgRepository) CreateChatRoom(ctx context.Context, params CreateChatRoomParams) (ChatRoom, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO chat_rooms (room_type, name, created_at) VALUES ($1, $2, $3) "+
			"RETURNING id, room_type, COALESCE(name, ''), created_at",
		params.RoomType,
		nullString(params.Name),
		now(),
	)

	var room ChatRoom
	err := row.Scan(&room.Id, &room.RoomType, &room.Name, &room.CreatedAt)
	return room, err
}

func (db *PgRepository) GetChatRoom(ctx context.Context, roomId int64) (ChatRoom, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, room_type, COALESCE(name, ''), created_at FROM chat_rooms WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room ChatRoom
	err := row.Scan(&room.Id, &room.RoomType, &room.Name, &room.CreatedAt)
	return room, err
}

func (db *PgRepository) GetActiveMembership(ctx context.Context, userId, roomId int64) (Membership, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM user_chat_rooms m "+
			"JOIN chat_rooms r ON r.id = m.chat_room_id "+
			"WHERE m.user_id = $1 AND m.chat_room_id = $2 AND m.state = $3 LIMIT 1",
		userId,
		roomId,
		StateActive,
	)

	return scanMembership(row)
}

const createMembershipQuery = "INSERT INTO user_chat_rooms " +
	"(user_id, chat_room_id, room_type, read_index, is_first, state, image_url, created_at, updated_at) " +
	"VALUES ($1, $2, $3, 0, TRUE, 'active', $4, $5, $5) "

func (db *PgRepository) CreateMembership(ctx context.Context, params CreateMembershipParams) (Membership, error) {
	row := db.conn.QueryRowContext(ctx,
		createMembershipQuery+
			"RETURNING id, user_id, chat_room_id, room_type, read_index, is_first, state, image_url, created_at, updated_at",
		params.UserId,
		params.RoomId,
		params.RoomType,
		params.ImageUrl,
		now(),
	)

	var m Membership
	err := row.Scan(
		&m.Id,
		&m.UserId,
		&m.RoomId,
		&m.RoomType,
		&m.ReadIndex,
		&m.IsFirst,
		&m.State,
		&m.ImageUrl,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return Membership{}, ErrDuplicate
	}

	return m, err
}

// CreateMemberships inserts a first-join membership for each user in a
// single transaction. Users that already hold an active membership in the
// room are skipped. It returns the number of rows inserted.
func (db *PgRepository) CreateMemberships(ctx context.Context, room ChatRoom, users []User) (int, error) {
	var inserted int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			createMembershipQuery+"ON CONFLICT (user_id, chat_room_id) WHERE state = 'active' DO NOTHING",
		)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		ts := now()
		for _, u := range users {
			res, err := stmt.ExecContext(ctx, u.Id, room.Id, room.RoomType, u.ImageUrl, ts)
			if err != nil {
				return fmt.Errorf("insert membership for user %d: %w", u.Id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}

		return nil
	})

	return inserted, err
}

func (db *PgRepository) MarkRejoined(ctx context.Context, membershipId int64) error {
	return db.execOne(ctx,
		"UPDATE user_chat_rooms SET is_first = FALSE, updated_at = $2 WHERE id = $1 AND state = 'active'",
		membershipId,
		now(),
	)
}

func (db *PgRepository) UpdateReadIndex(ctx context.Context, membershipId, readIndex int64) error {
	return db.execOne(ctx,
		"UPDATE user_chat_rooms SET read_index = $2, updated_at = $3 WHERE id = $1 AND state = 'active'",
		membershipId,
		readIndex,
		now(),
	)
}

func (db *PgRepository) SoftDeleteMembership(ctx context.Context, membershipId int64) error {
	return db.execOne(ctx,
		"UPDATE user_chat_rooms SET state = 'deleted', updated_at = $2 WHERE id = $1 AND state = 'active'",
		membershipId,
		now(),
	)
}

func (db *PgRepository) ListActiveMembershipsByUser(ctx context.Context, userId int64) ([]Membership, error) {
	return db.listMemberships(ctx,
		"SELECT "+membershipColumns+" FROM user_chat_rooms m "+
			"JOIN chat_rooms r ON r.id = m.chat_room_id "+
			"WHERE m.user_id = $1 AND m.state = 'active' ORDER BY m.id",
		userId,
	)
}

func (db *PgRepository) ListActiveMembershipsByRoom(ctx context.Context, roomId int64) ([]Membership, error) {
	return db.listMemberships(ctx,
		"SELECT "+membershipColumns+" FROM user_chat_rooms m "+
			"JOIN chat_rooms r ON r.id = m.chat_room_id "+
			"WHERE m.chat_room_id = $1 AND m.state = 'active' ORDER BY m.id",
		roomId,
	)
}

func (db *PgRepository) listMemberships(ctx context.Context, query string, arg int64) ([]Membership, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memberships := make([]Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (chat_room_id, sender_id, sender_nickname, content, creation_time) "+
			"VALUES ($1, $2, $3, $4, $5) "+
			"RETURNING id, chat_room_id, sender_id, sender_nickname, content, creation_time",
		params.RoomId,
		params.SenderId,
		params.SenderNickname,
		params.Content,
		params.CreationTime,
	)

	return scanMessage(row)
}

func (db *PgRepository) GetLastMessage(ctx context.Context, roomId int64) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, chat_room_id, sender_id, sender_nickname, content, creation_time FROM messages "+
			"WHERE chat_room_id = $1 ORDER BY id DESC LIMIT 1",
		roomId,
	)

	return scanMessage(row)
}

func (db *PgRepository) ListMessagesAfter(ctx context.Context, roomId, afterId int64, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, chat_room_id, sender_id, sender_nickname, content, creation_time FROM messages "+
			"WHERE chat_room_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3",
		roomId,
		afterId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderNickname,
		&msg.Content,
		&msg.CreationTime,
	)
	return msg, err
}

// execOne runs an UPDATE that must touch exactly one row, returning
// sql.ErrNoRows otherwise.
func (db *PgRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}
