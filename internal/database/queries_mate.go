package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const matePostColumns = "p.id, p.writer_id, u.nickname, p.title, p.content, p.location_detail, " +
	"p.scheduled_date, p.start_time, p.end_time, p.skill_levels, p.recruitment_status, p.state, " +
	"p.created_at, p.updated_at"

func scanMatePost(row rowScanner) (MatePost, error) {
	var (
		p      MatePost
		levels pq.StringArray
	)
	err := row.Scan(
		&p.Id,
		&p.WriterId,
		&p.WriterNickname,
		&p.Title,
		&p.Content,
		&p.LocationDetail,
		&p.Schedule.Date,
		&p.Schedule.Start,
		&p.Schedule.End,
		&levels,
		&p.Status,
		&p.State,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return MatePost{}, err
	}

	p.SkillLevels = make([]SkillLevel, 0, len(levels))
	for _, l := range levels {
		p.SkillLevels = append(p.SkillLevels, SkillLevel(l))
	}

	return p, nil
}

func skillLevelArray(levels []SkillLevel) pq.StringArray {
	arr := make(pq.StringArray, 0, len(levels))
	for _, l := range levels {
		arr = append(arr, string(l))
	}
	return arr
}

func (db *PgRepository) CreateMatePost(ctx context.Context, params CreateMatePostParams) (MatePost, error) {
	var postId int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		ts := now()
		err := tx.QueryRowContext(ctx,
			"INSERT INTO mate_posts (writer_id, title, content, location_detail, scheduled_date, start_time, end_time, "+
				"skill_levels, recruitment_status, state, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', $10, $10) RETURNING id",
			params.WriterId,
			params.Title,
			params.Content,
			params.LocationDetail,
			params.Schedule.Date,
			params.Schedule.Start,
			params.Schedule.End,
			skillLevelArray(params.SkillLevels),
			StatusRecruiting,
			ts,
		).Scan(&postId)
		if err != nil {
			return fmt.Errorf("insert mate post: %w", err)
		}

		for _, pos := range Positions {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO mate_post_slots (mate_post_id, position, current_count, max_count) VALUES ($1, $2, 0, $3)",
				postId,
				pos,
				params.Slots[pos].Max,
			)
			if err != nil {
				return fmt.Errorf("insert slot %s: %w", pos, err)
			}
		}

		return nil
	})
	if err != nil {
		return MatePost{}, err
	}

	return db.GetMatePost(ctx, postId)
}

func (db *PgRepository) GetMatePost(ctx context.Context, postId int64) (MatePost, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+matePostColumns+" FROM mate_posts p JOIN users u ON u.id = p.writer_id WHERE p.id = $1 LIMIT 1",
		postId,
	)

	post, err := scanMatePost(row)
	if err != nil {
		return MatePost{}, err
	}

	slots, err := db.loadSlots(ctx, []int64{post.Id})
	if err != nil {
		return MatePost{}, err
	}
	post.Slots = slots[post.Id]

	return post, nil
}

// UpdateMatePost writes the editable fields and per-position maxima of post.
// A max below the stored occupancy aborts the whole update with
// ErrNoCapacity.
func (db *PgRepository) UpdateMatePost(ctx context.Context, post MatePost) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE mate_posts SET title = $2, content = $3, location_detail = $4, scheduled_date = $5, "+
				"start_time = $6, end_time = $7, skill_levels = $8, updated_at = $9 "+
				"WHERE id = $1 AND state = 'active'",
			post.Id,
			post.Title,
			post.Content,
			post.LocationDetail,
			post.Schedule.Date,
			post.Schedule.Start,
			post.Schedule.End,
			skillLevelArray(post.SkillLevels),
			now(),
		)
		if err != nil {
			return fmt.Errorf("update mate post: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sql.ErrNoRows
		}

		for pos, slot := range post.Slots {
			res, err := tx.ExecContext(ctx,
				"UPDATE mate_post_slots SET max_count = $3 "+
					"WHERE mate_post_id = $1 AND position = $2 AND current_count <= $3",
				post.Id,
				pos,
				slot.Max,
			)
			if err != nil {
				return fmt.Errorf("update slot %s: %w", pos, err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return ErrNoCapacity
			}
		}

		return nil
	})
}

// UpdateRecruitmentStatus moves an active post from one status to another.
// It returns sql.ErrNoRows when the post is gone or no longer in from.
func (db *PgRepository) UpdateRecruitmentStatus(ctx context.Context, postId int64, from, to RecruitmentStatus) error {
	return db.execOne(ctx,
		"UPDATE mate_posts SET recruitment_status = $3, updated_at = $4 "+
			"WHERE id = $1 AND state = 'active' AND recruitment_status = $2",
		postId,
		from,
		to,
		now(),
	)
}

func (db *PgRepository) SoftDeleteMatePost(ctx context.Context, postId int64) error {
	return db.execOne(ctx,
		"UPDATE mate_posts SET state = 'deleted', updated_at = $2 WHERE id = $1 AND state = 'active'",
		postId,
		now(),
	)
}

func (db *PgRepository) ListMatePostsBefore(ctx context.Context, before time.Time, limit int) ([]MatePost, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+matePostColumns+" FROM mate_posts p JOIN users u ON u.id = p.writer_id "+
			"WHERE p.created_at < $1 AND p.state = 'active' ORDER BY p.created_at DESC, p.id DESC LIMIT $2",
		before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]MatePost, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		p, err := scanMatePost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mate post: %w", err)
		}
		posts = append(posts, p)
		ids = append(ids, p.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return posts, nil
	}

	slots, err := db.loadSlots(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].Slots = slots[posts[i].Id]
	}

	return posts, nil
}

func (db *PgRepository) loadSlots(ctx context.Context, postIds []int64) (map[int64]Slots, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT mate_post_id, position, current_count, max_count FROM mate_post_slots WHERE mate_post_id = ANY($1)",
		pq.Array(postIds),
	)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]Slots, len(postIds))
	for rows.Next() {
		var (
			postId int64
			pos    Position
			slot   Slot
		)
		if err := rows.Scan(&postId, &pos, &slot.Current, &slot.Max); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		if result[postId] == nil {
			result[postId] = make(Slots, len(Positions))
		}
		result[postId][pos] = slot
	}

	return result, rows.Err()
}

const participantColumns = "pt.id, pt.mate_post_id, pt.user_id, u.nickname, pt.position, pt.state, pt.created_at, pt.updated_at"

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	err := row.Scan(
		&p.Id,
		&p.MatePostId,
		&p.UserId,
		&p.Nickname,
		&p.Position,
		&p.State,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

// AddParticipant claims one slot of position on the post and records the
// participation. A full position yields ErrNoCapacity; an existing active
// participation yields ErrDuplicate.
func (db *PgRepository) AddParticipant(ctx context.Context, postId, userId int64, position Position) (Participant, error) {
	var participantId int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE mate_post_slots SET current_count = current_count + 1 "+
				"WHERE mate_post_id = $1 AND position = $2 AND current_count < max_count",
			postId,
			position,
		)
		if err != nil {
			return fmt.Errorf("claim slot: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNoCapacity
		}

		ts := now()
		err = tx.QueryRowContext(ctx,
			"INSERT INTO participants (mate_post_id, user_id, position, state, created_at, updated_at) "+
				"VALUES ($1, $2, $3, 'active', $4, $4) RETURNING id",
			postId,
			userId,
			position,
			ts,
		).Scan(&participantId)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}

		return err
	})
	if err != nil {
		return Participant{}, err
	}

	return db.GetParticipant(ctx, participantId)
}

func (db *PgRepository) GetParticipant(ctx context.Context, participantId int64) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants pt JOIN users u ON u.id = pt.user_id WHERE pt.id = $1 LIMIT 1",
		participantId,
	)

	return scanParticipant(row)
}

// RemoveParticipant soft-deletes an active participation and releases its slot.
func (db *PgRepository) RemoveParticipant(ctx context.Context, participant Participant) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE participants SET state = 'deleted', updated_at = $2 WHERE id = $1 AND state = 'active'",
			participant.Id,
			now(),
		)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sql.ErrNoRows
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE mate_post_slots SET current_count = current_count - 1 "+
				"WHERE mate_post_id = $1 AND position = $2 AND current_count > 0",
			participant.MatePostId,
			participant.Position,
		)
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		return nil
	})
}

func (db *PgRepository) ListParticipants(ctx context.Context, postId int64) ([]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants pt JOIN users u ON u.id = pt.user_id "+
			"WHERE pt.mate_post_id = $1 AND pt.state = 'active' ORDER BY pt.id",
		postId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}
