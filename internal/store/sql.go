package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"groupbot/internal/identity"
)

// SQLStore keeps groups in one table. On postgres a mutation locks its row with
// SELECT ... FOR UPDATE; on SQLite the single connection serializes them.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

const selectGroup = `SELECT id, name, owner_phone, admins, members, settings, created_at, updated_at FROM groups`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var (
		rec                          record
		admins, members, settingsRaw string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.OwnerPhone, &admins, &members, &settingsRaw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return record{}, err
	}
	if err := json.Unmarshal([]byte(admins), &rec.Admins); err != nil {
		return record{}, fmt.Errorf("decode admins of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(members), &rec.Members); err != nil {
		return record{}, fmt.Errorf("decode members of %s: %w", rec.ID, err)
	}
	if settingsRaw != "" {
		if err := json.Unmarshal([]byte(settingsRaw), &rec.Settings); err != nil {
			return record{}, fmt.Errorf("decode settings of %s: %w", rec.ID, err)
		}
	}
	rec.ensureSets()
	return rec, nil
}

func (s *SQLStore) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *SQLStore) Get(ctx context.Context, groupID string) (Group, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.q(selectGroup+` WHERE id=?`), groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("get group %s: %w", groupID, err)
	}
	return rec.group(), nil
}

func (s *SQLStore) List(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, selectGroup+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]Group, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, rec.group())
	}
	return groups, rows.Err()
}

func (s *SQLStore) Replace(ctx context.Context, groupID string, roster Roster) (Group, error) {
	g, _, err := s.update(ctx, groupID, replaceRoster(roster))
	return g, err
}

func (s *SQLStore) Seed(ctx context.Context, groupID string, roster Roster) (Group, bool, error) {
	g, existed, err := s.update(ctx, groupID, seedRoster(roster))
	return g, !existed, err
}

func (s *SQLStore) AddMembers(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, addMembers(ids))
	return g, err
}

func (s *SQLStore) RemoveMembers(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, removeMembers(ids))
	return g, err
}

func (s *SQLStore) PromoteAdmins(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, promoteAdmins(ids))
	return g, err
}

func (s *SQLStore) DemoteAdmins(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, demoteAdmins(ids))
	return g, err
}

func (s *SQLStore) UpdateSettings(ctx context.Context, groupID string, patch SettingsPatch) (Group, error) {
	g, _, err := s.update(ctx, groupID, updateSettings(patch))
	return g, err
}

func (s *SQLStore) Delete(ctx context.Context, groupID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM groups WHERE id=?`), groupID); err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	return nil
}

// update runs fn against the locked row inside one transaction, inserting an
// empty row first when the group is absent.
func (s *SQLStore) update(ctx context.Context, groupID string, fn change) (Group, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO groups (id, name, owner_phone, admins, members, settings, created_at, updated_at)
		VALUES (?, '', '', '[]', '[]', '{}', ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), groupID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Group{}, false, fmt.Errorf("ensure group %s: %w", groupID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Group{}, false, fmt.Errorf("ensure group %s: %w", groupID, err)
	}
	existed := inserted == 0

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE"
	}
	rec, err := scanRecord(tx.QueryRowContext(ctx, s.q(selectGroup+` WHERE id=?`+lock), groupID))
	if err != nil {
		return Group{}, false, fmt.Errorf("lock group %s: %w", groupID, err)
	}

	if fn(&rec, existed) {
		if err := s.write(ctx, tx, &rec, now); err != nil {
			return Group{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Group{}, false, fmt.Errorf("commit group %s: %w", groupID, err)
	}
	return rec.group(), existed, nil
}

func (s *SQLStore) write(ctx context.Context, tx *sql.Tx, rec *record, now time.Time) error {
	admins, err := json.Marshal(rec.Admins)
	if err != nil {
		return fmt.Errorf("encode admins: %w", err)
	}
	members, err := json.Marshal(rec.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	rec.UpdatedAt = now.UnixMilli()

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE groups
		SET name=?, owner_phone=?, admins=?, members=?, settings=?, updated_at=?
		WHERE id=?
	`), rec.Name, string(rec.OwnerPhone), string(admins), string(members), string(settings), rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("write group %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
