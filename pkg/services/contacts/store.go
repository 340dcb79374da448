package contacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/vango-dev/apid/internal/sqlitedb"
	"github.com/vango-dev/apid/pkg/core"
)

var migrations = []sqlitedb.Migration{
	{Version: 1, SQL: `
CREATE TABLE IF NOT EXISTS contact_main (
	contact_id  TEXT PRIMARY KEY NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	family_name TEXT NOT NULL DEFAULT '',
	given_name  TEXT NOT NULL DEFAULT '',
	tel_json    TEXT NOT NULL DEFAULT '',
	email_json  TEXT NOT NULL DEFAULT '',
	published   INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_contact_name ON contact_main(name);
CREATE INDEX IF NOT EXISTS idx_contact_given_name ON contact_main(given_name);
CREATE INDEX IF NOT EXISTS idx_contact_family_name ON contact_main(family_name);
CREATE TABLE IF NOT EXISTS contact_additional (
	contact_id TEXT NOT NULL REFERENCES contact_main(contact_id) ON DELETE CASCADE,
	data_type  TEXT NOT NULL,
	value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_additional_lookup ON contact_additional(data_type, value);
CREATE INDEX IF NOT EXISTS idx_additional_contact ON contact_additional(contact_id);
CREATE TABLE IF NOT EXISTS blocked_numbers (
	number TEXT PRIMARY KEY NOT NULL,
	date   INTEGER NOT NULL
);`},
}

// Errors returned by the store. They are wrapped in *core.StoreError.
var (
	ErrInvalidContactID    = errors.New("contacts: invalid contact id")
	ErrInvalidFilterOption = errors.New("contacts: invalid filter option")
	ErrInvalidSortOption   = errors.New("contacts: invalid sort option")
	ErrNumberNotBlocked    = errors.New("contacts: number not blocked")
)

const mainColumns = "contact_id, name, family_name, given_name, tel_json, email_json, published, updated"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists contacts and blocked numbers in sqlite.
//
// The database has a single connection, so rows are always fully read and
// closed before the next query is issued.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenStore opens (creating when needed) the contacts database at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlitedb.Open(path, migrations, logger)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "contacts_store"),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() time.Time {
	return time.Unix(s.now().Unix(), 0).UTC()
}

func invalidID(op, id string) error {
	return core.NotFound(op, fmt.Errorf("%w: %q", ErrInvalidContactID, id))
}

// Clear removes every contact. Blocked numbers are kept.
func (s *Store) Clear(ctx context.Context) error {
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM contact_additional"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM contact_main")
		return err
	})
	return sqlitedb.Classify("clear", err)
}

// Add stores contacts in one transaction. Contacts without an id get a
// fresh uuid; published and updated are set to now. It returns the stored
// contacts.
func (s *Store) Add(ctx context.Context, contacts []ContactInfo) (ContactList, error) {
	now := s.timestamp()
	out := make(ContactList, 0, len(contacts))
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, c := range contacts {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.Published, c.Updated = now, now
			if err := s.insert(ctx, tx, &c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, sqlitedb.Classify("add", err)
	}
	return out, nil
}

// Update replaces existing contacts in one transaction, keeping their
// published time. An unknown id fails the whole update.
func (s *Store) Update(ctx context.Context, contacts []ContactInfo) (ContactList, error) {
	now := s.timestamp()
	out := make(ContactList, 0, len(contacts))
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, c := range contacts {
			var published int64
			err := tx.QueryRowContext(ctx,
				"SELECT published FROM contact_main WHERE contact_id = ?", c.ID).Scan(&published)
			if errors.Is(err, sql.ErrNoRows) {
				return invalidID("update", c.ID)
			}
			if err != nil {
				return err
			}
			if err := deleteContact(ctx, tx, c.ID); err != nil {
				return err
			}
			c.Published, c.Updated = fromUnix(published), now
			if err := s.insert(ctx, tx, &c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, sqlitedb.Classify("update", err)
	}
	return out, nil
}

// Remove deletes contacts by id and returns the distinct ids removed, in
// request order. If any id is unknown nothing is removed.
func (s *Store) Remove(ctx context.Context, ids []string) ([]string, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil, nil
	}

	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM contact_main WHERE contact_id IN ("+placeholders(len(unique))+")",
			args(unique)...).Scan(&n)
		if err != nil {
			return err
		}
		if n != len(unique) {
			return invalidID("remove", strings.Join(unique, ","))
		}
		for _, id := range unique {
			if err := deleteContact(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, sqlitedb.Classify("remove", err)
	}
	return unique, nil
}

// Get returns one contact. With onlyMainData the categories are not
// loaded.
func (s *Store) Get(ctx context.Context, id string, onlyMainData bool) (ContactInfo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+mainColumns+" FROM contact_main WHERE contact_id = ?", id)
	c, err := scanMain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ContactInfo{}, invalidID("get", id)
	}
	if err != nil {
		return ContactInfo{}, sqlitedb.Classify("get", err)
	}
	if !onlyMainData {
		if err := s.fillAdditional(ctx, s.db, &c); err != nil {
			return ContactInfo{}, sqlitedb.Classify("get", err)
		}
	}
	return c, nil
}

// GetAll returns every contact ordered by the given column, ignoring case.
func (s *Store) GetAll(ctx context.Context, sortBy SortBy, order Order) (ContactList, error) {
	col, ok := sortBy.column()
	if !ok {
		return nil, &core.StoreError{Kind: core.StoreUnknown, Op: "get all", Err: ErrInvalidSortOption}
	}
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM contact_main ORDER BY %s COLLATE NOCASE %s, contact_id %s",
		mainColumns, col, dir, dir)
	return s.list(ctx, "get all", query)
}

// Count returns the number of contacts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contact_main").Scan(&n)
	return n, sqlitedb.Classify("count", err)
}

// Find returns the contacts whose by property matches value, ordered by
// name.
func (s *Store) Find(ctx context.Context, by FilterBy, option FilterOption, value string) (ContactList, error) {
	where, params, err := filterClause(by, option, value)
	if err != nil {
		return nil, &core.StoreError{Kind: core.StoreUnknown, Op: "find", Err: err}
	}
	query := "SELECT " + mainColumns + " FROM contact_main WHERE " + where +
		" ORDER BY name COLLATE NOCASE, contact_id"
	return s.list(ctx, "find", query, params...)
}

func (s *Store) list(ctx context.Context, op, query string, params ...any) (ContactList, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, sqlitedb.Classify(op, err)
	}
	out := ContactList{}
	for rows.Next() {
		c, err := scanMain(rows)
		if err != nil {
			rows.Close()
			return nil, sqlitedb.Classify(op, err)
		}
		out = append(out, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, sqlitedb.Classify(op, err)
	}

	for i := range out {
		if err := s.fillAdditional(ctx, s.db, &out[i]); err != nil {
			return nil, sqlitedb.Classify(op, err)
		}
	}
	return out, nil
}

// AddBlockedNumber blocks number. Blocking it twice is a conflict.
func (s *Store) AddBlockedNumber(ctx context.Context, number string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO blocked_numbers (number, date) VALUES (?, ?)", number, s.timestamp().Unix())
	return sqlitedb.Classify("add blocked number", err)
}

// RemoveBlockedNumber unblocks number.
func (s *Store) RemoveBlockedNumber(ctx context.Context, number string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM blocked_numbers WHERE number = ?", number)
	if err != nil {
		return sqlitedb.Classify("remove blocked number", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sqlitedb.Classify("remove blocked number", err)
	}
	if n == 0 {
		return core.NotFound("remove blocked number", ErrNumberNotBlocked)
	}
	return nil
}

// BlockedNumbers returns every blocked number, oldest first.
func (s *Store) BlockedNumbers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT number FROM blocked_numbers ORDER BY date, number")
	if err != nil {
		return nil, sqlitedb.Classify("blocked numbers", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, sqlitedb.Classify("blocked numbers", err)
		}
		out = append(out, n)
	}
	return out, sqlitedb.Classify("blocked numbers", rows.Err())
}

// FindBlockedNumbers returns the blocked numbers matching value, oldest
// first. FilterMatch compares the trailing MinMatchDigits digits.
func (s *Store) FindBlockedNumbers(ctx context.Context, option FilterOption, value string) ([]string, error) {
	var param string
	switch option {
	case FilterEquals:
		param = escapeLike(value)
	case FilterContains:
		param = "%" + escapeLike(value) + "%"
	case FilterStartsWith:
		param = escapeLike(value) + "%"
	case FilterMatch:
		digits := normalizeNumber(value)
		if digits == "" {
			return nil, fmt.Errorf("%w: match on %q", ErrInvalidFilterOption, value)
		}
		if len(digits) > MinMatchDigits {
			digits = digits[len(digits)-MinMatchDigits:]
		}
		param = "%" + digits
	default:
		return nil, ErrInvalidFilterOption
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT number FROM blocked_numbers WHERE number LIKE ? ESCAPE '\' ORDER BY date, number`, param)
	if err != nil {
		return nil, sqlitedb.Classify("find blocked numbers", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, sqlitedb.Classify("find blocked numbers", err)
		}
		out = append(out, n)
	}
	return out, sqlitedb.Classify("find blocked numbers", rows.Err())
}

func (s *Store) insert(ctx context.Context, q queryer, c *ContactInfo) error {
	telJSON, err := fieldsJSON(c.Tel)
	if err != nil {
		return err
	}
	emailJSON, err := fieldsJSON(c.Email)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO contact_main ("+mainColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.Name, c.FamilyName, c.GivenName, telJSON, emailJSON,
		unixSeconds(c.Published), unixSeconds(c.Updated))
	if err != nil {
		return err
	}

	for _, t := range c.Tel {
		if err := insertAdditional(ctx, q, c.ID, AdditionalTel, normalizeNumber(t.Value)); err != nil {
			return err
		}
	}
	for _, e := range c.Email {
		if err := insertAdditional(ctx, q, c.ID, AdditionalEmail, strings.ToLower(e.Value)); err != nil {
			return err
		}
	}
	for _, cat := range c.Category {
		if err := insertAdditional(ctx, q, c.ID, AdditionalCategory, cat); err != nil {
			return err
		}
	}
	return nil
}

func insertAdditional(ctx context.Context, q queryer, id string, t AdditionalType, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO contact_additional (contact_id, data_type, value) VALUES (?, ?, ?)",
		id, t.String(), value)
	return err
}

func deleteContact(ctx context.Context, q queryer, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM contact_additional WHERE contact_id = ?", id); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, "DELETE FROM contact_main WHERE contact_id = ?", id)
	return err
}

// fillAdditional loads the categories of c. Phone numbers and emails are
// restored from the main row.
func (s *Store) fillAdditional(ctx context.Context, q queryer, c *ContactInfo) error {
	rows, err := q.QueryContext(ctx,
		"SELECT data_type, value FROM contact_additional WHERE contact_id = ? ORDER BY rowid", c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var dataType, value string
		if err := rows.Scan(&dataType, &value); err != nil {
			return err
		}
		switch ParseAdditionalType(dataType, s.logger) {
		case AdditionalCategory:
			c.Category = append(c.Category, value)
		case AdditionalTel, AdditionalEmail, AdditionalUnknown:
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMain(row scanner) (ContactInfo, error) {
	var (
		c                  ContactInfo
		telJSON, emailJSON string
		published, updated int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.FamilyName, &c.GivenName, &telJSON, &emailJSON, &published, &updated)
	if err != nil {
		return ContactInfo{}, err
	}
	c.Published, c.Updated = fromUnix(published), fromUnix(updated)
	c.Tel = parseFields(telJSON)
	c.Email = parseFields(emailJSON)
	return c, nil
}

func fieldsJSON(fields []ContactField) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseFields(raw string) []ContactField {
	if raw == "" {
		return nil
	}
	var out []ContactField
	gjson.Parse(raw).ForEach(func(_, v gjson.Result) bool {
		out = append(out, ContactField{
			Kind:      v.Get("type").String(),
			Value:     v.Get("value").String(),
			Preferred: v.Get("pref").Bool(),
		})
		return true
	})
	return out
}

// normalizeNumber keeps only the digits of a phone number.
func normalizeNumber(n string) string {
	var b strings.Builder
	for _, r := range n {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// filterClause builds the WHERE clause of a Find.
func filterClause(by FilterBy, option FilterOption, value string) (string, []any, error) {
	var col string
	switch by {
	case FilterByName:
		col = "name"
	case FilterByGivenName:
		col = "given_name"
	case FilterByFamilyName:
		col = "family_name"
	case FilterByTel:
		value = normalizeNumber(value)
	case FilterByEmail:
		value = strings.ToLower(value)
	case FilterByCategory:
	default:
		return "", nil, ErrInvalidFilterOption
	}

	var cmp, param string
	switch option {
	case FilterEquals:
		cmp, param = "= ?", value
	case FilterContains:
		cmp, param = `LIKE ? ESCAPE '\'`, "%"+escapeLike(value)+"%"
	case FilterStartsWith:
		cmp, param = `LIKE ? ESCAPE '\'`, escapeLike(value)+"%"
	case FilterMatch:
		if by != FilterByTel || value == "" {
			return "", nil, fmt.Errorf("%w: match on %s", ErrInvalidFilterOption, by)
		}
		if len(value) > MinMatchDigits {
			cmp, param = `LIKE ? ESCAPE '\'`, "%"+value[len(value)-MinMatchDigits:]
		} else {
			cmp, param = "= ?", value
		}
	default:
		return "", nil, ErrInvalidFilterOption
	}

	if col != "" {
		return col + " " + cmp, []any{param}, nil
	}
	var t AdditionalType
	switch by {
	case FilterByTel:
		t = AdditionalTel
	case FilterByEmail:
		t = AdditionalEmail
	default:
		t = AdditionalCategory
	}
	return "contact_id IN (SELECT contact_id FROM contact_additional WHERE data_type = ? AND value " + cmp + ")",
		[]any{t.String(), param}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
