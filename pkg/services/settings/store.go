package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vango-dev/apid/internal/sqlitedb"
	"github.com/vango-dev/apid/pkg/protocol"
)

var migrations = []sqlitedb.Migration{
	{Version: 1, SQL: `CREATE TABLE IF NOT EXISTS settings (
		name  TEXT PRIMARY KEY NOT NULL,
		value TEXT NOT NULL
	)`},
}

// ErrInvalidDefaults is returned when a defaults document is not a JSON
// object.
var ErrInvalidDefaults = errors.New("settings: defaults must be a JSON object")

// Store persists settings in sqlite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (creating when needed) the settings database at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlitedb.Open(path, migrations, logger)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger.With("component", "settings_store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clear removes every setting.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings")
	return sqlitedb.Classify("clear", err)
}

// Get returns the value of name. A missing setting is a StoreNotFound
// error.
func (s *Store) Get(ctx context.Context, name string) (protocol.JSONValue, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE name = ?", name).Scan(&value)
	if err != nil {
		return "", sqlitedb.Classify("get "+name, err)
	}
	return protocol.JSONValue(value), nil
}

// GetBatch returns the settings among names that exist, in the order of
// names.
func (s *Store) GetBatch(ctx context.Context, names []string) (SettingList, error) {
	if len(names) == 0 {
		return SettingList{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM settings WHERE name IN ("+placeholders+")", args...)
	if err != nil {
		return nil, sqlitedb.Classify("get batch", err)
	}
	defer rows.Close()

	found := make(map[string]protocol.JSONValue, len(names))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, sqlitedb.Classify("get batch", err)
		}
		found[name] = protocol.JSONValue(value)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlitedb.Classify("get batch", err)
	}

	out := make(SettingList, 0, len(found))
	for _, n := range names {
		if v, ok := found[n]; ok {
			out = append(out, SettingInfo{Name: n, Value: v})
			delete(found, n)
		}
	}
	return out, nil
}

// Set writes settings in one transaction and returns those whose stored
// value changed. Later entries for the same name win.
func (s *Store) Set(ctx context.Context, settings SettingList) (SettingList, error) {
	var changed SettingList
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, setting := range settings {
			var current string
			err := tx.QueryRowContext(ctx, "SELECT value FROM settings WHERE name = ?", setting.Name).Scan(&current)
			switch {
			case err == nil && current == string(setting.Value):
				continue
			case err != nil && !errors.Is(err, sql.ErrNoRows):
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings (name, value) VALUES (?, ?)
				 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
				setting.Name, string(setting.Value)); err != nil {
				return err
			}
			changed = append(changed, setting)
		}
		return nil
	})
	if err != nil {
		return nil, sqlitedb.Classify("set", err)
	}
	return changed, nil
}

// Count returns the number of stored settings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings").Scan(&n)
	return n, sqlitedb.Classify("count", err)
}

// ImportDefaults stores every member of the JSON object doc as a setting,
// but only into an empty store. It returns the number of settings written.
func (s *Store) ImportDefaults(ctx context.Context, doc []byte) (int, error) {
	if !gjson.ValidBytes(doc) {
		return 0, ErrInvalidDefaults
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return 0, ErrInvalidDefaults
	}

	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("settings present, defaults skipped", "count", n)
		return 0, nil
	}

	var defaults SettingList
	root.ForEach(func(key, value gjson.Result) bool {
		defaults = append(defaults, SettingInfo{Name: key.String(), Value: protocol.JSONValue(value.Raw)})
		return true
	})
	changed, err := s.Set(ctx, defaults)
	if err != nil {
		return 0, err
	}
	s.logger.Info("default settings imported", "count", len(changed))
	return len(changed), nil
}

// ImportDefaultsFile is ImportDefaults reading the document from path.
func (s *Store) ImportDefaultsFile(ctx context.Context, path string) (int, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read defaults: %w", err)
	}
	return s.ImportDefaults(ctx, doc)
}
