package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store keeps session documents as a tree of fields addressed by slash separated paths.
type Store interface {
	Load(ctx context.Context, id string) (*Game, error)
	// Persist replaces the subtree at path ("" for the whole document) with value.
	Persist(ctx context.Context, id, path string, value any) error
	Delete(ctx context.Context, id string) error
	Sessions(ctx context.Context) ([]string, error)
	AppendHistory(ctx context.Context, id string, night int, phase Phase, text string) error
	History(ctx context.Context, id string) ([]string, error)
}

type sqlStore struct {
	db *sqlx.DB
}

func newSQLStore(db *sqlx.DB) *sqlStore {
	return &sqlStore{db: db}
}

type fieldRow struct {
	Path  string `db:"path"`
	Value string `db:"value"`
}

// flatten walks a decoded JSON tree and emits one leaf per scalar, array or empty object.
func flatten(path string, node any, out map[string]json.RawMessage) error {
	if obj, ok := node.(map[string]any); ok && len(obj) > 0 {
		for k, child := range obj {
			if k == "" || strings.Contains(k, "/") {
				return fmt.Errorf("invalid field name %q under %q", k, path)
			}
			if err := flatten(joinPath(path, k), child, out); err != nil {
				return err
			}
		}
		return nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return err
	}
	out[path] = raw
	return nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}

func decodeTree(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (s *sqlStore) Persist(ctx context.Context, id, path string, value any) error {
	path = strings.Trim(path, "/")
	tree, err := decodeTree(value)
	if err != nil {
		return fmt.Errorf("persist %s/%s: %w", id, path, err)
	}
	if _, ok := tree.(map[string]any); path == "" && !ok {
		return fmt.Errorf("persist %s: document root must be an object", id)
	}
	leaves := map[string]json.RawMessage{}
	if err := flatten(path, tree, leaves); err != nil {
		return fmt.Errorf("persist %s/%s: %w", id, path, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if path == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM game_field WHERE game_id = ?`, id); err != nil {
			return err
		}
	} else {
		prefix := path + "/"
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM game_field
			WHERE game_id = ? AND (path = ? OR substr(path, 1, ?) = ?)`,
			id, path, len(prefix), prefix); err != nil {
			return err
		}
		// an ancestor stored as a leaf (null, {}) would shadow the new subtree
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			ancestor := strings.Join(parts[:i], "/")
			if _, err := tx.ExecContext(ctx, `DELETE FROM game_field WHERE game_id = ? AND path = ?`, id, ancestor); err != nil {
				return err
			}
		}
	}

	for p, raw := range leaves {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_field (game_id, path, value) VALUES (?, ?, ?)
			ON CONFLICT(game_id, path) DO UPDATE SET value = excluded.value`,
			id, p, string(raw)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	DebugLog("Persist %s/%s: %d field(s)", id, path, len(leaves))
	return nil
}

// insertLeaf places raw at the path inside root, creating objects on the way.
func insertLeaf(root map[string]any, parts []string, raw json.RawMessage) {
	node := root
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[p] = child
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, isObj := node[last].(map[string]any); isObj {
		return
	}
	node[last] = raw
}

func (s *sqlStore) Load(ctx context.Context, id string) (*Game, error) {
	var rows []fieldRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT path, value FROM game_field WHERE game_id = ?`, id); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	root := map[string]any{}
	for _, r := range rows {
		insertLeaf(root, strings.Split(r.Path, "/"), json.RawMessage(r.Value))
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if g.Players == nil {
		g.Players = map[PlayerID]Player{}
	}
	return &g, nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM game_field WHERE game_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM game_history WHERE game_id = ?`, id)
	return err
}

func (s *sqlStore) Sessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT game_id FROM game_field ORDER BY game_id`)
	return ids, err
}

func (s *sqlStore) AppendHistory(ctx context.Context, id string, night int, phase Phase, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_history (game_id, night, phase, description) VALUES (?, ?, ?, ?)`,
		id, night, string(phase), text)
	return err
}

// History returns the public narrative of a session, oldest first.
func (s *sqlStore) History(ctx context.Context, id string) ([]string, error) {
	var descriptions []string
	err := s.db.SelectContext(ctx, &descriptions, `
		SELECT description FROM game_history
		WHERE game_id = ? AND description != ''
		ORDER BY rowid ASC`, id)
	return descriptions, err
}

// Player accounts and login sessions.

func (s *sqlStore) CreatePlayer(ctx context.Context, name, secretCode string) (Player, error) {
	var existing Player
	err := s.db.GetContext(ctx, &existing, `SELECT rowid AS id, name FROM player WHERE name = ?`, name)
	if err == nil {
		return Player{}, fmt.Errorf("name %q already taken: %w", name, ErrForbidden)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Player{}, err
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO player (name, secret_code) VALUES (?, ?)`, name, secretCode)
	if err != nil {
		return Player{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Player{}, err
	}
	return Player{ID: PlayerID(id), Name: name}, nil
}

func (s *sqlStore) FindPlayer(ctx context.Context, name, secretCode string) (Player, error) {
	var p Player
	err := s.db.GetContext(ctx, &p, `SELECT rowid AS id, name FROM player WHERE name = ? AND secret_code = ?`, name, secretCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, fmt.Errorf("player %q: %w", name, ErrNotFound)
	}
	return p, err
}

func (s *sqlStore) PlayerByID(ctx context.Context, id PlayerID) (Player, error) {
	var p Player
	err := s.db.GetContext(ctx, &p, `SELECT rowid AS id, name FROM player WHERE rowid = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, fmt.Errorf("player %d: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *sqlStore) CreateLogin(ctx context.Context, token int64, player PlayerID) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO session (token, player_id) VALUES (?, ?)`, token, player)
	return err
}

func (s *sqlStore) LoginPlayer(ctx context.Context, token int64) (PlayerID, error) {
	var id PlayerID
	err := s.db.GetContext(ctx, &id, `SELECT player_id FROM session WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("login token: %w", ErrNotFound)
	}
	return id, err
}

func (s *sqlStore) DeleteLogin(ctx context.Context, token int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE token = ?`, token)
	return err
}

func openDB(dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; sessions write concurrently
	conn.SetMaxOpenConns(1)
	if err := initDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func initDB(conn *sqlx.DB) error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS player (
		name TEXT UNIQUE NOT NULL,
		secret_code TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS session (
		token INTEGER PRIMARY KEY,
		player_id INTEGER NOT NULL,
		FOREIGN KEY (player_id) REFERENCES player(rowid)
	);
	CREATE TABLE IF NOT EXISTS game_field (
		game_id TEXT NOT NULL,
		path TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(game_id, path)
	);
	CREATE TABLE IF NOT EXISTS game_history (
		game_id TEXT NOT NULL,
		night INTEGER NOT NULL,
		phase TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_game_history_lookup ON game_history(game_id);
	`
	_, err := conn.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
