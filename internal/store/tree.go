package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/treesync/internal/attr"
)

// ReplaceSubtree atomically replaces everything stored at or beneath path
// with value and the given priorities (keyed by absolute path). A nil value
// deletes the subtree. The root path is "".
func (s *Store) ReplaceSubtree(ctx context.Context, path string, value any, priorities map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace subtree: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, table := range []string{"nodes", "priorities"} {
		if err := deleteSubtree(ctx, tx, table, path); err != nil {
			return fmt.Errorf("replace subtree %q: %w", path, err)
		}
	}

	leaves := make(map[string]any)
	flatten(path, value, leaves)
	if err := insertRows(ctx, tx, "nodes", leaves); err != nil {
		return fmt.Errorf("replace subtree %q: %w", path, err)
	}
	if err := insertRows(ctx, tx, "priorities", priorities); err != nil {
		return fmt.Errorf("replace subtree %q: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace subtree %q: commit: %w", path, err)
	}
	return nil
}

func deleteSubtree(ctx context.Context, tx *sql.Tx, table, path string) error {
	var err error
	if path == "" {
		_, err = tx.ExecContext(ctx, "DELETE FROM "+table)
	} else {
		_, err = tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE path = ?1 OR substr(path, 1, length(?2)) = ?2",
			path, path+"/")
	}
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// insertRows writes rows in path order so inserts are deterministic.
func insertRows(ctx context.Context, tx *sql.Tx, table string, rows map[string]any) error {
	for _, p := range attr.SortedKeys(rows) {
		if rows[p] == nil {
			continue
		}
		data, err := encodeValue(rows[p])
		if err != nil {
			return fmt.Errorf("%s %q: %w", table, p, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (path, value) VALUES (?, ?)", p, data); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// flatten records every leaf under path. Arrays are leaves.
func flatten(path string, value any, out map[string]any) {
	m, ok := value.(map[string]any)
	if !ok {
		if value != nil {
			out[path] = value
		}
		return
	}
	for k, child := range m {
		flatten(joinPath(path, k), child, out)
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}

// LoadTree reads the whole tree. Returns a nil root when nothing is stored.
func (s *Store) LoadTree(ctx context.Context) (any, map[string]any, error) {
	leaves, err := s.loadRows(ctx, "nodes")
	if err != nil {
		return nil, nil, fmt.Errorf("load tree: %w", err)
	}
	priorities, err := s.loadRows(ctx, "priorities")
	if err != nil {
		return nil, nil, fmt.Errorf("load tree: %w", err)
	}

	var root any
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		root, err = insertLeaf(root, p, leaves[p])
		if err != nil {
			return nil, nil, fmt.Errorf("load tree: %w", err)
		}
	}
	return root, priorities, nil
}

// Count returns the number of stored leaves.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

func (s *Store) loadRows(ctx context.Context, table string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, value FROM "+table+" ORDER BY path ASC")
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var path string
		var data []byte
		if err := rows.Scan(&path, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		v, err := decodeValue(data)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", table, path, err)
		}
		out[path] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// insertLeaf places value at path inside root, creating objects as needed.
// root is owned by the caller and mutated in place.
func insertLeaf(root any, path string, value any) (any, error) {
	if path == "" {
		return value, nil
	}
	m, ok := root.(map[string]any)
	if !ok {
		if root != nil {
			return nil, fmt.Errorf("leaf %q conflicts with a leaf above it", path)
		}
		m = make(map[string]any)
		root = m
	}
	segments := strings.Split(path, "/")
	for _, seg := range segments[:len(segments)-1] {
		child, exists := m[seg]
		switch c := child.(type) {
		case map[string]any:
			m = c
		default:
			if exists {
				return nil, fmt.Errorf("leaf %q conflicts with a leaf above it", path)
			}
			next := make(map[string]any)
			m[seg] = next
			m = next
		}
	}
	m[segments[len(segments)-1]] = value
	return root, nil
}
