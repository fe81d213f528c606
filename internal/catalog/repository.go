// Package catalog persists series trees in SQLite so user-defined or
// edited hierarchies survive restarts alongside the built-in ones.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/macroecon/internal/database"
	"github.com/aristath/macroecon/internal/series"
)

// ErrTreeNotFound is returned by DeleteTree for unknown names.
var ErrTreeNotFound = errors.New("tree not found")

// TreeInfo summarises a saved tree.
type TreeInfo struct {
	Name      string    `json:"name"`
	RootCode  string    `json:"root_code"`
	NodeCount int       `json:"node_count"`
	SavedAt   time.Time `json:"saved_at"`
}

// Repository stores trees in the catalog database.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a catalog repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func deleteTree(tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.Exec("DELETE FROM sources WHERE tree = ?", name); err != nil {
		return 0, fmt.Errorf("failed to delete sources: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM nodes WHERE tree = ?", name); err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}
	res, err := tx.Exec("DELETE FROM trees WHERE name = ?", name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tree: %w", err)
	}
	return res.RowsAffected()
}

// SaveTree stores root under name, replacing any tree saved under it.
// Trees with duplicate codes are rejected.
func (r *Repository) SaveTree(name string, root *series.Node) error {
	if name == "" {
		return errors.New("tree name is required")
	}
	if root == nil {
		return series.ErrNilNode
	}
	if err := root.Validate(); err != nil {
		return err
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := deleteTree(tx, name); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"INSERT INTO trees (name, root_code, node_count, saved_at) VALUES (?, ?, ?, ?)",
			name, root.Code, root.Size(), r.now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert tree %s: %w", name, err)
		}

		nodeStmt, err := tx.Prepare(
			"INSERT INTO nodes (tree, code, parent_code, position, name, description) VALUES (?, ?, ?, ?, ?, ?)",
		)
		if err != nil {
			return err
		}
		defer nodeStmt.Close()

		sourceStmt, err := tx.Prepare(
			"INSERT INTO sources (tree, code, position, provider, series_id, params) VALUES (?, ?, ?, ?, ?, ?)",
		)
		if err != nil {
			return err
		}
		defer sourceStmt.Close()

		var insertErr error
		root.Each(func(n *series.Node) bool {
			var parent sql.NullString
			position := 0
			if p := n.Parent(); p != nil && n != root {
				parent = sql.NullString{String: p.Code, Valid: true}
				for i, sibling := range p.Children() {
					if sibling == n {
						position = i
					}
				}
			}

			if _, err := nodeStmt.Exec(name, n.Code, parent, position, n.Name, n.Description); err != nil {
				insertErr = fmt.Errorf("failed to insert node %s: %w", n.Code, err)
				return false
			}

			for i, src := range n.Sources {
				params, err := json.Marshal(src.Params())
				if err != nil {
					insertErr = err
					return false
				}
				if _, err := sourceStmt.Exec(name, n.Code, i, src.Provider, src.SeriesID, string(params)); err != nil {
					insertErr = fmt.Errorf("failed to insert source %s of %s: %w", src, n.Code, err)
					return false
				}
			}
			return true
		})
		return insertErr
	})
}

type nodeRow struct {
	node     *series.Node
	parent   sql.NullString
	position int
}

// LoadTree rebuilds the tree saved under name. Returns nil, nil if no tree
// has that name.
func (r *Repository) LoadTree(name string) (*series.Node, error) {
	var rootCode string
	err := r.db.QueryRow("SELECT root_code FROM trees WHERE name = ?", name).Scan(&rootCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tree %s: %w", name, err)
	}

	rows, err := r.db.Query(
		"SELECT code, parent_code, position, name, description FROM nodes WHERE tree = ? ORDER BY position, code",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes of %s: %w", name, err)
	}
	var ordered []*nodeRow
	byCode := make(map[string]*nodeRow)
	for rows.Next() {
		var code, nodeName, description string
		row := &nodeRow{}
		if err := rows.Scan(&code, &row.parent, &row.position, &nodeName, &description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		row.node = series.NewNode(nodeName, code, series.WithDescription(description))
		ordered = append(ordered, row)
		byCode[code] = row
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadSources(name, byCode); err != nil {
		return nil, err
	}

	root, ok := byCode[rootCode]
	if !ok {
		return nil, fmt.Errorf("tree %s: root node %s missing", name, rootCode)
	}

	// Rows are ordered by position, so appending keeps sibling order.
	for _, row := range ordered {
		if !row.parent.Valid {
			continue
		}
		parent, ok := byCode[row.parent.String]
		if !ok {
			return nil, fmt.Errorf("tree %s: node %s has unknown parent %s", name, row.node.Code, row.parent.String)
		}
		if err := parent.node.AddChild(row.node); err != nil {
			return nil, fmt.Errorf("tree %s: %w", name, err)
		}
	}

	return root.node, nil
}

func (r *Repository) loadSources(tree string, byCode map[string]*nodeRow) error {
	rows, err := r.db.Query(
		"SELECT code, provider, series_id, params FROM sources WHERE tree = ? ORDER BY code, position",
		tree,
	)
	if err != nil {
		return fmt.Errorf("failed to load sources of %s: %w", tree, err)
	}
	defer rows.Close()

	for rows.Next() {
		var code, provider, seriesID, rawParams string
		if err := rows.Scan(&code, &provider, &seriesID, &rawParams); err != nil {
			return fmt.Errorf("failed to scan source: %w", err)
		}
		var params map[string]string
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("invalid params for %s:%s: %w", provider, seriesID, err)
		}
		row, ok := byCode[code]
		if !ok {
			return fmt.Errorf("source %s:%s references unknown node %s", provider, seriesID, code)
		}
		row.node.Sources = append(row.node.Sources, series.NewSource(provider, seriesID, params))
	}
	return rows.Err()
}

// ListTrees returns the saved trees ordered by name.
func (r *Repository) ListTrees() ([]TreeInfo, error) {
	rows, err := r.db.Query("SELECT name, root_code, node_count, saved_at FROM trees ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}
	defer rows.Close()

	trees := []TreeInfo{}
	for rows.Next() {
		var info TreeInfo
		var savedAt int64
		if err := rows.Scan(&info.Name, &info.RootCode, &info.NodeCount, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tree: %w", err)
		}
		info.SavedAt = time.Unix(savedAt, 0).UTC()
		trees = append(trees, info)
	}
	return trees, rows.Err()
}

// DeleteTree removes a saved tree.
func (r *Repository) DeleteTree(name string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		n, err := deleteTree(tx, name)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrTreeNotFound, name)
		}
		return nil
	})
}
