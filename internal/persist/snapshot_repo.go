package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/nodeforge/runtime/internal/graph"
)

var ErrNoSnapshot = errors.New("no snapshot stored")

// StoredSnapshot is one row of scene_snapshots with its decoded body.
type StoredSnapshot struct {
	ID        int64
	Name      string
	Version   int
	Digest    [32]byte
	NodeCount int
	CreatedAt time.Time
	Snapshot  *graph.Snapshot
}

// SnapshotInfo is the metadata of a stored snapshot, body excluded.
type SnapshotInfo struct {
	ID        int64
	Version   int
	NodeCount int
	CreatedAt time.Time
}

type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Encode serializes s to YAML and returns the body with its blake2b-256
// digest. Equal graphs encode to equal bodies.
func Encode(s *graph.Snapshot) ([]byte, [32]byte, error) {
	body, err := yaml.Marshal(s)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("encode snapshot: %w", err)
	}
	return body, blake2b.Sum256(body), nil
}

// Decode parses a stored body, rejecting versions this build cannot read.
func Decode(body []byte) (*graph.Snapshot, error) {
	var s graph.Snapshot
	if err := yaml.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != graph.SnapshotVersion {
		return nil, fmt.Errorf("decode snapshot: version %d: %w", s.Version, graph.ErrBadSnapshot)
	}
	return &s, nil
}

// Save stores s under name unless the most recent snapshot of that name
// has the same digest. Reports whether a row was written.
func (r *SnapshotRepo) Save(ctx context.Context, name string, s *graph.Snapshot) (bool, error) {
	body, digest, err := Encode(s)
	if err != nil {
		return false, err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var last []byte
	err = tx.QueryRow(ctx,
		`SELECT digest FROM scene_snapshots WHERE name = $1 ORDER BY id DESC LIMIT 1`,
		name,
	).Scan(&last)
	switch {
	case err == nil && bytes.Equal(last, digest[:]):
		return false, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("snapshot digest: %w", err)
	}

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO scene_snapshots (name, version, digest, node_count, body)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		name, s.Version, digest[:], len(s.Nodes), body,
	).Scan(&id); err != nil {
		return false, fmt.Errorf("snapshot insert: %w", err)
	}

	rows, err := nodeRows(id, s)
	if err != nil {
		return false, err
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"snapshot_nodes"},
		[]string{"snapshot_id", "node_id", "parent_id", "name", "type_name", "components"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return false, fmt.Errorf("snapshot nodes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("snapshot commit: %w", err)
	}
	r.db.log.Debug("snapshot saved",
		zap.String("name", name),
		zap.Int64("id", id),
		zap.Int("nodes", len(s.Nodes)),
		zap.Int("bytes", len(body)),
	)
	return true, nil
}

func nodeRows(snapshotID int64, s *graph.Snapshot) ([][]any, error) {
	rows := make([][]any, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		id, err := uuid.Parse(n.ID)
		if err != nil {
			return nil, fmt.Errorf("node %q id: %w", n.Name, err)
		}
		var parent pgtype.UUID
		if n.Parent != "" {
			p, err := uuid.Parse(n.Parent)
			if err != nil {
				return nil, fmt.Errorf("node %q parent: %w", n.Name, err)
			}
			parent = pgtype.UUID{Bytes: p, Valid: true}
		}
		rows = append(rows, []any{
			snapshotID,
			pgtype.UUID{Bytes: id, Valid: true},
			parent,
			n.Name,
			n.Type,
			int32(len(n.Components)),
		})
	}
	return rows, nil
}

// Latest loads the most recent snapshot stored under name.
func (r *SnapshotRepo) Latest(ctx context.Context, name string) (*StoredSnapshot, error) {
	out := StoredSnapshot{Name: name}
	var digest, body []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, version, digest, node_count, body, created_at
		 FROM scene_snapshots WHERE name = $1 ORDER BY id DESC LIMIT 1`,
		name,
	).Scan(&out.ID, &out.Version, &digest, &out.NodeCount, &body, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	if got := blake2b.Sum256(body); !bytes.Equal(got[:], digest) {
		return nil, fmt.Errorf("load snapshot %s #%d: digest mismatch: %w", name, out.ID, graph.ErrBadSnapshot)
	}
	copy(out.Digest[:], digest)
	if out.Snapshot, err = Decode(body); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns up to limit snapshots of name, newest first.
func (r *SnapshotRepo) List(ctx context.Context, name string, limit int) ([]SnapshotInfo, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, version, node_count, created_at
		 FROM scene_snapshots WHERE name = $1 ORDER BY id DESC LIMIT $2`,
		name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", name, err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var s SnapshotInfo
		if err := rows.Scan(&s.ID, &s.Version, &s.NodeCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep snapshots of name. Node rows go
// with them through the foreign key.
func (r *SnapshotRepo) Prune(ctx context.Context, name string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM scene_snapshots
		 WHERE name = $1 AND id NOT IN (
		     SELECT id FROM scene_snapshots WHERE name = $1 ORDER BY id DESC LIMIT $2
		 )`,
		name, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots %s: %w", name, err)
	}
	return tag.RowsAffected(), nil
}
