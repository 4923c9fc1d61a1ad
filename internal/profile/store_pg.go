package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/trust"
)

// PgStore persists profiles in PostgreSQL. The full profile lives as JSONB;
// band, observation tier, calculated_at and version are lifted into columns
// for filtering and the optimistic version check.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an existing connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the backing table if it is missing.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS trust_profiles (
		agent_id         TEXT PRIMARY KEY,
		profile          JSONB NOT NULL,
		band             TEXT NOT NULL,
		observation_tier TEXT NOT NULL,
		calculated_at    TIMESTAMPTZ NOT NULL,
		version          BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create trust_profiles: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, agentID string) (trust.Profile, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT profile FROM trust_profiles WHERE agent_id=$1`, agentID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return trust.Profile{}, fault.NotFound("no profile for agent %s", agentID)
	}
	if err != nil {
		return trust.Profile{}, fault.Transient(err, "load profile %s", agentID)
	}
	var p trust.Profile
	if err := json.Unmarshal(blob, &p); err != nil {
		return trust.Profile{}, fault.Internal(err, "decode profile %s", agentID)
	}
	return p, nil
}

func (s *PgStore) Save(ctx context.Context, p trust.Profile) error {
	if p.AgentID == "" {
		return fault.Validation("profile has no agentId")
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return fault.Internal(err, "encode profile %s", p.AgentID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.Transient(err, "begin save for %s", p.AgentID)
	}
	defer tx.Rollback(ctx)

	var stored int
	err = tx.QueryRow(ctx,
		`SELECT version FROM trust_profiles WHERE agent_id=$1 FOR UPDATE`,
		p.AgentID).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO trust_profiles (agent_id, profile, band, observation_tier, calculated_at, version)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			p.AgentID, blob, string(p.Band), string(p.ObservationTier), p.CalculatedAt, p.Version)
		if err != nil {
			return fault.Transient(err, "insert profile %s", p.AgentID)
		}
	case err != nil:
		return fault.Transient(err, "lock profile %s", p.AgentID)
	default:
		if p.Version != stored+1 {
			return fault.Conflict("stale write for %s: stored v%d, incoming v%d",
				p.AgentID, stored, p.Version)
		}
		_, err = tx.Exec(ctx,
			`UPDATE trust_profiles
			 SET profile=$2, band=$3, observation_tier=$4, calculated_at=$5, version=$6
			 WHERE agent_id=$1`,
			p.AgentID, blob, string(p.Band), string(p.ObservationTier), p.CalculatedAt, p.Version)
		if err != nil {
			return fault.Transient(err, "update profile %s", p.AgentID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fault.Transient(err, "commit save for %s", p.AgentID)
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trust_profiles WHERE agent_id=$1`, agentID)
	if err != nil {
		return fault.Transient(err, "delete profile %s", agentID)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("no profile for agent %s", agentID)
	}
	return nil
}

func (s *PgStore) Exists(ctx context.Context, agentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trust_profiles WHERE agent_id=$1)`, agentID).Scan(&exists)
	if err != nil {
		return false, fault.Transient(err, "check profile %s", agentID)
	}
	return exists, nil
}

func (s *PgStore) Query(ctx context.Context, q Query) ([]trust.Profile, error) {
	var conds []string
	var args []any
	if q.Band != "" {
		args = append(args, string(q.Band))
		conds = append(conds, "band=$"+strconv.Itoa(len(args)))
	}
	if q.ObservationTier != "" {
		args = append(args, string(q.ObservationTier))
		conds = append(conds, "observation_tier=$"+strconv.Itoa(len(args)))
	}
	if !q.CalculatedBefore.IsZero() {
		args = append(args, q.CalculatedBefore)
		conds = append(conds, "calculated_at<$"+strconv.Itoa(len(args)))
	}

	sql := `SELECT profile FROM trust_profiles`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY calculated_at ASC, agent_id ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fault.Transient(err, "query profiles")
	}
	defer rows.Close()

	out := make([]trust.Profile, 0)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			continue
		}
		var p trust.Profile
		if err := json.Unmarshal(blob, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Transient(err, "scan profiles")
	}
	return out, nil
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)
