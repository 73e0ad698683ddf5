package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"logibid/internal/model"
	"logibid/internal/opt"
)

const schema = `
CREATE TABLE IF NOT EXISTS auction_rounds (
  id           uuid PRIMARY KEY,
  session      text NOT NULL,
  round        integer NOT NULL,
  task_id      integer NOT NULL,
  pickup       integer NOT NULL,
  delivery     integer NOT NULL,
  weight       double precision NOT NULL,
  reward       bigint NOT NULL DEFAULT 0,
  price        bigint NOT NULL,
  abstained    boolean NOT NULL DEFAULT false,
  winner       integer NOT NULL,
  won          boolean NOT NULL,
  bids         jsonb NOT NULL,
  own_marginal double precision NOT NULL,
  adv_estimate double precision NOT NULL,
  strategy     text NOT NULL DEFAULT '',
  created_at   timestamptz NOT NULL DEFAULT now(),
  UNIQUE (session, round)
);
CREATE TABLE IF NOT EXISTS plan_metrics (
  id         uuid PRIMARY KEY,
  session    text NOT NULL,
  fleet      text NOT NULL,
  summary    jsonb NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  UNIQUE (session, fleet)
);`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Migrate creates the ledger tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// AppendRound inserts r. Replaying a (session, round) pair keeps the first row
// and returns its id.
func (p *Postgres) AppendRound(ctx context.Context, r RoundRecord) (string, error) {
	bids, err := json.Marshal(nonNil(r.Bids))
	if err != nil {
		return "", err
	}
	id := uuid.New()
	var got string
	err = p.db.QueryRowContext(ctx, `INSERT INTO auction_rounds
        (id, session, round, task_id, pickup, delivery, weight, reward, price, abstained, winner, won, bids, own_marginal, adv_estimate, strategy, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,COALESCE($17, now()))
        ON CONFLICT (session, round) DO UPDATE SET session=auction_rounds.session
        RETURNING id::text`,
		id, r.Session, r.Round, r.Task.ID, int(r.Task.Pickup), int(r.Task.Delivery), r.Task.Weight, r.Task.Reward,
		r.Price, r.Abstained, r.Winner, r.Won, bids, r.OwnMarginal, r.AdvEstimate, r.Strategy, nullTime(r.At),
	).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("append round %d: %w", r.Round, err)
	}
	return got, nil
}

const roundColumns = `id::text, session, round, task_id, pickup, delivery, weight, reward, price, abstained, winner, won, bids, own_marginal, adv_estimate, strategy, created_at`

type scanner interface{ Scan(dest ...any) error }

func scanRound(s scanner) (RoundRecord, error) {
	var r RoundRecord
	var pickup, delivery int
	var bids []byte
	if err := s.Scan(&r.ID, &r.Session, &r.Round, &r.Task.ID, &pickup, &delivery, &r.Task.Weight, &r.Task.Reward,
		&r.Price, &r.Abstained, &r.Winner, &r.Won, &bids, &r.OwnMarginal, &r.AdvEstimate, &r.Strategy, &r.At); err != nil {
		return RoundRecord{}, err
	}
	r.Task.Pickup, r.Task.Delivery = model.CityID(pickup), model.CityID(delivery)
	if err := json.Unmarshal(bids, &r.Bids); err != nil {
		return RoundRecord{}, fmt.Errorf("round %s bids: %w", r.ID, err)
	}
	return r, nil
}

func (p *Postgres) GetRound(ctx context.Context, id string) (RoundRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return RoundRecord{}, ErrNotFound
	}
	r, err := scanRound(p.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM auction_rounds WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RoundRecord{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRounds(ctx context.Context, session string) ([]RoundRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM auction_rounds WHERE session=$1 ORDER BY round`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RoundRecord{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePlanMetrics upserts the latest run summary per (session, fleet).
func (p *Postgres) SavePlanMetrics(ctx context.Context, session, fleet string, m opt.Metrics) error {
	summary, err := json.Marshal(summarize(fleet, m))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO plan_metrics (id, session, fleet, summary) VALUES ($1,$2,$3,$4)
        ON CONFLICT (session, fleet) DO UPDATE SET summary=$4, created_at=now()`,
		uuid.New(), session, fleet, summary)
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, session string) (map[string]PlanMetrics, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT fleet, summary FROM plan_metrics WHERE session=$1`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]PlanMetrics{}
	for rows.Next() {
		var fleet string
		var raw []byte
		if err := rows.Scan(&fleet, &raw); err != nil {
			return nil, err
		}
		var pm PlanMetrics
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, fmt.Errorf("plan metrics %s/%s: %w", session, fleet, err)
		}
		out[fleet] = pm
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nonNil(b []int64) []int64 {
	if b == nil {
		return []int64{}
	}
	return b
}
