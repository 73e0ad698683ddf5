package store

import (
	"context"
	"errors"
	"time"

	"logibid/internal/model"
	"logibid/internal/opt"
)

// Ledger is the append-only record of auction rounds and optimizer runs for a
// session. It is an audit trail: nothing reads it back to restore an agent.
type Ledger interface {
	AppendRound(ctx context.Context, r RoundRecord) (id string, err error)
	GetRound(ctx context.Context, id string) (RoundRecord, error)
	ListRounds(ctx context.Context, session string) ([]RoundRecord, error)

	SavePlanMetrics(ctx context.Context, session, fleet string, m opt.Metrics) error
	ListPlanMetrics(ctx context.Context, session string) (map[string]PlanMetrics, error)

	Close() error
}

// RoundRecord is one auction round as seen by the agent. Bids holds one entry
// per agent; negative means no bid.
type RoundRecord struct {
	ID          string     `json:"id"`
	Session     string     `json:"session"`
	Round       int        `json:"round"`
	Task        model.Task `json:"task"`
	Price       int64      `json:"price"`
	Abstained   bool       `json:"abstained"`
	Winner      int        `json:"winner"`
	Won         bool       `json:"won"`
	Bids        []int64    `json:"bids"`
	OwnMarginal float64    `json:"ownMarginal"`
	AdvEstimate float64    `json:"advEstimate"`
	Strategy    string     `json:"strategy"`
	At          time.Time  `json:"at"`
}

// PlanMetrics is the persisted summary of one optimizer run.
type PlanMetrics struct {
	Fleet         string    `json:"fleet"`
	Iterations    int       `json:"iterations"`
	Improvements  int       `json:"improvements"`
	AcceptedWorse int       `json:"acceptedWorse"`
	InitialCost   float64   `json:"initialCost"`
	BestCost      float64   `json:"bestCost"`
	FinalCost     float64   `json:"finalCost"`
	MoveSelects   []int     `json:"moveSelects"`
	FinalWeights  []float64 `json:"finalWeights"`
	ElapsedMs     int64     `json:"elapsedMs"`
}

func summarize(fleet string, m opt.Metrics) PlanMetrics {
	return PlanMetrics{
		Fleet:         fleet,
		Iterations:    m.Iterations,
		Improvements:  m.Improvements,
		AcceptedWorse: m.AcceptedWorse,
		InitialCost:   m.InitialCost,
		BestCost:      m.BestCost,
		FinalCost:     m.FinalCost,
		MoveSelects:   append([]int(nil), m.MoveSelects[:]...),
		FinalWeights:  append([]float64(nil), m.FinalMoveWeights[:]...),
		ElapsedMs:     m.Elapsed.Milliseconds(),
	}
}

var ErrNotFound = errors.New("not found")
