// Package domain defines the core types and interfaces for the yield tracker:
// wallet snapshots, computed yield results, and the store/cache contracts
// implemented by the postgres, redis, and s3 adapters.
package domain

import (
	"time"
)

// TokenAmount is a single token holding valued in USD at capture time.
// Either USDValue is set directly or it can be derived from Amount * Price.
type TokenAmount struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price"`
	USDValue float64 `json:"usd_value"`
}

// Value returns the USD value of the holding, reconstructing it from
// amount and price when the direct field is zero or missing.
func (t TokenAmount) Value() float64 {
	if t.USDValue != 0 {
		return t.USDValue
	}
	return t.Amount * t.Price
}

// Position is a protocol position inside one snapshot: principal (supply
// tokens) plus unclaimed yield (reward tokens).
type Position struct {
	Protocol     string        `json:"protocol"`
	Chain        string        `json:"chain"`
	Name         string        `json:"name"` // position type, e.g. "Lending", "Liquidity Pool"
	SupplyTokens []TokenAmount `json:"supply_tokens"`
	RewardTokens []TokenAmount `json:"reward_tokens"`
	TotalValue   float64       `json:"total_value"`
}

// SupplyValue returns the combined USD value of the principal tokens.
func (p Position) SupplyValue() float64 {
	var sum float64
	for _, t := range p.SupplyTokens {
		sum += t.Value()
	}
	return sum
}

// RewardValue returns the combined USD value of unclaimed reward tokens.
func (p Position) RewardValue() float64 {
	var sum float64
	for _, t := range p.RewardTokens {
		sum += t.Value()
	}
	return sum
}

// Normalize fills TotalValue from the token sub-lists when the capture did
// not carry an explicit total. Ingestion sources disagree on which field
// holds the position value, so this runs exactly once when a snapshot is
// recorded; downstream code reads TotalValue and nothing else.
func (p *Position) Normalize() {
	if p.TotalValue == 0 {
		p.TotalValue = p.SupplyValue() + p.RewardValue()
	}
}

// Snapshot is an immutable point-in-time capture of a user's wallet
// holdings, valued in USD. Snapshots are day-granular: Date is truncated to
// midnight UTC. The engine only reads snapshots; the ingest path owns them.
type Snapshot struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	WalletAddress string        `json:"wallet_address,omitempty"`
	Date          time.Time     `json:"date"`
	Positions     []Position    `json:"positions"`
	Tokens        []TokenAmount `json:"tokens"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Normalize canonicalizes a freshly ingested snapshot: position totals are
// reconstructed where absent and the date is truncated to day granularity.
func (s *Snapshot) Normalize() {
	s.Date = Day(s.Date)
	for i := range s.Positions {
		s.Positions[i].Normalize()
	}
}

// Day truncates a timestamp to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
