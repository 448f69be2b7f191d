// Package apy implements the return/APY calculation engine: identity
// resolution across snapshots, the period-return state machine, and
// statistical validation of computed rates.
package apy

import (
	"sort"
	"strings"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// PositionIdentity derives a deterministic key that matches the same
// economic position across snapshots taken on different days. Only stable
// fields participate: protocol, chain, position name, and the sorted supply
// token symbols. Amounts, prices, and reward tokens are deliberately
// excluded so the key survives value drift, token reordering, and rewards
// appearing or disappearing between captures.
//
// Two positions on the same protocol and chain with no distinguishing
// supply token collide; callers treat that as a known upstream limitation.
func PositionIdentity(p domain.Position) string {
	symbols := make([]string, 0, len(p.SupplyTokens))
	for _, t := range p.SupplyTokens {
		if s := identityField(t.Symbol); s != "unknown" {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	tokenPart := "unknown"
	if len(symbols) > 0 {
		tokenPart = strings.Join(symbols, "+")
	}

	return strings.Join([]string{
		identityField(p.Protocol),
		identityField(p.Chain),
		identityField(p.Name),
		tokenPart,
	}, ":")
}

// TokenIdentity derives the key for a wallet-level token holding.
func TokenIdentity(t domain.TokenAmount) string {
	return "token:" + identityField(t.Symbol)
}

// identityField canonicalizes one key component. Missing values become the
// literal "unknown" rather than failing resolution; the separator character
// is stripped so free-text fields cannot forge key boundaries.
func identityField(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, ":", "_")
	return strings.ReplaceAll(s, " ", "_")
}
