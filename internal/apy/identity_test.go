package apy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

func TestPositionIdentity_StableUnderTokenReordering(t *testing.T) {
	a := domain.Position{
		Protocol: "Uniswap V3",
		Chain:    "ethereum",
		Name:     "Liquidity Pool",
		SupplyTokens: []domain.TokenAmount{
			{Symbol: "USDC", USDValue: 500},
			{Symbol: "WETH", USDValue: 480},
		},
	}
	b := domain.Position{
		Protocol: "Uniswap V3",
		Chain:    "ethereum",
		Name:     "Liquidity Pool",
		SupplyTokens: []domain.TokenAmount{
			{Symbol: "WETH", USDValue: 510},
			{Symbol: "USDC", USDValue: 495},
		},
	}

	assert.Equal(t, PositionIdentity(a), PositionIdentity(b))
}

func TestPositionIdentity_IgnoresRewardPresence(t *testing.T) {
	base := domain.Position{
		Protocol:     "Aave",
		Chain:        "polygon",
		Name:         "Lending",
		SupplyTokens: []domain.TokenAmount{{Symbol: "USDT", USDValue: 1000}},
	}
	withRewards := base
	withRewards.RewardTokens = []domain.TokenAmount{{Symbol: "AAVE", USDValue: 3}}

	assert.Equal(t, PositionIdentity(base), PositionIdentity(withRewards))
}

func TestPositionIdentity_IgnoresAmounts(t *testing.T) {
	a := domain.Position{
		Protocol:     "Aave",
		Chain:        "polygon",
		Name:         "Lending",
		SupplyTokens: []domain.TokenAmount{{Symbol: "USDT", Amount: 100, USDValue: 100}},
	}
	b := a
	b.SupplyTokens = []domain.TokenAmount{{Symbol: "USDT", Amount: 90000, USDValue: 90000}}

	assert.Equal(t, PositionIdentity(a), PositionIdentity(b))
}

func TestPositionIdentity_MissingFieldsBecomeUnknown(t *testing.T) {
	p := domain.Position{Protocol: "Aave"}
	assert.Equal(t, "aave:unknown:unknown:unknown", PositionIdentity(p))
}

func TestPositionIdentity_DistinguishesChains(t *testing.T) {
	eth := domain.Position{
		Protocol:     "Aave",
		Chain:        "ethereum",
		Name:         "Lending",
		SupplyTokens: []domain.TokenAmount{{Symbol: "USDC"}},
	}
	poly := eth
	poly.Chain = "polygon"

	assert.NotEqual(t, PositionIdentity(eth), PositionIdentity(poly))
}

func TestTokenIdentity(t *testing.T) {
	assert.Equal(t, "token:eth", TokenIdentity(domain.TokenAmount{Symbol: "ETH"}))
	assert.Equal(t, "token:unknown", TokenIdentity(domain.TokenAmount{}))
}
