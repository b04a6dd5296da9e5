package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateMeanStd(t *testing.T) {
	mean, std := CalculateMeanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = CalculateMeanStd([]float64{0.25})
	assert.Equal(t, 0.25, mean)
	assert.Zero(t, std)

	mean, std = CalculateMeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)
}

func TestCalculateZScore(t *testing.T) {
	assert.Zero(t, CalculateZScore(10, 5, 0))
	assert.InDelta(t, 2.5, CalculateZScore(10, 5, 2), 1e-9)
}

func TestSpreadMid(t *testing.T) {
	spread, mid := SpreadMid(decimal.RequireFromString("21450.25"), decimal.RequireFromString("21450.75"))
	assert.True(t, spread.Equal(decimal.RequireFromString("0.5")), spread.String())
	assert.True(t, mid.Equal(decimal.RequireFromString("21450.5")), mid.String())
}
