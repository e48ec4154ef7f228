package services

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadableAmount(t *testing.T) {
	cases := []struct {
		name     string
		amount   *big.Int
		decimals uint8
		symbol   string
		want     string
	}{
		{"zero", big.NewInt(0), 6, "TOK", "0 TOK"},
		{"nil", nil, 6, "TOK", "0 TOK"},
		{"whole units", big.NewInt(1_000_000), 6, "TOK", "1.000 TOK"},
		{"sub-unit", big.NewInt(1), 6, "TOK", "0.000 TOK"},
		{"truncates, never rounds", big.NewInt(1_234_567), 6, "TOK", "1.234 TOK"},
		{"negative", big.NewInt(-1_500_000), 6, "TOK", "-1.500 TOK"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReadableAmount(tc.amount, tc.decimals, tc.symbol))
		})
	}
}
