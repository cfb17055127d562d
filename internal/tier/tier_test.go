package tier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankOrder(t *testing.T) {
	require.Less(t, Rank(Silver), Rank(Gold))
	require.Less(t, Rank(Gold), Rank(Platinum))
	require.Less(t, Rank(Platinum), Rank(Priority))
	require.Equal(t, 2, Rank("gold"))
	require.Zero(t, Rank("Diamond"))
}

func TestUpgradePrice(t *testing.T) {
	gold := PassTier{Type: Gold, Price: 1000}
	platinum := PassTier{Type: Platinum, Price: 1800}
	silver := PassTier{Type: Silver, Price: 500}

	price, err := UpgradePrice(gold, platinum)
	require.NoError(t, err)
	require.Equal(t, int64(800), price)

	_, err = UpgradePrice(gold, silver)
	require.ErrorIs(t, err, ErrInvalidUpgrade)

	_, err = UpgradePrice(gold, gold)
	require.ErrorIs(t, err, ErrInvalidUpgrade)

	_, err = UpgradePrice(gold, PassTier{Type: Platinum, Price: 900})
	require.ErrorIs(t, err, ErrCalculation)
}

func TestHighest(t *testing.T) {
	_, ok := Highest(nil)
	require.False(t, ok)

	best, ok := Highest([]PassTier{{Type: Silver, Price: 500}, {Type: Platinum, Price: 1800}, {Type: Gold, Price: 1000}})
	require.True(t, ok)
	require.Equal(t, Platinum, best.Type)
}

func TestHighestSkipsUnranked(t *testing.T) {
	_, ok := Highest([]PassTier{{Type: "Legacy", Price: 100}})
	require.False(t, ok)

	best, ok := Highest([]PassTier{{Type: "Legacy", Price: 5000}, {Type: Silver, Price: 500}})
	require.True(t, ok)
	require.Equal(t, Silver, best.Type)
}
