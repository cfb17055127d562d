// Package tier ranks pass types and prices upgrades between them.
package tier

import (
	"errors"
	"strings"
)

// Known pass types in ascending order.
const (
	Silver   = "Silver"
	Gold     = "Gold"
	Platinum = "Platinum"
	Priority = "Priority"
)

var ranks = map[string]int{
	strings.ToLower(Silver):   1,
	strings.ToLower(Gold):     2,
	strings.ToLower(Platinum): 3,
	strings.ToLower(Priority): 4,
}

var (
	// ErrInvalidUpgrade is returned when the target does not rank above the current pass.
	ErrInvalidUpgrade = errors.New("tier: target pass must rank above the current pass")
	// ErrCalculation is returned when the price differential is not positive.
	ErrCalculation = errors.New("tier: upgrade price is not positive")
)

// PassTier is the minimal view of a pass needed for upgrade pricing.
type PassTier struct {
	Type  string
	Price int64
}

// Rank returns the tier position of a pass type, or 0 when unknown.
func Rank(passType string) int {
	return ranks[strings.ToLower(strings.TrimSpace(passType))]
}

// Highest returns the best ranked tier in passes. Unranked types are skipped;
// false means no pass carries a known tier.
func Highest(passes []PassTier) (PassTier, bool) {
	var best PassTier
	for _, p := range passes {
		if Rank(p.Type) > Rank(best.Type) {
			best = p
		}
	}
	return best, Rank(best.Type) > 0
}

// UpgradePrice is the amount owed to move from current to target.
func UpgradePrice(current, target PassTier) (int64, error) {
	if Rank(target.Type) <= Rank(current.Type) {
		return 0, ErrInvalidUpgrade
	}
	diff := target.Price - current.Price
	if diff <= 0 {
		return 0, ErrCalculation
	}
	return diff, nil
}
