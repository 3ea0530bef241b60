// Package reward specifies only the slice of the Reward actor's interface
// the miner actor depends on: the smoothed per-epoch reward estimate that
// feeds the pledge and penalty formulas in monies.go.
package reward

import (
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/util/smoothing"
)

// ThisEpochRewardReturn is the reward actor's answer to a ThisEpochReward
// query: the current per-epoch network reward smoothed over recent epochs, plus the
// baseline power the network is targeting.
type ThisEpochRewardReturn struct {
	ThisEpochRewardSmoothed *smoothing.FilterEstimate
	ThisEpochBaselinePower  big.Int
}
