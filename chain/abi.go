package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The subset of the colony network contracts the miner talks to. Struct
// getters are declared with their flattened outputs, which is what the
// public array accessors return.

const colonyNetworkABI = `[
{"type":"function","name":"getReputationMiningCycle","stateMutability":"view","inputs":[{"name":"_active","type":"bool"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getReputationRootHash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getReputationRootHashNNodes","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getSkill","stateMutability":"view","inputs":[{"name":"_skillId","type":"uint256"}],"outputs":[{"name":"nParents","type":"uint256"},{"name":"nChildren","type":"uint256"}]},
{"type":"function","name":"getChildSkillId","stateMutability":"view","inputs":[{"name":"_skillId","type":"uint256"},{"name":"_childSkillIndex","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getParentSkillId","stateMutability":"view","inputs":[{"name":"_skillId","type":"uint256"},{"name":"_parentSkillIndex","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const miningCycleABI = `[
{"type":"function","name":"getReputationUpdateLogLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getReputationUpdateLogEntry","stateMutability":"view","inputs":[{"name":"_id","type":"uint256"}],"outputs":[{"name":"user","type":"address"},{"name":"amount","type":"int256"},{"name":"skillId","type":"uint256"},{"name":"colony","type":"address"},{"name":"nUpdates","type":"uint256"},{"name":"nPreviousUpdates","type":"uint256"}]},
{"type":"function","name":"getDisputeRounds","stateMutability":"view","inputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}],"outputs":[{"name":"proposedNewRootHash","type":"bytes32"},{"name":"nNodes","type":"uint256"},{"name":"lastResponseTimestamp","type":"uint256"},{"name":"challengeStepCompleted","type":"uint256"},{"name":"jrh","type":"bytes32"},{"name":"intermediateReputationHash","type":"bytes32"},{"name":"intermediateReputationNNodes","type":"uint256"},{"name":"jrhNnodes","type":"uint256"},{"name":"lowerBound","type":"uint256"},{"name":"upperBound","type":"uint256"}]},
{"type":"function","name":"submitRootHash","stateMutability":"nonpayable","inputs":[{"name":"newHash","type":"bytes32"},{"name":"nNodes","type":"uint256"},{"name":"entryIndex","type":"uint256"}],"outputs":[]},
{"type":"function","name":"submitJustificationRootHash","stateMutability":"nonpayable","inputs":[{"name":"round","type":"uint256"},{"name":"index","type":"uint256"},{"name":"jrh","type":"bytes32"},{"name":"branchMask1","type":"uint256"},{"name":"siblings1","type":"bytes32[]"},{"name":"branchMask2","type":"uint256"},{"name":"siblings2","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"respondToBinarySearchForChallenge","stateMutability":"nonpayable","inputs":[{"name":"round","type":"uint256"},{"name":"idx","type":"uint256"},{"name":"jhIntermediateValue","type":"bytes"},{"name":"branchMask","type":"uint256"},{"name":"siblings","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"respondToChallenge","stateMutability":"nonpayable","inputs":[{"name":"u","type":"uint256[11]"},{"name":"_reputationKey","type":"bytes"},{"name":"reputationSiblings","type":"bytes32[]"},{"name":"agreeStateReputationValue","type":"bytes"},{"name":"agreeStateSiblings","type":"bytes32[]"},{"name":"disagreeStateReputationValue","type":"bytes"},{"name":"disagreeStateSiblings","type":"bytes32[]"},{"name":"previousNewReputationKey","type":"bytes"},{"name":"previousNewReputationValue","type":"bytes"},{"name":"previousNewReputationSiblings","type":"bytes32[]"}],"outputs":[]}
]`

const patriciaTreeABI = `[
{"type":"function","name":"insert","stateMutability":"nonpayable","inputs":[{"name":"key","type":"bytes"},{"name":"value","type":"bytes"}],"outputs":[]},
{"type":"function","name":"getRootHash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getProof","stateMutability":"view","inputs":[{"name":"key","type":"bytes"}],"outputs":[{"name":"branchMask","type":"uint256"},{"name":"_siblings","type":"bytes32[]"}]},
{"type":"function","name":"getImpliedRoot","stateMutability":"view","inputs":[{"name":"key","type":"bytes"},{"name":"value","type":"bytes"},{"name":"branchMask","type":"uint256"},{"name":"siblings","type":"bytes32[]"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	colonyNetworkABIParsed = mustParse(colonyNetworkABI)
	miningCycleABIParsed   = mustParse(miningCycleABI)
	patriciaTreeABIParsed  = mustParse(patriciaTreeABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: bad ABI: " + err.Error())
	}
	return parsed
}
