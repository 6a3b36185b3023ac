package passes

import (
	"fmt"
	"slices"

	"github.com/roach88/graphir/internal/distributed"
)

// ShardParameters assigns parameters to ranks of a group of groupSize:
// each parameter, in order, goes to the rank holding the fewest elements
// so far, the lowest rank on ties. It returns the owning rank per
// parameter.
func ShardParameters(numel []int64, groupSize int) []int {
	sizes := make([]int64, groupSize)
	owners := make([]int, len(numel))
	for i, n := range numel {
		rank := 0
		for r := 1; r < groupSize; r++ {
			if sizes[r] < sizes[rank] {
				rank = r
			}
		}
		owners[i] = rank
		sizes[rank] += n
	}
	return owners
}

// PartialGroup returns the size-sized chunk of ranks that holds rank, or
// nil.
func PartialGroup(ranks []int, size, rank int) []int {
	for chunk := range slices.Chunk(ranks, max(size, 1)) {
		if slices.Contains(chunk, rank) {
			return slices.Clone(chunk)
		}
	}
	return nil
}

// ShardingInfo is the placement of parameters over one sharding group.
// Ranks in the mappings are local ranks, indexes into Group.Ranks.
type ShardingInfo struct {
	Group        *distributed.ProcessGroup
	GlobalRank   int
	LocalRank    int
	Params       []string
	RankToParams [][]string
	ParamToRank  map[string]int
}

func newShardingInfo(group *distributed.ProcessGroup, rank int, params []string, numel []int64) *ShardingInfo {
	si := &ShardingInfo{
		Group:        group,
		GlobalRank:   rank,
		LocalRank:    group.LocalRank(rank),
		Params:       slices.Clone(params),
		RankToParams: make([][]string, group.NRanks()),
		ParamToRank:  make(map[string]int, len(params)),
	}
	for i, owner := range ShardParameters(numel, group.NRanks()) {
		si.RankToParams[owner] = append(si.RankToParams[owner], params[i])
		si.ParamToRank[params[i]] = owner
	}
	return si
}

// IsInLocalShard reports whether this rank owns param.
func (si *ShardingInfo) IsInLocalShard(param string) bool {
	owner, ok := si.ParamToRank[param]
	return ok && owner == si.LocalRank
}

// LocalParams returns the parameters owned by this rank.
func (si *ShardingInfo) LocalParams() []string {
	return slices.Clone(si.RankToParams[si.LocalRank])
}

func (si *ShardingInfo) String() string {
	return fmt.Sprintf("sharding %v rank %d/%d owns %v", si.Group, si.LocalRank, si.Group.NRanks(), si.LocalParams())
}
