// Package scheduler picks the peers a workload is dispatched to.
package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
)

// Options filter the candidates before ranking. Zero values disable a filter.
type Options struct {
	RequireTrusted bool
	// EnvType, when set, must match the candidate's env type exactly.
	EnvType   *env.EnvType
	MinMemory uint64
	MinCPUs   uint16
}

type Candidate struct {
	Hash  identity.PeerHash
	Env   env.EnvData
	Score float64
}

// Score is the capacity heuristic: total memory in MiB plus 1000 per CPU plus
// the CPU speed in MHz.
func Score(e env.EnvData) float64 {
	return float64(e.TotalMem()/1024/1024) + 1000*float64(e.CPUCount()) + float64(e.CPUSpeed())
}

func (o Options) accepts(e env.EnvData) bool {
	if o.RequireTrusted && !e.Trusted() {
		return false
	}
	if o.EnvType != nil && e.EnvType() != *o.EnvType {
		return false
	}
	return env.Fits(e, o.MinMemory, o.MinCPUs)
}

// Rank orders the acceptable hosts of dir by score, highest first. Equal
// scores are ordered by hash so the result is deterministic.
func Rank(dir distributor.Directory, opts Options) []Candidate {
	out := make([]Candidate, 0, len(dir))
	for hash, host := range dir {
		data := host.EnvData()
		if !opts.accepts(data) {
			continue
		}
		out = append(out, Candidate{Hash: hash, Env: data, Score: Score(data)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Hash.Compare(out[j].Hash) < 0
	})
	return out
}

// Assign spreads total replicas over ranked candidates in proportion to their
// scores. Rounding leftovers go to the largest remainders, ties to the better
// ranked candidate.
func Assign(total int, ranked []Candidate) map[identity.PeerHash]int {
	assign := make(map[identity.PeerHash]int, len(ranked))
	if total <= 0 || len(ranked) == 0 {
		return assign
	}
	var sum float64
	for _, c := range ranked {
		if c.Score > 0 {
			sum += c.Score
		}
	}
	if sum <= 0 {
		for i := 0; i < total; i++ {
			assign[ranked[i%len(ranked)].Hash]++
		}
		return assign
	}

	remaining := total
	type frac struct {
		hash identity.PeerHash
		frac float64
	}
	remainders := make([]frac, 0, len(ranked))
	for _, c := range ranked {
		share := max(c.Score, 0) / sum * float64(total)
		base := int(share)
		if base > 0 {
			assign[c.Hash] += base
			remaining -= base
		}
		remainders = append(remainders, frac{hash: c.Hash, frac: share - float64(base)})
	}
	sort.SliceStable(remainders, func(i, j int) bool { return remainders[i].frac > remainders[j].frac })
	for i := 0; remaining > 0; i++ {
		assign[remainders[i%len(remainders)].hash]++
		remaining--
	}
	return assign
}

// Describe renders an assignment for logs, largest share first.
func Describe(a map[identity.PeerHash]int) string {
	type item struct {
		hash identity.PeerHash
		n    int
	}
	v := make([]item, 0, len(a))
	for k, n := range a {
		v = append(v, item{k, n})
	}
	sort.Slice(v, func(i, j int) bool {
		if v[i].n != v[j].n {
			return v[i].n > v[j].n
		}
		return v[i].hash.Compare(v[j].hash) < 0
	})
	var b strings.Builder
	b.WriteString("assignments:")
	for _, it := range v {
		fmt.Fprintf(&b, " %s=%d", it.hash.Short(), it.n)
	}
	return b.String()
}
