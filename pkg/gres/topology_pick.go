// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gres

import (
	"sort"

	logger "github.com/opencluster/gres-select/pkg/log"
)

var topologyPickLog = logger.NewLogger("gres-topology-pick")

// pickGresTopo is the shared bit-selection walk used by every
// non-shared topology picker (C5): it walks candidate unit indices in
// order (falling back to natural order when order is nil), skipping
// indices outside allowed, already selected for this node, or already
// allocated on the node, and sets bits until need is met or candidates
// are exhausted. Whenever link-count information is usable, each set
// bit's link contribution is folded into the remaining candidates and
// the scan restarts from the top of the (re-sorted) order — a greedy
// best-connectivity walk. It returns the indices it set.
func pickGresTopo(bitSel, allocated, allowed *Bitmap, need int, order []int, linksCnt [][]int32) []int {
	if bitSel == nil || need <= 0 {
		return nil
	}
	n := bitSel.Size()

	cand := order
	if cand == nil {
		cand = make([]int, n)
		for i := range cand {
			cand[i] = i
		}
	} else {
		cand = append([]int(nil), cand...)
	}

	useLinks := len(linksCnt) == n
	links := make([]int64, n)
	picked := make([]int, 0, need)

	for need > 0 {
		progressed := false
		for _, g := range cand {
			if need <= 0 {
				break
			}
			if g < 0 || g >= n {
				continue
			}
			if allowed != nil && !allowed.Test(g) {
				continue
			}
			if bitSel.Test(g) {
				continue
			}
			if allocated != nil && allocated.Test(g) {
				continue
			}

			bitSel.Set(g)
			need--
			picked = append(picked, g)
			progressed = true

			if useLinks {
				for h := 0; h < n; h++ {
					if bitSel.Test(h) {
						continue
					}
					links[h] += int64(linksCnt[g][h])
				}
				sort.SliceStable(cand, func(i, j int) bool { return links[cand[i]] > links[cand[j]] })
				break // restart the scan from the top of the re-sorted order
			}
		}
		if !progressed {
			break
		}
	}
	return picked
}

func socketAllowed(sg *SockGres, s int) *Bitmap {
	if s < 0 || s >= len(sg.BitsBySock) {
		return nil
	}
	return sg.BitsBySock[s]
}

func socketsWithCores(usedCoresOnSock []int) []int {
	var out []int
	for s, c := range usedCoresOnSock {
		if c > 0 {
			out = append(out, s)
		}
	}
	return out
}

func containsInt(haystack []int, v int) bool {
	for _, h := range haystack {
		if h == v {
			return true
		}
	}
	return false
}

// freeUnitsOnSocket counts units affine to socket s that are not yet
// allocated on the node, used by the by-socket reshape pre-pass to
// judge which sockets are worth electing or dropping.
func freeUnitsOnSocket(sg *SockGres, ns *GresNodeState, s int) int {
	bm := socketAllowed(sg, s)
	if bm == nil {
		return 0
	}
	free := bm.Clone()
	if ns.BitAlloc != nil {
		for _, i := range free.Slice() {
			if ns.BitAlloc.Test(i) {
				free.Clear(i)
			}
		}
	}
	return free.Popcount()
}

// reshapeUsedSock normalizes a used-socket mask to exactly target
// sockets: electing the emptiest unused sockets (by free-unit
// popcount, richest first) when the mask has too few, or dropping the
// sockets with the fewest free units when it has too many. It mutates
// a private copy; the caller's mask is untouched.
func reshapeUsedSock(usedSock []bool, sg *SockGres, ns *GresNodeState, target int) []bool {
	out := append([]bool(nil), usedSock...)
	if target <= 0 {
		return out
	}
	used := 0
	for _, b := range out {
		if b {
			used++
		}
	}
	if used == target {
		return out
	}

	type cand struct {
		s    int
		free int
	}

	if used < target {
		var cands []cand
		for s, b := range out {
			if !b {
				cands = append(cands, cand{s, freeUnitsOnSocket(sg, ns, s)})
			}
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].free != cands[j].free {
				return cands[i].free > cands[j].free
			}
			return cands[i].s < cands[j].s
		})
		for _, c := range cands {
			if used >= target {
				break
			}
			out[c.s] = true
			used++
		}
		return out
	}

	var cands []cand
	for s, b := range out {
		if b {
			cands = append(cands, cand{s, freeUnitsOnSocket(sg, ns, s)})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].free != cands[j].free {
			return cands[i].free < cands[j].free
		}
		return cands[i].s < cands[j].s
	})
	for _, c := range cands {
		if used <= target {
			break
		}
		out[c.s] = false
		used--
	}
	return out
}

// PickBySocket is the by-socket topology picker (C5) for gres_per_socket.
func PickBySocket(sg *SockGres, nodeIdx int, usedCoresOnSock []int) {
	js := sg.GresStateJob
	ns := sg.GresStateNode
	perSocket := js.GresPerSocket
	if perSocket <= 0 {
		return
	}

	target := len(usedCoresOnSock)
	usedSock := make([]bool, target)
	for s, c := range usedCoresOnSock {
		usedSock[s] = c > 0
	}
	usedSock = reshapeUsedSock(usedSock, sg, ns, target)

	bitSel := js.GresBitSelect[nodeIdx]
	total := 0
	for s, on := range usedSock {
		if !on {
			continue
		}
		need := perSocket
		picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), need, nil, ns.LinksCnt)
		need -= len(picked)
		total += len(picked)
		if need > 0 {
			more := pickGresTopo(bitSel, ns.BitAlloc, sg.BitsAnySock, need, nil, ns.LinksCnt)
			total += len(more)
		}
	}
	js.GresCntNodeSelect[nodeIdx] += total
}

// PickByNode is the by-node topology picker (C5) for gres_per_node.
func PickByNode(sg *SockGres, nodeIdx int, usedCoresOnSock []int) {
	js := sg.GresStateJob
	ns := sg.GresStateNode
	need := js.GresPerNode
	if need <= 0 {
		return
	}
	bitSel := js.GresBitSelect[nodeIdx]
	allocatedSockets := socketsWithCores(usedCoresOnSock)
	total := 0

	take := func(s int, want int) {
		picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), want, nil, ns.LinksCnt)
		need -= len(picked)
		total += len(picked)
	}
	takeAny := func() {
		if need <= 0 {
			return
		}
		more := pickGresTopo(bitSel, ns.BitAlloc, sg.BitsAnySock, need, nil, ns.LinksCnt)
		need -= len(more)
		total += len(more)
	}

	// Pass 1: one unit per allocated socket.
	for _, s := range allocatedSockets {
		if need <= 0 {
			break
		}
		take(s, 1)
	}
	takeAny()

	// Pass 2: more units from allocated sockets.
	for _, s := range allocatedSockets {
		if need <= 0 {
			break
		}
		take(s, need)
	}
	takeAny()

	// Pass 3: more from unallocated sockets.
	for s := range sg.BitsBySock {
		if need <= 0 {
			break
		}
		if containsInt(allocatedSockets, s) {
			continue
		}
		take(s, need)
	}
	takeAny()

	js.GresCntNodeSelect[nodeIdx] += total
}

// PickByTask is the by-task topology picker (C5) for gres_per_task.
func PickByTask(sg *SockGres, nodeIdx int, tasksPerSocket []int) {
	js := sg.GresStateJob
	ns := sg.GresStateNode
	perTask := js.GresPerTask
	if perTask <= 0 {
		return
	}
	bitSel := js.GresBitSelect[nodeIdx]
	tasksOnNode := sumInts(tasksPerSocket)
	need := tasksOnNode * perTask
	total := 0

	for s, tasks := range tasksPerSocket {
		if need <= 0 {
			break
		}
		if tasks <= 0 {
			continue
		}
		want := tasks * perTask
		if want > need {
			want = need
		}
		picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), want, nil, ns.LinksCnt)
		need -= len(picked)
		total += len(picked)
	}
	if need > 0 {
		more := pickGresTopo(bitSel, ns.BitAlloc, sg.BitsAnySock, need, nil, ns.LinksCnt)
		need -= len(more)
		total += len(more)
	}
	if need > 0 {
		for s := range sg.BitsBySock {
			if need <= 0 {
				break
			}
			picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), need, nil, ns.LinksCnt)
			need -= len(picked)
			total += len(picked)
		}
	}

	js.GresCntNodeSelect[nodeIdx] += total
}

// PickByJobPass1 is `_set_job_bits1` (C5): the first, per-node pass of
// the by-job picker. It returns job_fini (total_gres >= gres_per_job).
func PickByJobPass1(sg *SockGres, nodeIdx int, usedCoresOnSock []int, remNodes int) bool {
	js := sg.GresStateJob
	ns := sg.GresStateNode
	bitSel := js.GresBitSelect[nodeIdx]

	maxGres := js.GresPerJob - js.TotalGres - (remNodes - 1)
	if maxGres < 0 {
		maxGres = 0
	}
	if sg.MaxNodeGres > 0 && maxGres > sg.MaxNodeGres {
		maxGres = sg.MaxNodeGres
	}

	unlimited := false
	pickCount := maxGres
	if ns.HasLinks() && maxGres > 1 {
		unlimited = true
		pickCount = ns.unitCount()
	} else if pickCount < 1 {
		pickCount = 1
	}

	allocatedSockets := socketsWithCores(usedCoresOnSock)
	var chosen []int
	need := pickCount
	for _, s := range allocatedSockets {
		if need <= 0 {
			break
		}
		picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), need, nil, ns.LinksCnt)
		need -= len(picked)
		chosen = append(chosen, picked...)
	}
	if need > 0 {
		picked := pickGresTopo(bitSel, ns.BitAlloc, sg.BitsAnySock, need, nil, ns.LinksCnt)
		need -= len(picked)
		chosen = append(chosen, picked...)
	}
	if len(chosen) == 0 {
		for s := range sg.BitsBySock {
			if need <= 0 {
				break
			}
			if containsInt(allocatedSockets, s) {
				continue
			}
			picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), need, nil, ns.LinksCnt)
			need -= len(picked)
			chosen = append(chosen, picked...)
		}
	}

	if unlimited && len(chosen) > maxGres {
		chosen = pruneByLinks(bitSel, ns.LinksCnt, chosen, maxGres)
	}

	js.GresCntNodeSelect[nodeIdx] += len(chosen)
	js.TotalGres += len(chosen)
	return js.TotalGres >= js.GresPerJob
}

// pruneByLinks implements the by-job pass 1 pruning rule: find the
// chosen index pair with the strongest link count, then repeatedly
// clear the already-chosen index least linked to that index until only
// target remain. Ties break on ascending index throughout.
func pruneByLinks(bitSel *Bitmap, linksCnt [][]int32, chosen []int, target int) []int {
	remaining := append([]int(nil), chosen...)
	if len(remaining) <= target {
		return remaining
	}
	if linksCnt == nil {
		sort.Ints(remaining)
		for len(remaining) > target {
			bitSel.Clear(remaining[0])
			remaining = remaining[1:]
		}
		return remaining
	}

	bestInx := remaining[0]
	bestSum := int64(-1)
	for _, s := range remaining {
		for _, g := range remaining {
			if g == s {
				continue
			}
			v := int64(linksCnt[s][g])
			if v > bestSum || (v == bestSum && s < bestInx) {
				bestSum = v
				bestInx = s
			}
		}
	}

	for len(remaining) > target {
		worstIdx, worstPos := -1, -1
		worstVal := int64(1) << 62
		for pos, g := range remaining {
			if g == bestInx {
				continue
			}
			v := int64(linksCnt[bestInx][g])
			if v < worstVal || (v == worstVal && (worstIdx == -1 || g < worstIdx)) {
				worstVal, worstIdx, worstPos = v, g, pos
			}
		}
		if worstPos == -1 {
			break
		}
		bitSel.Clear(worstIdx)
		remaining = append(remaining[:worstPos], remaining[worstPos+1:]...)
	}
	return remaining
}

// PickByJobPass2 is `_set_job_bits2` (C5): run once, after every node
// has been through pass 1, when gres_per_job is still unmet. It seeds
// per-node link weights from the bits already chosen on that node,
// then keeps picking (by socket, then ANY) until satisfied.
func PickByJobPass2(js *GresJobState, nodeStates []*GresNodeState, sockGres []*SockGres) bool {
	for n, ns := range nodeStates {
		if js.TotalGres >= js.GresPerJob {
			break
		}
		sg := sockGres[n]
		if sg == nil || n >= len(js.GresBitSelect) {
			continue
		}
		bitSel := js.GresBitSelect[n]
		if bitSel == nil {
			continue
		}

		size := bitSel.Size()
		links := make([]int64, size)
		if ns.HasLinks() {
			for _, g := range bitSel.Slice() {
				for h := 0; h < size; h++ {
					if bitSel.Test(h) {
						continue
					}
					links[h] += int64(ns.LinksCnt[g][h])
				}
			}
		}
		order := make([]int, size)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return links[order[i]] > links[order[j]] })

		need := js.GresPerJob - js.TotalGres
		total := 0
		for s := range sg.BitsBySock {
			if need <= 0 {
				break
			}
			picked := pickGresTopo(bitSel, ns.BitAlloc, socketAllowed(sg, s), need, order, ns.LinksCnt)
			need -= len(picked)
			total += len(picked)
		}
		if need > 0 {
			picked := pickGresTopo(bitSel, ns.BitAlloc, sg.BitsAnySock, need, order, ns.LinksCnt)
			need -= len(picked)
			total += len(picked)
		}
		js.GresCntNodeSelect[n] += total
		js.TotalGres += total
	}
	return js.TotalGres >= js.GresPerJob
}
