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

var sharedPickLog = logger.NewLogger("gres-shared-pick")

// pickSharedGresTopo is `pick_shared_gres_topo` (C6): it draws
// fractional counts from topology slots rather than whole bits.
// remaining(t) = topo_gres_cnt_avail[t] - topo_gres_cnt_alloc[t] -
// gres_per_bit_select[node][t]. It returns the total count taken.
func pickSharedGresTopo(sg *SockGres, nodeIdx int, useBusyDev, useSingleDev, noRepeat bool, allowed *Bitmap, need int, topoIndex []int) int {
	js := sg.GresStateJob
	ns := sg.GresStateNode
	n := ns.TopoCnt
	if n == 0 || need <= 0 {
		return 0
	}

	order := topoIndex
	if order == nil {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}

	if js.GresPerBitSelect[nodeIdx] == nil {
		js.GresPerBitSelect[nodeIdx] = make([]int, n)
	}
	bitSel := js.GresBitSelect[nodeIdx]
	perBit := js.GresPerBitSelect[nodeIdx]

	taken := 0
	for _, t := range order {
		if need <= 0 {
			break
		}
		if t < 0 || t >= n {
			continue
		}
		if js.TypeID != 0 && t < len(ns.TopoTypeID) && ns.TopoTypeID[t] != js.TypeID {
			continue
		}
		if useBusyDev && ns.TopoGresCntAlloc[t] == 0 {
			continue
		}
		remaining := ns.TopoGresCntAvail[t] - ns.TopoGresCntAlloc[t] - perBit[t]
		minNeeded := 1
		if useSingleDev {
			minNeeded = need
		}
		if remaining < minNeeded {
			continue
		}
		if allowed != nil && !allowed.Test(t) {
			continue
		}
		if noRepeat && bitSel != nil && bitSel.Test(t) {
			continue
		}

		take := need
		if remaining < take {
			take = remaining
		}
		if bitSel != nil {
			bitSel.Set(t)
		}
		js.GresCntNodeSelect[nodeIdx] += take
		perBit[t] += take
		need -= take
		taken += take
	}
	return taken
}

// leastLoadedOrder sorts topology slots descending by the fixed-point
// ratio (avail-alloc)*node_gres_cnt_avail/topo_gres_cnt_avail, integer
// arithmetic throughout: least-loaded slots come first.
func leastLoadedOrder(ns *GresNodeState) []int {
	n := ns.TopoCnt
	order := make([]int, n)
	ratio := make([]int64, n)
	for t := 0; t < n; t++ {
		order[t] = t
		avail := int64(ns.TopoGresCntAvail[t])
		if avail == 0 {
			ratio[t] = -1
			continue
		}
		alloc := int64(ns.TopoGresCntAlloc[t])
		ratio[t] = (avail - alloc) * int64(ns.CntAvail) / avail
	}
	sort.SliceStable(order, func(i, j int) bool { return ratio[order[i]] > ratio[order[j]] })
	return order
}

func sharedTopoOrder(ns *GresNodeState, pol *ClusterPolicy) []int {
	if pol != nil && pol.LLSharedGres {
		return leastLoadedOrder(ns)
	}
	return nil
}

// PickSharedGres is the three-pass layout `pick_shared_gres` (C6):
// used_sock sockets first, then one ANY pass, then (unless
// enforce_binding) the remaining sockets.
func PickSharedGres(sg *SockGres, nodeIdx int, usedSock []bool, enforceBinding bool, useBusyDev, useSingleDev, noRepeat bool, need int, pol *ClusterPolicy) int {
	order := sharedTopoOrder(sg.GresStateNode, pol)
	total := 0

	for s, on := range usedSock {
		if need <= 0 {
			break
		}
		if !on {
			continue
		}
		got := pickSharedGresTopo(sg, nodeIdx, useBusyDev, useSingleDev, noRepeat, socketAllowed(sg, s), need, order)
		need -= got
		total += got
	}
	if need > 0 {
		got := pickSharedGresTopo(sg, nodeIdx, useBusyDev, useSingleDev, noRepeat, sg.BitsAnySock, need, order)
		need -= got
		total += got
	}
	if need > 0 && !enforceBinding {
		for s, on := range usedSock {
			if need <= 0 {
				break
			}
			if on {
				continue
			}
			got := pickSharedGresTopo(sg, nodeIdx, useBusyDev, useSingleDev, noRepeat, socketAllowed(sg, s), need, order)
			need -= got
			total += got
		}
	}
	return total
}

// SetSharedNodeBits is `_set_shared_node_bits` (C6): a per-node shared
// request first tries a single-device pass; only if the cluster policy
// permits MULTIPLE_SHARING_GRES_PJ does it fall back to spanning more
// than one device.
func SetSharedNodeBits(sg *SockGres, nodeIdx int, nodeName string, usedSock []bool, enforceBinding bool, pol *ClusterPolicy) error {
	js := sg.GresStateJob
	need := js.GresPerNode
	if need <= 0 {
		return nil
	}

	got := PickSharedGres(sg, nodeIdx, usedSock, enforceBinding, false, true, false, need, pol)
	need -= got

	if need > 0 && pol != nil && pol.MultipleSharingGresPJ {
		got2 := PickSharedGres(sg, nodeIdx, usedSock, enforceBinding, false, false, false, need, pol)
		need -= got2
	}

	if need > 0 {
		return gresError(ErrInvalidSharedRequest,
			"node %s: could not satisfy shared gres_per_node=%d (%d short)", nodeName, js.GresPerNode, need)
	}
	return nil
}

// SetSharedTaskBits is `_set_shared_task_bits` (C6): without
// MULTIPLE_SHARING_GRES_PJ every task on the node shares a single
// device; with it, each task gets its own picker call so
// no_task_sharing can keep successive tasks on the same socket off the
// same device.
func SetSharedTaskBits(sg *SockGres, nodeIdx int, nodeName string, tasksPerSocket []int, noTaskSharing, enforceBinding bool, pol *ClusterPolicy) error {
	js := sg.GresStateJob
	perTask := js.GresPerTask
	if perTask <= 0 {
		return nil
	}
	tasksOnNode := sumInts(tasksPerSocket)

	multiplePJ := pol != nil && pol.MultipleSharingGresPJ

	if !multiplePJ {
		if noTaskSharing {
			sharedPickLog.Warn("node %s: no_task_sharing requested but MULTIPLE_SHARING_GRES_PJ is unset; ignoring", nodeName)
		}
		need := perTask * tasksOnNode
		usedSock := make([]bool, len(tasksPerSocket))
		for s, n := range tasksPerSocket {
			usedSock[s] = n > 0
		}
		got := PickSharedGres(sg, nodeIdx, usedSock, enforceBinding, false, true, false, need, pol)
		if got < need {
			return gresError(ErrInvalidSharedRequest,
				"node %s: could not satisfy shared gres_per_task=%d across %d task(s) (%d short)",
				nodeName, perTask, tasksOnNode, need-got)
		}
		return nil
	}

	for s, tasks := range tasksPerSocket {
		if tasks <= 0 {
			continue
		}
		usedSock := make([]bool, len(tasksPerSocket))
		usedSock[s] = true
		for i := 0; i < tasks; i++ {
			got := PickSharedGres(sg, nodeIdx, usedSock, enforceBinding, false, true, noTaskSharing, perTask, pol)
			if got < perTask {
				return gresError(ErrInvalidSharedRequest,
					"node %s: task %d on socket %d could not get shared gres_per_task=%d", nodeName, i, s, perTask)
			}
		}
	}
	return nil
}
