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
	logger "github.com/opencluster/gres-select/pkg/log"
)

var feasibilityLog = logger.NewLogger("gres-feasibility")

func maxInt(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

// RemoveUnusable is the feasibility filter (C3): given one candidate
// node's SockGres records and the constraints in req, it decides
// whether the node is usable at all and, if so, mutates each SockGres
// with the caps the rest of the pipeline relies on. It is all-or
// nothing: on rejection no SockGres is mutated.
func RemoveUnusable(req *NodeRequest) (availGpus, nearGpus int, err error) {
	feasibilityLog.Debug("filtering %d gres request(s) on node %s", len(req.SockGres), req.NodeName)

	var availCoresBySock []bool
	haveAvailCoresBySock := false

	// Work on a scratch copy so a mid-way reject leaves the caller's
	// SockGres list untouched (steps are applied in a dry run first,
	// then committed only if every request in the list is feasible).
	type mutation struct {
		sg           *SockGres
		totalCnt     int
		maxNodeGres  int
		cntBySock    []int
		nearSockSum  int
		haveNearSock bool
	}
	muts := make([]mutation, 0, len(req.SockGres))

	for _, sg := range req.SockGres {
		js := sg.GresStateJob

		totalCnt := sg.TotalCnt
		maxNodeGres := sg.MaxNodeGres
		cntBySock := append([]int(nil), sg.CntBySock...)

		// Step 1: min_gres.
		minGresTerms := []int{}
		if req.WholeNode {
			minGresTerms = append(minGresTerms, totalCnt)
		} else if js.GresPerNode > 0 {
			minGresTerms = append(minGresTerms, js.GresPerNode)
		}
		if js.GresPerSocket > 0 && req.SockPerNode != NoVal16 {
			minGresTerms = append(minGresTerms, js.GresPerSocket*req.SockPerNode)
		}
		if js.GresPerTask > 0 && req.TaskPerNode != NoVal16 {
			minGresTerms = append(minGresTerms, js.GresPerTask*req.TaskPerNode)
		}
		minGres := maxInt(minGresTerms...)

		// Step 2: cpus_per_gres.
		cpusPerGres := js.CpusPerGres
		if cpusPerGres == 0 && js.NtasksPerGres > 0 {
			cpusPerGres = js.NtasksPerGres * req.CpusPerTask
		}
		if cpusPerGres == 0 {
			cpusPerGres = js.DefCpusPerGres
		}
		if cpusPerGres != 0 {
			need := maxInt(js.GresPerNode, js.GresPerTask, js.GresPerSocket)
			if req.MaxCpus/cpusPerGres < need {
				DefaultMetrics.recordRejected(ErrInsufficientCPUs)
				return 0, 0, gresError(ErrInsufficientCPUs,
					"node %s: cpus_per_gres=%d leaves < %d gres from %d max cpus",
					req.NodeName, cpusPerGres, need, req.MaxCpus)
			}
		}

		// Step 3: mem_per_gres.
		memPerGres := js.MemPerGres
		if memPerGres == 0 {
			memPerGres = js.DefMemPerGres
		}
		if memPerGres != 0 && req.AvailMem != NoValMem {
			if memPerGres > req.AvailMem {
				DefaultMetrics.recordRejected(ErrInsufficientMemory)
				return 0, 0, gresError(ErrInsufficientMemory,
					"node %s: mem_per_gres=%d exceeds avail_mem=%d",
					req.NodeName, memPerGres, req.AvailMem)
			}
			memCap := int(req.AvailMem / memPerGres)
			if maxNodeGres == 0 || memCap < maxNodeGres {
				maxNodeGres = memCap
			}
			if memCap < totalCnt {
				totalCnt = memCap
			}
		}

		// Step 4: lazily build avail_cores_by_sock once per node.
		if len(cntBySock) > 0 && !haveAvailCoresBySock {
			availCoresBySock = availCoresBySock2(req)
			haveAvailCoresBySock = true
		}

		// Step 5. near_gres_cnt always reflects which sockets have
		// available cores, independent of enforce_binding: binding only
		// gates whether that same filter also prunes totalCnt/cntBySock.
		var nearSockSum int
		haveNearSock := len(cntBySock) > 0
		if haveNearSock {
			for s, c := range cntBySock {
				if s < len(availCoresBySock) && !availCoresBySock[s] {
					continue
				}
				nearSockSum += c
			}
			if req.EnforceBinding {
				for s := range cntBySock {
					if s < len(availCoresBySock) && !availCoresBySock[s] {
						totalCnt -= cntBySock[s]
						cntBySock[s] = 0
					}
				}
			}
		}

		// Step 6.
		if !req.WholeNode {
			candidate := js.GresPerNode
			if candidate == 0 {
				candidate = js.GresPerJob
			}
			if candidate != 0 && (maxNodeGres == 0 || candidate < maxNodeGres) {
				maxNodeGres = candidate
			}
		}

		// Step 7.
		if cpusPerGres != 0 && !(js.NtasksPerGres != 0 && req.WholeNode) {
			maxGres := req.CoreBitmap.Size() * req.CpusPerCore / cpusPerGres
			if maxNodeGres == 0 || maxGres < maxNodeGres {
				maxNodeGres = maxGres
			}
			if maxNodeGres == 0 {
				DefaultMetrics.recordRejected(ErrInsufficientCPUs)
				return 0, 0, gresError(ErrInsufficientCPUs,
					"node %s: cpus_per_gres=%d admits zero gres from allocated cores",
					req.NodeName, cpusPerGres)
			}
		}

		// Step 8.
		if memPerGres != 0 && req.AvailMem != NoValMem {
			memCap := int(req.AvailMem / memPerGres)
			if memCap < totalCnt {
				totalCnt = memCap
			}
		}

		// Step 9.
		if totalCnt < minGres {
			DefaultMetrics.recordRejected(ErrInsufficientCount)
			return 0, 0, gresError(ErrInsufficientCount,
				"node %s: total_cnt=%d below min_gres=%d", req.NodeName, totalCnt, minGres)
		}
		if maxNodeGres > 0 && maxNodeGres < minGres {
			DefaultMetrics.recordRejected(ErrInsufficientCount)
			return 0, 0, gresError(ErrInsufficientCount,
				"node %s: max_node_gres=%d below min_gres=%d", req.NodeName, maxNodeGres, minGres)
		}

		muts = append(muts, mutation{
			sg: sg, totalCnt: totalCnt, maxNodeGres: maxNodeGres, cntBySock: cntBySock,
			nearSockSum: nearSockSum, haveNearSock: haveNearSock,
		})
	}

	// Commit: every request on this node was feasible.
	for _, m := range muts {
		m.sg.TotalCnt = m.totalCnt
		m.sg.MaxNodeGres = m.maxNodeGres
		m.sg.CntBySock = m.cntBySock
		DefaultMetrics.recordFeasible(m.sg.GresStateNode.PluginID)

		if IsSharing(m.sg.GresStateNode.PluginID) {
			// Step 10: avail_gpus/near_gpus, saturating at 255. near_gpus
			// always reflects the binding-aware count when socket
			// affinity is known, independent of whether enforce_binding
			// actually gates step 5's totalCnt/cntBySock mutation.
			availGpus = saturate(availGpus + m.totalCnt)
			near := m.totalCnt
			if m.haveNearSock {
				near = m.nearSockSum + m.sg.BitsAnySock.Popcount()
			}
			nearGpus = saturate(nearGpus + near)
		}
	}

	return availGpus, nearGpus, nil
}

func saturate(n int) int {
	if n > MaxNearGPUs {
		return MaxNearGPUs
	}
	return n
}

func sumInts(vals []int) int {
	s := 0
	for _, v := range vals {
		s += v
	}
	return s
}

// availCoresBySock2 builds the per-socket core availability for req,
// named distinctly from the availCoresBySock helper in socket.go to make clear
// this is the lazily-memoized, per-node-call instance (C3 step 4).
func availCoresBySock2(req *NodeRequest) []bool {
	return availCoresBySock(req.CoreBitmap, req.SocketsPerNode, req.CoresPerSocket, req.CpusPerCore)
}
