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
	"github.com/hashicorp/go-multierror"

	logger "github.com/opencluster/gres-select/pkg/log"
)

var orchestratorLog = logger.NewLogger("gres-orchestrator")

// SelectAndSet is the orchestrator (C7, `select_and_set`): given every
// node the job was allocated on (already passed through RemoveUnusable
// so each SockGres carries the caps the pickers rely on), it dispatches
// each node's requests to the feasible/shared/topology picker that
// matches its GRES kind, and runs the by-job second pass across nodes
// if a per-job request is still unmet once every node has been seen.
func SelectAndSet(nodes []*NodeRequest, mc MultiCoreOptions, pol *ClusterPolicy) error {
	var errs *multierror.Error

	totalNodes := len(nodes)
	finiByJob := map[*GresJobState]bool{}
	resetByJob := map[*GresJobState]bool{}

	var taskLayout [][]int
	taskLayoutBuilt := false

	for n, req := range nodes {
		usedCoresOnSock, usedSockCnt, _ := usedSocketsAndCores(req.JobCoreBitmap, req.SocketsPerNode, req.CoresPerSocket, req.CpusPerCore)

		var tasksPerSocket []int
		perTaskKind := false
		for _, sg := range req.SockGres {
			if sg.GresStateJob.GresPerTask > 0 {
				perTaskKind = true
				if !taskLayoutBuilt {
					taskLayout = BuildTaskLayout(nodes, mc)
					taskLayoutBuilt = true
				}
				tasksPerSocket = taskLayout[n]
				break
			}
		}
		if perTaskKind && sumInts(tasksPerSocket) == 0 {
			errs = multierror.Append(errs, gresError(ErrInvalidTaskLayout,
				"node %s: gres_per_task request has no tasks_per_node_socket to draw from", req.NodeName))
			continue
		}

		usedSock := make([]bool, req.SocketsPerNode)
		for s, c := range usedCoresOnSock {
			usedSock[s] = c > 0
		}

		for _, sg := range req.SockGres {
			js := sg.GresStateJob
			ns := sg.GresStateNode

			if !resetByJob[js] {
				js.TotalGres = 0
				resetByJob[js] = true
			}
			if js.GresCntNodeSelect == nil {
				js.GresCntNodeSelect = make([]int, totalNodes)
			}

			if ns.TopoCnt == 0 && ns.BitAlloc == nil {
				js.GresCntNodeSelect[n] = noTopoCount(js, sg, usedSockCnt, tasksPerSocket)
				js.TotalGres += js.GresCntNodeSelect[n]
				continue
			}

			if js.GresBitSelect == nil {
				js.GresBitSelect = make([]*Bitmap, totalNodes)
			}
			if js.GresPerBitSelect == nil {
				js.GresPerBitSelect = make([][]int, totalNodes)
			}
			if js.GresBitSelect[n] == nil {
				js.GresBitSelect[n] = NewBitmap(ns.unitCount())
			}

			switch {
			case js.IsShared() && js.GresPerNode > 0:
				if err := SetSharedNodeBits(sg, n, req.NodeName, usedSock, req.EnforceBinding, pol); err != nil {
					errs = multierror.Append(errs, err)
				} else {
					js.TotalGres += js.GresCntNodeSelect[n]
					DefaultMetrics.setSharedFragmentation(sharedFragmentationRatio(ns))
				}
			case js.IsShared() && js.GresPerTask > 0:
				noTaskSharing := js.BitFlags&OneTaskPerSharingGres != 0
				if err := SetSharedTaskBits(sg, n, req.NodeName, tasksPerSocket, noTaskSharing, req.EnforceBinding, pol); err != nil {
					errs = multierror.Append(errs, err)
				} else {
					js.TotalGres += js.GresCntNodeSelect[n]
					DefaultMetrics.setSharedFragmentation(sharedFragmentationRatio(ns))
				}
			case js.IsShared():
				errs = multierror.Append(errs, gresError(ErrInvalidSharedRequest,
					"node %s: shared gres only supports per-node or per-task requests", req.NodeName))
			case js.GresPerNode > 0:
				PickByNode(sg, n, usedCoresOnSock)
				js.TotalGres += js.GresCntNodeSelect[n]
			case js.GresPerSocket > 0:
				PickBySocket(sg, n, usedCoresOnSock)
				js.TotalGres += js.GresCntNodeSelect[n]
			case js.GresPerTask > 0:
				PickByTask(sg, n, tasksPerSocket)
				js.TotalGres += js.GresCntNodeSelect[n]
			case js.GresPerJob > 0:
				fini := PickByJobPass1(sg, n, usedCoresOnSock, totalNodes-n)
				finiByJob[js] = fini
			}
		}
	}

	runJobPass2(nodes, totalNodes, finiByJob, &errs)

	return errs.ErrorOrNil()
}

// noTopoCount derives gres_cnt_node_select directly from the governing
// counter when the node's GRES has no topology at all (no bit
// selection is possible or needed).
func noTopoCount(js *GresJobState, sg *SockGres, usedSockCnt int, tasksPerSocket []int) int {
	switch {
	case js.GresPerNode > 0:
		return js.GresPerNode
	case js.GresPerSocket > 0:
		return js.GresPerSocket * usedSockCnt
	case js.GresPerTask > 0:
		return js.GresPerTask * sumInts(tasksPerSocket)
	case js.GresPerJob > 0:
		cnt := js.GresPerJob
		if sg.MaxNodeGres > 0 && cnt > sg.MaxNodeGres {
			cnt = sg.MaxNodeGres
		}
		return cnt
	}
	return 0
}

// runJobPass2 runs `_set_job_bits2` (C5 pass 2) once per distinct
// per-job GresJobState left unfinished after every node's pass 1, and
// reports an ErrJobCounterUnsatisfiable error for any that remain unmet.
func runJobPass2(nodes []*NodeRequest, totalNodes int, finiByJob map[*GresJobState]bool, errs **multierror.Error) {
	seen := map[*GresJobState]bool{}
	for _, req := range nodes {
		for _, sg := range req.SockGres {
			js := sg.GresStateJob
			if js.GresPerJob <= 0 || seen[js] {
				continue
			}
			seen[js] = true
			if finiByJob[js] {
				continue
			}

			nodeStates := make([]*GresNodeState, totalNodes)
			sockGresList := make([]*SockGres, totalNodes)
			for n2, req2 := range nodes {
				for _, sg2 := range req2.SockGres {
					if sg2.GresStateJob == js {
						nodeStates[n2] = sg2.GresStateNode
						sockGresList[n2] = sg2
					}
				}
			}

			orchestratorLog.Debug("gres_per_job=%d still unmet (total_gres=%d) after node pass, running pass 2", js.GresPerJob, js.TotalGres)
			if fini := PickByJobPass2(js, nodeStates, sockGresList); !fini {
				*errs = multierror.Append(*errs, gresError(ErrJobCounterUnsatisfiable,
					"gres_per_job=%d could not be satisfied across %d allocated node(s) (total_gres=%d)",
					js.GresPerJob, totalNodes, js.TotalGres))
			} else {
				DefaultMetrics.recordPass2Rescue()
			}
		}
	}
}
