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

var taskLayoutLog = logger.NewLogger("gres-tasklayout")

// ceilDiv computes ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// nodeTaskCap derives the per-node task cap (C4): first of
// ntasks_per_node, job_res.tasks_per_node[idx], else
// cpus_per_node/cpus_per_task.
func nodeTaskCap(req *NodeRequest) int {
	if req.NtasksPerNode > 0 {
		return req.NtasksPerNode
	}
	if req.TasksPerNodeIdx != NoVal {
		return req.TasksPerNodeIdx
	}
	cpusPerNode := req.JobCoreBitmap.Size()
	if req.CpusPerTask > 0 {
		return cpusPerNode / req.CpusPerTask
	}
	return cpusPerNode
}

// coresBySocket groups the job's allocated cpu ids into cores (a core
// is cpus_per_core consecutive cpu ids), socket-major, returning one
// slice of core ids per socket in ascending order.
func coresBySocket(req *NodeRequest) [][]int {
	bySock := make([][]int, req.SocketsPerNode)
	seen := map[int]bool{}
	for _, cpu := range req.JobCoreBitmap.ToSlice() {
		core := cpu / maxOne(req.CpusPerCore)
		if seen[core] {
			continue
		}
		seen[core] = true
		s := socketOfCPU(cpu, req.CoresPerSocket, req.CpusPerCore)
		if s >= 0 && s < req.SocketsPerNode {
			bySock[s] = append(bySock[s], core)
		}
	}
	for s := range bySock {
		sortInts(bySock[s])
	}
	return bySock
}

func maxOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// buildTaskLayoutOneNode runs the forward pass for a single node and
// returns its tasks-per-socket counts.
func buildTaskLayoutOneNode(req *NodeRequest) []int {
	tasksPerSocket := make([]int, req.SocketsPerNode)
	taskCap := nodeTaskCap(req)
	placed := 0

	bySock := coresBySocket(req)
	for s, cores := range bySock {
		skip := 0
		for _, core := range cores {
			if skip > 0 {
				skip--
				continue
			}
			if placed >= taskCap {
				break
			}
			tpc := req.NtasksPerCore
			if tpc <= 0 {
				tpc = req.CpusPerCore / maxOne(req.CpusPerTask)
				if tpc < 1 {
					tpc = 1
				}
			}
			if req.CpusPerTask > req.CpusPerCore {
				skip = ceilDiv(req.CpusPerTask, req.CpusPerCore) - 1
			}

			room := taskCap - placed
			if req.NtasksPerSocket > 0 {
				socketRoom := req.NtasksPerSocket - tasksPerSocket[s]
				if socketRoom < room {
					room = socketRoom
				}
			}
			if room < 0 {
				room = 0
			}
			take := tpc
			if take > room {
				take = room
			}
			tasksPerSocket[s] += take
			placed += take
		}
	}

	return tasksPerSocket
}

// BuildTaskLayout builds tasks_per_node_socket (C4) for every allocated
// node, honoring ntasks_per_{job,node,socket,core} and overcommit. It
// reports (non-fatally) when a positive task remainder could not be
// placed.
func BuildTaskLayout(nodes []*NodeRequest, mc MultiCoreOptions) [][]int {
	perNode := make([][]int, len(nodes))
	placedTotal := 0

	for i, req := range nodes {
		perNode[i] = buildTaskLayoutOneNode(req)
		for _, n := range perNode[i] {
			placedTotal += n
		}
	}

	// Overcommit deliberately ignores the forward pass's node/core task
	// cap: its whole purpose is to place more tasks than the node's
	// cores would normally admit, one at a time, fanning out across
	// every socket that has at least one allocated core.
	remTasks := mc.NtasksPerJob - placedTotal
	if remTasks > 0 && mc.Overcommit {
		for remTasks > 0 {
			progressed := false
			for i, req := range nodes {
				for s := 0; s < req.SocketsPerNode && remTasks > 0; s++ {
					if len(coresBySocket(req)[s]) == 0 {
						continue
					}
					perNode[i][s]++
					remTasks--
					progressed = true
				}
			}
			if !progressed {
				break
			}
		}
	}

	if remTasks > 0 {
		taskLayoutLog.Warn("%d task(s) of %d could not be placed in the task layout", remTasks, mc.NtasksPerJob)
	}

	return perNode
}
