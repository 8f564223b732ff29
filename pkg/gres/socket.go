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
	"k8s.io/kubernetes/pkg/kubelet/cm/cpuset"
)

// cpusPerSocket is the number of logical CPU ids that belong to one
// socket, given the node's core/thread geometry. CPU ids are assumed
// laid out socket-major, the same layout the task layout builder (C4)
// walks.
func cpusPerSocket(coresPerSocket, cpusPerCore int) int {
	n := coresPerSocket * cpusPerCore
	if n <= 0 {
		return 1
	}
	return n
}

// socketOfCPU returns which socket a logical CPU id belongs to.
func socketOfCPU(cpu, coresPerSocket, cpusPerCore int) int {
	return cpu / cpusPerSocket(coresPerSocket, cpusPerCore)
}

// availCoresBySock derives, for each socket on the node, whether the
// core bitmap has at least one available core affine to it (C2). This
// is computed lazily, once per node, when some request's SockGres
// carries per-socket counts (CntBySock).
func availCoresBySock(coreBitmap cpuset.CPUSet, socketsPerNode, coresPerSocket, cpusPerCore int) []bool {
	avail := make([]bool, socketsPerNode)
	if socketsPerNode <= 0 {
		return avail
	}
	for _, cpu := range coreBitmap.ToSlice() {
		s := socketOfCPU(cpu, coresPerSocket, cpusPerCore)
		if s >= 0 && s < socketsPerNode {
			avail[s] = true
		}
	}
	return avail
}

// usedSocketsAndCores derives, from the job's own allocated-core
// bitmap, which sockets have at least one allocated core
// (used_sock_cnt/used_cores_on_sock in the orchestrator) and the total
// number of allocated cores (used_core_cnt).
func usedSocketsAndCores(jobCoreBitmap cpuset.CPUSet, socketsPerNode, coresPerSocket, cpusPerCore int) (usedCoresOnSock []int, usedSockCnt, usedCoreCnt int) {
	usedCoresOnSock = make([]int, socketsPerNode)
	if socketsPerNode <= 0 {
		return usedCoresOnSock, 0, 0
	}
	for _, cpu := range jobCoreBitmap.ToSlice() {
		s := socketOfCPU(cpu, coresPerSocket, cpusPerCore)
		if s >= 0 && s < socketsPerNode {
			usedCoresOnSock[s]++
			usedCoreCnt++
		}
	}
	for _, n := range usedCoresOnSock {
		if n > 0 {
			usedSockCnt++
		}
	}
	return usedCoresOnSock, usedSockCnt, usedCoreCnt
}
