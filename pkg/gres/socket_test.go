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
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/kubernetes/pkg/kubelet/cm/cpuset"
)

// 2 sockets, 4 cores/socket, 1 thread/core: socket 0 = cpus 0-3, socket 1 = cpus 4-7.
func TestAvailCoresBySockSocketZeroIdle(t *testing.T) {
	cores := cpuset.NewCPUSet(4, 5, 6, 7) // only socket 1 has available cores
	avail := availCoresBySock(cores, 2, 4, 1)
	require.Equal(t, []bool{false, true}, avail)
}

func TestUsedSocketsAndCores(t *testing.T) {
	jobCores := cpuset.NewCPUSet(0, 1, 4)
	usedOnSock, usedSockCnt, usedCoreCnt := usedSocketsAndCores(jobCores, 2, 4, 1)
	require.Equal(t, []int{2, 1}, usedOnSock)
	require.Equal(t, 2, usedSockCnt)
	require.Equal(t, 3, usedCoreCnt)
}
