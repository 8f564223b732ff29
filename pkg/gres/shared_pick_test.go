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
)

func newSharedSockGres(perNode, perTask int) *SockGres {
	ns := &GresNodeState{
		PluginID:         1,
		CntAvail:         8,
		TopoCnt:          2,
		TopoGresCntAvail: []int{4, 4},
		TopoGresCntAlloc: []int{0, 0},
		TopoTypeID:       []int{0, 0},
	}
	js := &GresJobState{
		PluginID:          1,
		ConfigFlags:       FlagGresShared,
		GresPerNode:       perNode,
		GresPerTask:       perTask,
		GresBitSelect:     []*Bitmap{NewBitmap(2)},
		GresCntNodeSelect: []int{0},
		GresPerBitSelect:  [][]int{nil},
	}
	return &SockGres{
		GresStateJob:  js,
		GresStateNode: ns,
		BitsBySock:    []*Bitmap{NewBitmapFromSlice(2, 0, 1)},
		BitsAnySock:   NewBitmap(2),
	}
}

// Scenario 4 from the design notes: 2 tasks on socket 0, 2 slots each
// with 4 free units, MULTIPLE_SHARING_GRES_PJ set, no_task_sharing
// true. Each task must land on a distinct slot.
func TestSetSharedTaskBitsNoRepeatAcrossTasks(t *testing.T) {
	sg := newSharedSockGres(0, 1)
	pol := &ClusterPolicy{MultipleSharingGresPJ: true}

	err := SetSharedTaskBits(sg, 0, "node1", []int{2}, true, false, pol)
	require.NoError(t, err)

	js := sg.GresStateJob
	require.Equal(t, 2, js.GresCntNodeSelect[0])
	require.Equal(t, 1, js.GresPerBitSelect[0][0])
	require.Equal(t, 1, js.GresPerBitSelect[0][1])
}

// Without MULTIPLE_SHARING_GRES_PJ every task shares a single device.
func TestSetSharedTaskBitsSingleDeviceWithoutMultiplePJ(t *testing.T) {
	sg := newSharedSockGres(0, 1)
	pol := &ClusterPolicy{MultipleSharingGresPJ: false}

	err := SetSharedTaskBits(sg, 0, "node1", []int{2}, false, false, pol)
	require.NoError(t, err)

	js := sg.GresStateJob
	require.Equal(t, 2, js.GresCntNodeSelect[0])
	// use_single_dev=true with need=2 forces both units from one slot.
	total := js.GresPerBitSelect[0][0] + js.GresPerBitSelect[0][1]
	require.Equal(t, 2, total)
	require.True(t, js.GresPerBitSelect[0][0] == 2 || js.GresPerBitSelect[0][1] == 2)
}

// With enforce_binding, a per-task shared request must not spill onto a
// socket outside the job's allocated (used) sockets even when that
// socket still has free units: socket 0 (the only used socket, one
// task) is fully exhausted; socket 1 is free but unused.
func TestSetSharedTaskBitsEnforceBindingBlocksUnusedSocketFallback(t *testing.T) {
	ns := &GresNodeState{
		PluginID:         1,
		CntAvail:         4,
		TopoCnt:          2,
		TopoGresCntAvail: []int{4, 4},
		TopoGresCntAlloc: []int{4, 0}, // slot 0 (socket 0) full, slot 1 (socket 1) free
		TopoTypeID:       []int{0, 0},
	}
	js := &GresJobState{
		PluginID:          1,
		ConfigFlags:       FlagGresShared,
		GresPerTask:       1,
		GresBitSelect:     []*Bitmap{NewBitmap(2)},
		GresCntNodeSelect: []int{0},
		GresPerBitSelect:  [][]int{nil},
	}
	sg := &SockGres{
		GresStateJob:  js,
		GresStateNode: ns,
		BitsBySock:    []*Bitmap{NewBitmapFromSlice(2, 0), NewBitmapFromSlice(2, 1)},
		BitsAnySock:   NewBitmap(2),
	}
	pol := &ClusterPolicy{}

	err := SetSharedTaskBits(sg, 0, "node1", []int{1, 0}, false, true, pol)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidSharedRequest, kind)

	// Without enforce_binding the same request succeeds from socket 1.
	ns.TopoGresCntAlloc = []int{4, 0}
	js.GresCntNodeSelect[0] = 0
	js.GresPerBitSelect[0] = nil
	err = SetSharedTaskBits(sg, 0, "node1", []int{1, 0}, false, false, pol)
	require.NoError(t, err)
	require.Equal(t, 1, js.GresCntNodeSelect[0])
}

func TestSetSharedNodeBitsSingleDevSatisfies(t *testing.T) {
	sg := newSharedSockGres(3, 0)
	pol := &ClusterPolicy{}

	err := SetSharedNodeBits(sg, 0, "node1", []bool{true}, false, pol)
	require.NoError(t, err)
	require.Equal(t, 3, sg.GresStateJob.GresCntNodeSelect[0])
}

func TestSetSharedNodeBitsFailsWhenExhausted(t *testing.T) {
	sg := newSharedSockGres(10, 0) // only 8 units exist across both slots
	pol := &ClusterPolicy{MultipleSharingGresPJ: true}

	err := SetSharedNodeBits(sg, 0, "node1", []bool{true}, false, pol)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidSharedRequest, kind)
}

func TestLeastLoadedOrderRanksEmptierSlotFirst(t *testing.T) {
	ns := &GresNodeState{
		CntAvail:         10,
		TopoCnt:          2,
		TopoGresCntAvail: []int{4, 4},
		TopoGresCntAlloc: []int{3, 0}, // slot 0 nearly full, slot 1 empty
	}
	order := leastLoadedOrder(ns)
	require.Equal(t, []int{1, 0}, order)
}

func TestPickSharedGresTopoRespectsBusyDevFilter(t *testing.T) {
	sg := newSharedSockGres(0, 0)
	sg.GresStateNode.TopoGresCntAlloc = []int{0, 1} // only slot 1 is "busy"
	need := 1
	got := pickSharedGresTopo(sg, 0, true, false, false, nil, need, nil)
	require.Equal(t, 1, got)
	require.Equal(t, 1, sg.GresStateJob.GresPerBitSelect[0][1])
	require.Equal(t, 0, sg.GresStateJob.GresPerBitSelect[0][0])
}
