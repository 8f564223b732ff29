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

// 4 units, 2 sockets of 2 units each, no links.
func newTwoSocketSockGres(perNode, perSocket, perTask, perJob int) (*SockGres, *GresNodeState) {
	ns := &GresNodeState{PluginID: 1}
	js := &GresJobState{
		PluginID:      1,
		GresPerNode:   perNode,
		GresPerSocket: perSocket,
		GresPerTask:   perTask,
		GresPerJob:    perJob,
		GresBitSelect: []*Bitmap{NewBitmap(4)},
		GresCntNodeSelect: []int{0},
	}
	sg := &SockGres{
		GresStateJob:  js,
		GresStateNode: ns,
		BitsBySock:    []*Bitmap{NewBitmapFromSlice(4, 0, 1), NewBitmapFromSlice(4, 2, 3)},
		BitsAnySock:   NewBitmap(4),
	}
	return sg, ns
}

func TestPickBySocketEvenSplit(t *testing.T) {
	sg, _ := newTwoSocketSockGres(0, 1, 0, 0)
	PickBySocket(sg, 0, []int{1, 1})
	require.Equal(t, 2, sg.GresStateJob.GresCntNodeSelect[0])
	bitSel := sg.GresStateJob.GresBitSelect[0]
	require.True(t, bitSel.Test(0) || bitSel.Test(1))
	require.True(t, bitSel.Test(2) || bitSel.Test(3))
}

func TestPickBySocketReshapeElectsEmptySocket(t *testing.T) {
	sg, _ := newTwoSocketSockGres(0, 1, 0, 0)
	// Only socket 0 has allocated cores, but sockets_per_node == 2: the
	// reshape pre-pass must elect socket 1 too since it has free units.
	PickBySocket(sg, 0, []int{1, 0})
	bitSel := sg.GresStateJob.GresBitSelect[0]
	require.True(t, bitSel.Test(0) || bitSel.Test(1))
	require.True(t, bitSel.Test(2) || bitSel.Test(3))
	require.Equal(t, 2, sg.GresStateJob.GresCntNodeSelect[0])
}

func TestPickByNodeAllocatedSocketsFirst(t *testing.T) {
	sg, _ := newTwoSocketSockGres(3, 0, 0, 0)
	PickByNode(sg, 0, []int{1, 1})
	require.Equal(t, 3, sg.GresStateJob.GresCntNodeSelect[0])
	require.Equal(t, 3, sg.GresStateJob.GresBitSelect[0].Popcount())
}

func TestPickByTaskProportionalToSocketTasks(t *testing.T) {
	sg, _ := newTwoSocketSockGres(0, 0, 1, 0)
	PickByTask(sg, 0, []int{2, 1})
	require.Equal(t, 3, sg.GresStateJob.GresCntNodeSelect[0])
	require.Equal(t, 3, sg.GresStateJob.GresBitSelect[0].Popcount())
}

func TestPickByJobPass1SetsFiniWhenSatisfied(t *testing.T) {
	sg, _ := newTwoSocketSockGres(0, 0, 0, 2)
	fini := PickByJobPass1(sg, 0, []int{1, 1}, 1)
	require.True(t, fini)
	require.Equal(t, 2, sg.GresStateJob.TotalGres)
}

func TestPickByJobPass1ReservesOnePerRemainingNode(t *testing.T) {
	sg, _ := newTwoSocketSockGres(0, 0, 0, 4)
	// 2 remaining nodes: max_gres = 4 - 0 - (2-1) = 3.
	fini := PickByJobPass1(sg, 0, []int{1, 1}, 2)
	require.False(t, fini)
	require.Equal(t, 3, sg.GresStateJob.TotalGres)
}

func TestPickByJobPass2CompletesAfterPass1(t *testing.T) {
	sg1, ns1 := newTwoSocketSockGres(0, 0, 0, 6)
	js := sg1.GresStateJob
	js.GresBitSelect = []*Bitmap{NewBitmap(4), NewBitmap(4)}
	js.GresCntNodeSelect = []int{0, 0}

	sg2 := &SockGres{
		GresStateJob:  js,
		GresStateNode: ns1,
		BitsBySock:    []*Bitmap{NewBitmapFromSlice(4, 0, 1), NewBitmapFromSlice(4, 2, 3)},
		BitsAnySock:   NewBitmap(4),
	}

	fini1 := PickByJobPass1(sg1, 0, []int{1, 1}, 2)
	require.False(t, fini1)
	// Node 0 only has 4 units total, so pass 1 exhausts both sockets
	// even though max_gres (5) would have allowed one more.
	require.Equal(t, 4, js.TotalGres)

	fini2 := PickByJobPass2(js, []*GresNodeState{ns1, ns1}, []*SockGres{sg1, sg2})
	require.True(t, fini2)
	require.Equal(t, 6, js.TotalGres)
}

func TestPruneByLinksKeepsTargetCount(t *testing.T) {
	bitSel := NewBitmapFromSlice(4, 0, 1, 2, 3)
	links := [][]int32{
		{0, 5, 1, 0},
		{5, 0, 0, 0},
		{1, 0, 0, 9},
		{0, 0, 9, 0},
	}
	remaining := pruneByLinks(bitSel, links, []int{0, 1, 2, 3}, 2)
	require.Len(t, remaining, 2)
	require.Equal(t, 2, bitSel.Popcount())
}

// A clique of 4 units where index 0 and 1 are far better linked to each
// other (4) than to anything else (1 everywhere else): the greedy
// best-connectivity restart must pick index 0 first, fold its link
// weights into the remaining candidates, then restart from the top of
// the re-sorted order and land on index 1 next, not 2 or 3.
func cliqueLinksPreferringPair01() [][]int32 {
	return [][]int32{
		{0, 4, 1, 1},
		{4, 0, 1, 1},
		{1, 1, 0, 1},
		{1, 1, 1, 0},
	}
}

func TestPickGresTopoOrdersByBestConnectivity(t *testing.T) {
	bitSel := NewBitmap(4)
	picked := pickGresTopo(bitSel, nil, nil, 2, nil, cliqueLinksPreferringPair01())
	require.Equal(t, []int{0, 1}, picked)
}

// Scenario 3 from the design notes: a 4-unit clique node with
// gres_per_job=2 and the same best-linked pair. max_gres (2) > 1 with
// usable links, so pass 1 picks all 4 units greedily (best-connectivity
// order 0, 1, 2, 3) and then prunes back down to max_gres by repeatedly
// dropping the index least linked to the most-connected pair, leaving
// exactly the 0/1 pair pass 1 selected first.
func TestPickByJobPass1PrunesToBestLinkedPair(t *testing.T) {
	ns := &GresNodeState{
		PluginID: 1,
		BitAlloc: NewBitmap(4),
		LinksCnt: cliqueLinksPreferringPair01(),
	}
	js := &GresJobState{
		PluginID:          1,
		GresPerJob:        2,
		GresBitSelect:     []*Bitmap{NewBitmap(4)},
		GresCntNodeSelect: []int{0},
	}
	sg := &SockGres{
		GresStateJob:  js,
		GresStateNode: ns,
		BitsBySock:    []*Bitmap{NewBitmapFromSlice(4, 0, 1, 2, 3)},
		BitsAnySock:   NewBitmap(4),
	}

	fini := PickByJobPass1(sg, 0, []int{4}, 1)
	require.True(t, fini)
	require.Equal(t, 2, js.TotalGres)

	bitSel := js.GresBitSelect[0]
	require.True(t, bitSel.Test(0))
	require.True(t, bitSel.Test(1))
	require.False(t, bitSel.Test(2))
	require.False(t, bitSel.Test(3))
}
