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

// Package gres implements the Generic Resource (GRES) selection filter:
// feasibility filtering and topology-aware bit selection for a cluster
// workload manager's GRES requests (GPUs and similar devices, by count,
// by socket, by task, by job, plain or shared/fractional).
package gres

import (
	"k8s.io/kubernetes/pkg/kubelet/cm/cpuset"
)

// NoVal and NoVal16 are the "not set" sentinels used throughout the
// counters below, matching the "ignore terms that are 0/sentinel"
// language of the selection algorithm.
const (
	NoVal   = -1
	NoVal16 = -1

	// MaxNearGPUs is the saturation ceiling for near_gpus/avail_gpus.
	MaxNearGPUs = 255
)

// ConfigFlags is a bitset of per-kind GRES configuration flags.
type ConfigFlags uint32

const (
	// FlagGresShared marks a job request as drawing fractional units
	// from a sharing device ("is_shared").
	FlagGresShared ConfigFlags = 1 << iota
)

// IsShared reports whether a request with the given flags draws
// fractional units from a sharing device.
func IsShared(flags ConfigFlags) bool {
	return flags&FlagGresShared != 0
}

// PluginID identifies a GRES kind (e.g. "gpu", "mps", "nic").
type PluginID uint32

// sharingPlugins is the set of plugin ids whose devices can be
// subdivided into shared, fractional units. The caller registers kinds
// into this set via MarkSharing at node/config load time.
var sharingPlugins = map[PluginID]bool{}

// MarkSharing records that plugin id is a sharing (sub-dividable) GRES kind.
func MarkSharing(id PluginID) { sharingPlugins[id] = true }

// IsSharing reports whether plugin id identifies a sharing GRES kind.
func IsSharing(id PluginID) bool { return sharingPlugins[id] }

// GresNodeState is the per-(node, kind) state the core reads but never
// mutates ("gres_ns" in the design). It is owned by the caller's node
// record.
type GresNodeState struct {
	PluginID    PluginID
	ConfigFlags ConfigFlags

	CntAvail int // gres_cnt_avail
	CntAlloc int // gres_cnt_alloc

	// BitAlloc is the set of already-allocated unit indices on this
	// node; nil if the kind has no topology on this node.
	BitAlloc *Bitmap

	// Topology, one entry per slot. TopoCnt == len(TopoGresCntAvail) == ...
	TopoCnt          int
	TopoGresCntAvail []int     // topo_gres_cnt_avail[t]
	TopoGresCntAlloc []int     // topo_gres_cnt_alloc[t]
	TopoGresBitmap   []*Bitmap // topo_gres_bitmap[t]: which unit indices belong to slot t
	TopoTypeID       []int     // topo_type_id[t]; 0 = untyped

	// LinksCnt[g][h] is the link count (affinity) between unit g and h.
	// nil/empty if links are not defined for this kind on this node.
	LinksCnt [][]int32
}

// HasLinks reports whether link-count information is usable, i.e.
// square and sized to the unit count.
func (ns *GresNodeState) HasLinks() bool {
	n := ns.unitCount()
	if n == 0 || len(ns.LinksCnt) != n {
		return false
	}
	for _, row := range ns.LinksCnt {
		if len(row) != n {
			return false
		}
	}
	return true
}

// unitCount returns the size of the per-node unit-index space for this
// kind, derived with the same three-way, explicitly redundant fallback
// that _get_gres_node_cnt uses: prefer BitAlloc's size, else the first
// topology slot's bitmap size, else the sum of topology slot capacities.
// All three are kept (even though the second and third are "redundant"
// whenever BitAlloc is present) for parity with node records that never
// populate gres_bit_alloc.
func (ns *GresNodeState) unitCount() int {
	if ns.BitAlloc != nil {
		return ns.BitAlloc.Size()
	}
	if ns.TopoCnt > 0 && len(ns.TopoGresBitmap) > 0 && ns.TopoGresBitmap[0] != nil {
		return ns.TopoGresBitmap[0].Size()
	}
	sum := 0
	for _, avail := range ns.TopoGresCntAvail {
		sum += avail
	}
	return sum
}

// GresJobState is the per-(job, kind) request and output record
// ("gres_js"). Counters/qualifiers are supplied by the caller; the
// Select* fields below are written by this core.
type GresJobState struct {
	PluginID    PluginID
	ConfigFlags ConfigFlags
	BitFlags    JobBitFlags // EnforceBind / OneTaskPerSharingGres ("no_task_sharing")
	TypeID      int         // 0 = untyped/any

	// Counters: any subset may be non-zero (NoVal = unset).
	GresPerNode   int
	GresPerSocket int
	GresPerTask   int
	GresPerJob    int

	// Qualifiers.
	CpusPerGres    int
	DefCpusPerGres int
	MemPerGres     int64
	DefMemPerGres  int64
	NtasksPerGres  int

	// Outputs, keyed by node index in the job's allocated-node order.
	GresBitSelect     []*Bitmap
	GresCntNodeSelect []int
	// GresPerBitSelect[n][t]: fractional count drawn from topology slot t on node n.
	GresPerBitSelect [][]int

	TotalGres     int
	TotalNodeCnt  int
}

// IsShared reports whether this job request draws fractional units
// from a sharing device.
func (js *GresJobState) IsShared() bool { return IsShared(js.ConfigFlags) }

// SockGres is the transient per-(node, kind) record the filter and
// selection passes mutate. It is owned by the caller and freed once
// SelectAndSet returns.
type SockGres struct {
	// GresStateJob/GresStateNode are non-owning back references; the
	// caller retains ownership of the underlying job/node records.
	GresStateJob  *GresJobState
	GresStateNode *GresNodeState

	TotalCnt    int // usable count on this node after upstream pruning
	MaxNodeGres int // 0 = unset; cap implied by CPU/memory constraints
	SockCnt     int // socket count on the node

	CntBySock  []int     // count affine to socket s
	BitsBySock []*Bitmap // unit indices affine to socket s (topology slots for shared kinds)
	BitsAnySock *Bitmap  // unit indices with no socket affinity
}

// NodeRequest bundles one candidate node's SockGres records together
// with the per-node inputs the feasibility filter and orchestrator need.
type NodeRequest struct {
	NodeName string

	SockGres []*SockGres

	AvailMem       int64 // NoValMem sentinel disables memory checks
	MaxCpus        int
	EnforceBinding bool
	CoreBitmap     cpuset.CPUSet

	SocketsPerNode  int
	CoresPerSocket  int
	CpusPerCore     int
	SockPerNode     int // NoVal16 disables the per-socket multiplier
	TaskPerNode     int // NoVal16 disables the per-task multiplier
	CpusPerTask     int
	WholeNode       bool

	// JobCoreBitmap is the job's own allocated-core bitmap on this
	// node, used by the task layout builder (C4) and by the
	// orchestrator to derive used_sock/used_cores_on_sock.
	JobCoreBitmap cpuset.CPUSet

	NtasksPerNode   int
	TasksPerNodeIdx int // job_res.tasks_per_node[idx]; NoVal if absent
	NtasksPerSocket int // NoVal if unset
	NtasksPerCore   int // NoVal if unset
}

// NoValMem is the sentinel for "memory not tracked".
const NoValMem int64 = -1

// MultiCoreOptions bundles the multi-core allocation parameters read
// from the job's launch request.
type MultiCoreOptions struct {
	NtasksPerJob    int
	NtasksPerNode   int
	NtasksPerSocket int
	NtasksPerCore   int
	CpusPerTask     int
	SocketsPerNode  int
	Overcommit      bool
}

// JobBitFlags mirrors the subset of the job's bit-flags this core reads.
type JobBitFlags uint32

const (
	// EnforceBind requires chosen GRES to share a socket with an allocated core.
	EnforceBind JobBitFlags = 1 << iota
	// OneTaskPerSharingGres disables device sharing across tasks on the same node.
	OneTaskPerSharingGres
)
