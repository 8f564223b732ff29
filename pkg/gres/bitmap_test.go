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

func TestBitmapSetClearTest(t *testing.T) {
	b := NewBitmap(8)
	require.False(t, b.Test(3))
	b.Set(3)
	require.True(t, b.Test(3))
	b.Clear(3)
	require.False(t, b.Test(3))
}

func TestBitmapPopcount(t *testing.T) {
	b := NewBitmapFromSlice(130, 0, 1, 64, 65, 129)
	require.Equal(t, 5, b.Popcount())
	require.Equal(t, 2, b.PopcountRange(0, 2))
	require.Equal(t, 2, b.PopcountRange(64, 66))
	require.Equal(t, 1, b.PopcountRange(100, 130))
}

func TestBitmapFirst(t *testing.T) {
	b := NewBitmap(70)
	require.Equal(t, -1, b.First())
	b.Set(65)
	require.Equal(t, 65, b.First())
	b.Set(3)
	require.Equal(t, 3, b.First())
}

func TestBitmapOverlapsAndUnion(t *testing.T) {
	a := NewBitmapFromSlice(8, 0, 1, 2)
	b := NewBitmapFromSlice(8, 5, 6)
	require.False(t, a.Overlaps(b))
	b.Set(2)
	require.True(t, a.Overlaps(b))

	u := NewBitmap(8)
	u.Union(a)
	u.Union(b)
	require.Equal(t, []int{0, 1, 2, 5, 6}, u.Slice())
}

func TestBitmapCloneIndependence(t *testing.T) {
	a := NewBitmapFromSlice(4, 1)
	c := a.Clone()
	c.Set(2)
	require.False(t, a.Test(2))
	require.True(t, c.Test(2))
}

func TestBitmapOutOfRangeIsNoop(t *testing.T) {
	b := NewBitmap(4)
	b.Set(10)
	require.False(t, b.Test(10))
	require.Equal(t, 0, b.Popcount())
}
