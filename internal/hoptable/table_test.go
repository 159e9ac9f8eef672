// table_test.go - Hop table tests.
// Copyright (C) 2026  The Onion Relay Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package hoptable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSocket struct{ closed bool }

func (f *fakeSocket) Close() error { f.closed = true; return nil }

func TestLookupAbsent(t *testing.T) {
	tbl := New()
	require.Nil(t, tbl.Lookup(1))
	require.False(t, tbl.Has(1))
}

func TestInsertOrUpdateThenLookup(t *testing.T) {
	tbl := New()
	sock := &fakeSocket{}
	tbl.InsertOrUpdate(7, func(cur *Tunnel) *Tunnel {
		require.Nil(t, cur)
		return &Tunnel{ID: 7, State: StateBuilding, Previous: &Hop{Hostkey: []byte("h1"), Conn: sock}}
	})

	got := tbl.Lookup(7)
	require.NotNil(t, got)
	require.Equal(t, StateBuilding, got.State)
	require.Nil(t, got.Next)
}

func TestInsertOrUpdatePromotesExistingTunnel(t *testing.T) {
	tbl := New()
	tbl.InsertOrUpdate(7, func(cur *Tunnel) *Tunnel {
		return &Tunnel{ID: 7, State: StateBuilding, Previous: &Hop{Hostkey: []byte("prev")}}
	})
	tbl.InsertOrUpdate(7, func(cur *Tunnel) *Tunnel {
		cur.Next = &Hop{Hostkey: []byte("next")}
		cur.State = StateActive
		return cur
	})

	got := tbl.Lookup(7)
	require.Equal(t, StateActive, got.State)
	require.NotNil(t, got.Previous)
	require.NotNil(t, got.Next)
}

func TestRemove(t *testing.T) {
	tbl := New()
	tbl.InsertOrUpdate(7, func(cur *Tunnel) *Tunnel {
		return &Tunnel{ID: 7, State: StateActive, Previous: &Hop{}}
	})
	require.True(t, tbl.Has(7))
	tbl.Remove(7)
	require.False(t, tbl.Has(7))
}

func TestFreshIDAvoidsExistingIDs(t *testing.T) {
	tbl := New()
	tbl.InsertOrUpdate(1, func(cur *Tunnel) *Tunnel { return &Tunnel{ID: 1, Previous: &Hop{}} })

	seq := []uint16{1, 1, 2}
	i := 0
	id := tbl.FreshID(func() uint16 {
		v := seq[i]
		i++
		return v
	})
	require.Equal(t, uint32(2), id)
}

func TestConcurrentInsertOrUpdateIsSerialized(t *testing.T) {
	tbl := New()
	tbl.InsertOrUpdate(1, func(cur *Tunnel) *Tunnel { return &Tunnel{ID: 1, Previous: &Hop{}} })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.InsertOrUpdate(1, func(cur *Tunnel) *Tunnel {
				cur.State = StateActive
				return cur
			})
		}()
	}
	wg.Wait()

	require.Equal(t, StateActive, tbl.Lookup(1).State)
}
