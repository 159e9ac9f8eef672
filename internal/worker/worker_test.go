// worker_test.go - Managed background goroutine tests.
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

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutstandingReflectsRunningLabels(t *testing.T) {
	var w Worker
	release := make(chan struct{})
	started := make(chan struct{})

	w.Go("conn:a", func() {
		close(started)
		<-release
	})
	<-started

	require.Equal(t, map[string]int{"conn:a": 1}, w.Outstanding())

	close(release)
	w.Halt()

	require.Empty(t, w.Outstanding())
}

func TestOutstandingCountsSharedLabels(t *testing.T) {
	var w Worker
	release := make(chan struct{})

	const n = 3
	startedCh := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		w.Go("accept:peer", func() {
			startedCh <- struct{}{}
			<-release
		})
	}
	for i := 0; i < n; i++ {
		<-startedCh
	}

	require.Equal(t, n, w.Outstanding()["accept:peer"])

	close(release)
	w.Halt()
}

func TestHaltWithNoGoroutinesReturnsImmediately(t *testing.T) {
	var w Worker
	done := make(chan struct{})
	go func() {
		w.Halt()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Halt on an empty Worker did not return")
	}
}
