// worker.go - Managed background goroutines.
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

// Package worker provides background worker tasks: a set of managed
// goroutines that a component can halt and wait for as a unit.
package worker

import "sync"

// Worker is a set of managed background goroutines. A relay runs many of
// these concurrently under one Worker — one accept loop per listener, one
// handler per accepted or dialed connection — so every goroutine started
// with Go is tagged with a label identifying what it is, letting Outstanding
// report which kinds of work are still running rather than just a count.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once

	haltCh chan interface{}

	mu     sync.Mutex
	active map[string]int
}

// Go executes fn in a new goroutine tagged with label, e.g. "accept:peer" or
// "conn:peer:198.51.100.7:41312". Multiple goroutines may share a label;
// Outstanding reports how many of each are currently running. It is fn's
// responsibility to monitor the channel returned by HaltCh and to return.
func (w *Worker) Go(label string, fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	w.adjust(label, 1)
	go func() {
		defer w.Done()
		defer w.adjust(label, -1)
		fn()
	}()
}

func (w *Worker) adjust(label string, delta int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active[label] += delta
	if w.active[label] <= 0 {
		delete(w.active, label)
	}
}

// Outstanding returns a snapshot of how many goroutines are currently
// running under each label, so a caller halting a slow-to-drain Worker can
// log what it is still waiting on instead of only how long it has waited.
func (w *Worker) Outstanding() map[string]int {
	w.initOnce.Do(w.init)
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := make(map[string]int, len(w.active))
	for label, n := range w.active {
		snap[label] = n
	}
	return snap
}

// Halt signals every goroutine started under w to terminate, and blocks
// until all of them have returned.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	close(w.haltCh)
	w.Wait()
}

// HaltCh returns the channel that is closed by Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
	w.active = make(map[string]int)
}
