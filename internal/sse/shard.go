// Copyright 2025 Esteban Alvarez. All Rights Reserved.
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

package sse

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// subEntry is one subscription's registration under a single shard key,
// narrowed to the patterns that apply to that key's base topic.
type subEntry struct {
	sub      *Subscription
	patterns []pattern
}

type subscribeCmd struct {
	key         string
	base        string
	entry       subEntry
	lastEventID uint64
	done        chan struct{}
}

type unsubscribeCmd struct {
	key string
	sub *Subscription
}

type publishCmd struct {
	key       string
	base      string
	eventType string
	payload   []byte
	reply     chan Event
}

// shard is an independent task owning one slice of the pub-sub's state: a
// set of keyed subscriber lists and a bounded replay history per key. All
// mutation happens on its own goroutine via inbox; callers never touch its
// maps directly.
type shard struct {
	inbox       chan interface{}
	stopCh      chan struct{}
	log         *zap.Logger
	historySize int

	nextID  atomic.Uint64
	subs    map[string]map[*Subscription]subEntry
	history map[string][]Event
}

func newShard(historySize int, log *zap.Logger) *shard {
	return &shard{
		inbox:       make(chan interface{}, 256),
		stopCh:      make(chan struct{}),
		log:         log,
		historySize: historySize,
		subs:        make(map[string]map[*Subscription]subEntry),
		history:     make(map[string][]Event),
	}
}

func (sh *shard) run() {
	for {
		select {
		case cmd := <-sh.inbox:
			sh.dispatch(cmd)
		case <-sh.stopCh:
			return
		}
	}
}

func (sh *shard) stop() {
	close(sh.stopCh)
}

func (sh *shard) dispatch(cmd interface{}) {
	switch c := cmd.(type) {
	case subscribeCmd:
		sh.handleSubscribe(c)
	case unsubscribeCmd:
		sh.handleUnsubscribe(c)
	case publishCmd:
		sh.handlePublish(c)
	}
}

func (sh *shard) handleSubscribe(c subscribeCmd) {
	if sh.subs[c.key] == nil {
		sh.subs[c.key] = make(map[*Subscription]subEntry)
	}
	sh.subs[c.key][c.entry.sub] = c.entry

	if c.lastEventID > 0 {
		for _, ev := range sh.history[c.key] {
			if ev.ID <= c.lastEventID {
				continue
			}
			if !matchesAny(c.entry.patterns, ev.Type) {
				continue
			}
			select {
			case c.entry.sub.Events <- ev:
			default:
				sh.log.Warn("sse: replay buffer full, dropping event", zap.String("key", c.key))
			}
		}
	}
	close(c.done)
}

func (sh *shard) handleUnsubscribe(c unsubscribeCmd) {
	if m, ok := sh.subs[c.key]; ok {
		delete(m, c.sub)
		if len(m) == 0 {
			delete(sh.subs, c.key)
		}
	}
}

func (sh *shard) handlePublish(c publishCmd) {
	id := sh.nextID.Add(1)
	ev := Event{ID: id, Base: c.base, Type: c.eventType, Data: c.payload}

	hist := append(sh.history[c.key], ev)
	if len(hist) > sh.historySize {
		hist = hist[len(hist)-sh.historySize:]
	}
	sh.history[c.key] = hist

	for sub, entry := range sh.subs[c.key] {
		if !matchesAny(entry.patterns, ev.Type) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			sh.log.Warn("sse: subscriber channel full, dropping event", zap.String("subscription", sub.ID))
		}
	}

	if c.reply != nil {
		c.reply <- ev
	}
}
