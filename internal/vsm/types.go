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

// Package vsm implements the five-system VSM router (S1 operations, S2
// coordination, S3 control, S4 intelligence, S5 policy): classification of
// inbound work into a fast or audited lane, a per-system hash-chained audit
// trail for the audited lane, and static per-system dispatch tables.
package vsm

import "time"

// Lane is the processing lane an inbound operation is classified into.
type Lane int

const (
	// LaneFast carries routine, single-system work with no audit chain.
	LaneFast Lane = iota
	// LaneAudited carries cross-system hops, policy-changing messages, and
	// global broadcasts; every entry is appended to its target system's
	// hash-chained audit trail. Classify does not check causal_vector.
	LaneAudited
)

func (l Lane) String() string {
	if l == LaneAudited {
		return "audited"
	}
	return "fast"
}

// System identifies one of the five VSM subsystems.
type System int

const (
	SystemS1 System = iota + 1 // operations
	SystemS2                   // coordination
	SystemS3                   // control
	SystemS4                   // intelligence
	SystemS5                   // policy
)

func (s System) String() string {
	switch s {
	case SystemS1:
		return "s1"
	case SystemS2:
		return "s2"
	case SystemS3:
		return "s3"
	case SystemS4:
		return "s4"
	case SystemS5:
		return "s5"
	default:
		return "unknown"
	}
}

// Systems lists all five subsystems in order, for static table
// initialization and iteration.
var Systems = [5]System{SystemS1, SystemS2, SystemS3, SystemS4, SystemS5}

// RouteInput is the domain-agnostic description of an inbound operation
// about to be classified and dispatched to a VSM subsystem.
type RouteInput struct {
	System      System
	MessageType string // dispatch discriminator within the target system
	EpisodeID   string

	// Classification flags, forcing LaneAudited when any is set.
	CrossSystem       bool // message hops from one system's queue to another
	ChangesPolicy      bool // message mutates policy registry state
	IsGlobalBroadcast bool // message fans out to more than one system

	SeqEnd uint64 // monotonic per-system sequence marker for the audit chain
}

// ErrNoSystem is returned by Classify when RouteInput names no system.
var ErrNoSystem = classifyError("route input missing target system")

type classifyError string

func (e classifyError) Error() string { return string(e) }

// Classify projects an inbound RouteInput into a Lane. It defaults to
// LaneAudited whenever there is any uncertainty about audit requirements,
// mirroring the forced-to-audited rules: cross-system hops, policy-changing
// messages, and global broadcasts always audit.
func Classify(in RouteInput) (Lane, error) {
	if in.System == 0 {
		return LaneAudited, ErrNoSystem
	}
	if in.CrossSystem || in.ChangesPolicy || in.IsGlobalBroadcast {
		return LaneAudited, nil
	}
	return LaneFast, nil
}

// Episode is the unit of work handed across S1-S5 (§ Data Model "Episode").
type Episode struct {
	ID           string
	Kind         string
	Title        string
	Priority     float64
	SourceSystem System
	CreatedAt    time.Time
	Context      map[string]any
	Data         []byte
	Metadata     map[string]string
}
