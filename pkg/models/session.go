package models

import "time"

// SessionStatus mirrors the wire `status` field returned from the session endpoints.
type SessionStatus string

const (
	StatusRequestProbe    SessionStatus = "REQUEST_PROBE"
	StatusCandidatesFound SessionStatus = "CANDIDATES_FOUND"
	StatusMatchFound      SessionStatus = "MATCH_FOUND"
	StatusNoMatch         SessionStatus = "NO_MATCH"
)

// Probe is a descriptor plus the measured scalar for a specific query
// image. Carried on the wire in full; the server re-derives integer
// lookup keys from the quantization constants.
type Probe struct {
	Descriptor Descriptor `json:"descriptor"`
	Value      float64    `json:"value"`
	Size       float64    `json:"size"`
	RelX       float64    `json:"relX"`
	RelY       float64    `json:"relY"`
}

func (p Probe) DescriptorHash() string { return p.Descriptor.Hash() }

// ConstellationStep is one entry of a session's probe history, returned
// with every response for client telemetry only — it never drives control
// flow.
type ConstellationStep struct {
	DescriptorHash     string  `json:"descriptorHash"`
	CandidateCount     int     `json:"candidateCount"`
	RelX               float64 `json:"relX"`
	RelY               float64 `json:"relY"`
	Size               float64 `json:"size"`
	AccuracyScore      float64 `json:"accuracyScore"`
	CumulativeAccuracy float64 `json:"cumulativeAccuracy"`
}

// Session is the ephemeral, process-local probing state.
type Session struct {
	SessionID            string
	CandidateIDs         []int64
	AskedDescriptorHashes map[string]bool
	LastProbe            Probe
	ConstellationPath    []ConstellationStep
	CreatedAt            time.Time
	LastTouchedAt         time.Time
}

func NewSession(id string, candidateIDs []int64, probe Probe) *Session {
	now := time.Now()
	s := &Session{
		SessionID:             id,
		CandidateIDs:          candidateIDs,
		AskedDescriptorHashes: map[string]bool{probe.DescriptorHash(): true},
		LastProbe:             probe,
		CreatedAt:             now,
		LastTouchedAt:         now,
	}
	return s
}

func (s *Session) HasAsked(hash string) bool { return s.AskedDescriptorHashes[hash] }

func (s *Session) MarkAsked(hash string) { s.AskedDescriptorHashes[hash] = true }

func (s *Session) AppendStep(step ConstellationStep) {
	if n := len(s.ConstellationPath); n > 0 {
		step.CumulativeAccuracy = s.ConstellationPath[n-1].CumulativeAccuracy * step.AccuracyScore
	} else {
		step.CumulativeAccuracy = step.AccuracyScore
	}
	s.ConstellationPath = append(s.ConstellationPath, step)
}
