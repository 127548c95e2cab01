// Package reputation implements the Reputation Store, Skills Store, and
// Receipts log (spec.md §4.11). Grounded on the teacher's
// internal/reputation/reputation_manager.go map-keyed-by-id, mutex-guarded
// CRUD idiom; the rating formula itself is generalized from the teacher's
// weighted-trust blend to a symmetric Elo update, since spec.md calls for
// "Elo-style ratings" rather than a weighted-trust score.
package reputation

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/snapshot"
)

const defaultRating = 1200.0
const defaultKFactor = 32.0

// Store owns every agent's ReputationRecord, SkillRegistration, and
// processed-receipt bookkeeping.
type Store struct {
	mu        sync.Mutex
	ratings   map[string]*core.ReputationRecord
	skills    map[string]*core.SkillRegistration
	processed map[string]bool // proposal id -> reputation already applied

	ratingsPath string
	skillsPath  string
	receiptsDir string
}

// New constructs a Store backed by files under dataDir.
func New(dataDir string) *Store {
	s := &Store{
		ratings:     make(map[string]*core.ReputationRecord),
		skills:      make(map[string]*core.SkillRegistration),
		processed:   make(map[string]bool),
		ratingsPath: dataDir + "/reputation.json",
		skillsPath:  dataDir + "/skills.json",
		receiptsDir: dataDir + "/receipts",
	}
	var ratings map[string]*core.ReputationRecord
	_ = snapshot.ReadJSON(s.ratingsPath, &ratings)
	for k, v := range ratings {
		s.ratings[k] = v
	}
	var skills map[string]*core.SkillRegistration
	_ = snapshot.ReadJSON(s.skillsPath, &skills)
	for k, v := range skills {
		s.skills[k] = v
	}
	return s
}

func (s *Store) recordFor(agentID string) *core.ReputationRecord {
	r, ok := s.ratings[agentID]
	if !ok {
		r = &core.ReputationRecord{AgentID: agentID, Rating: defaultRating, KFactor: defaultKFactor}
		s.ratings[agentID] = r
	}
	return r
}

// Rating returns an agent's current rating, defaulting unseen agents to
// defaultRating.
func (s *Store) Rating(agentID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordFor(agentID).Rating
}

// Games returns an agent's completed-games count.
func (s *Store) Games(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordFor(agentID).Games
}

// expectedScore is the standard Elo expectation for a over b.
func expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// ApplyVerdict updates both parties' ratings symmetrically, zero-sum, from
// an arbitration verdict. scoreA is 1.0 if a fully prevailed, 0.0 if fully
// lost, 0.5 for a mutual/split verdict. Idempotent per proposalID: a repeat
// call for the same proposalID is a no-op.
func (s *Store) ApplyVerdict(proposalID, agentA, agentB string, scoreA float64) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[proposalID] {
		return nil
	}
	s.processed[proposalID] = true

	ra := s.recordFor(agentA)
	rb := s.recordFor(agentB)

	expectedA := expectedScore(ra.Rating, rb.Rating)
	expectedB := 1.0 - expectedA
	deltaA := ra.KFactor * (scoreA - expectedA)
	deltaB := rb.KFactor * ((1.0 - scoreA) - expectedB)

	ra.Rating += deltaA
	rb.Rating += deltaB
	ra.Games++
	rb.Games++

	s.persistRatingsLocked()
	return map[string]float64{agentA: deltaA, agentB: deltaB}
}

// ApplyReceipt updates both parties' ratings on a confirmed completion
// receipt (non-disputed), treated as a mutual positive outcome.
func (s *Store) ApplyReceipt(proposalID, proposer, acceptor string) map[string]float64 {
	return s.ApplyVerdict(proposalID, proposer, acceptor, 0.5)
}

func (s *Store) persistRatingsLocked() {
	_ = snapshot.WriteJSON(s.ratingsPath, s.ratings, false)
}

// RegisterSkills merges a signed skill self-report into the persistent
// store.
func (s *Store) RegisterSkills(agentID string, skills []core.Skill, sig string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[agentID] = &core.SkillRegistration{AgentID: agentID, Skills: skills, RegisteredAt: now, Signature: sig}
	_ = snapshot.WriteJSON(s.skillsPath, s.skills, false)
}

// SkillMatch is one ranked search result.
type SkillMatch struct {
	AgentID    string
	Capability string
	Rate       string
	Rating     float64
}

// SearchSkills ranks matches first by capability exact/substring match,
// then by declared rate, then by reputation, per spec.md §4.11.
func (s *Store) SearchSkills(query string) []SkillMatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []SkillMatch
	for agentID, reg := range s.skills {
		for _, sk := range reg.Skills {
			exact := sk.Capability == query
			substr := exact || contains(sk.Capability, query)
			if !substr {
				continue
			}
			rating := defaultRating
			if r, ok := s.ratings[agentID]; ok {
				rating = r.Rating
			}
			matches = append(matches, SkillMatch{
				AgentID: agentID, Capability: sk.Capability, Rate: sk.Rate, Rating: rating,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		iExact := matches[i].Capability == query
		jExact := matches[j].Capability == query
		if iExact != jExact {
			return iExact
		}
		if matches[i].Rate != matches[j].Rate {
			return matches[i].Rate > matches[j].Rate
		}
		return matches[i].Rating > matches[j].Rating
	})
	return matches
}

func contains(haystack, needle string) bool {
	return needle == "" || strings.Contains(haystack, needle)
}

// AppendReceipt writes one completed-proposal receipt to an agent's local
// JSON-lines receipts log.
func (s *Store) AppendReceipt(agentID string, receipt core.Receipt) error {
	path := s.receiptsDir + "/" + agentID + ".jsonl"
	return snapshot.AppendJSONLine(path, receipt)
}
