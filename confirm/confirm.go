// Package confirm implements the stateless two-phase commit that guards
// mutating GET requests.
//
// Phase one fingerprints the requested mutation into a short HMAC hash and
// returns a preview; phase two recomputes the hash and executes only on a
// match. No server state is kept between the phases: the hash lives
// implicitly in time, bucketed by the configured TTL, and validation accepts
// the current and previous bucket so a hash minted just before a boundary
// still verifies just after it.
package confirm

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the bucket width used when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// HashLength is the number of hex characters kept from the HMAC digest.
const HashLength = 6

// Params is the fingerprint input for one mutation.
type Params struct {
	// Action is the mutation verb ("create", "delete", "qualify", ...).
	Action string

	// Type is the entity or collection type the action targets; empty for
	// untyped actions.
	Type string

	// Data is the captured mutation payload: every query parameter except
	// the confirm token itself.
	Data map[string]string

	// Tenant and UserID bind the hash to the requesting scope so a token
	// previewed by one principal cannot be replayed by another.
	Tenant string
	UserID string
}

// Signer produces and validates confirmation hashes. A Signer is immutable
// and safe for concurrent use.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner builds a signer over the server secret. A zero ttl selects
// DefaultTTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// TTL returns the configured bucket width.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Hash computes the confirmation token for params at the current bucket:
// the first 6 hex characters of HMAC-SHA-256 over
// "action|type|sortedData|tenant|userID|bucket".
func (s *Signer) Hash(p Params, now time.Time) string {
	return s.hashForBucket(p, s.bucket(now))
}

// Validate checks a presented token against the current and the previous
// time bucket in constant time. Future buckets are rejected, so a skewed
// client clock cannot mint not-yet-valid tokens.
func (s *Signer) Validate(token string, p Params, now time.Time) bool {
	if len(token) != HashLength {
		return false
	}
	bucket := s.bucket(now)

	current := s.hashForBucket(p, bucket)
	previous := s.hashForBucket(p, bucket-1)

	matchCurrent := subtle.ConstantTimeCompare([]byte(token), []byte(current))
	matchPrevious := subtle.ConstantTimeCompare([]byte(token), []byte(previous))
	return matchCurrent|matchPrevious == 1
}

func (s *Signer) bucket(now time.Time) int64 {
	return now.UnixMilli() / s.ttl.Milliseconds()
}

func (s *Signer) hashForBucket(p Params, bucket int64) string {
	payload := strings.Join([]string{
		p.Action,
		p.Type,
		SortedData(p.Data),
		p.Tenant,
		p.UserID,
		strconv.FormatInt(bucket, 10),
	}, "|")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:HashLength]
}

// SortedData serializes a data map as "k=v" pairs joined by "&" in
// key-sorted order, the canonical form hashed into the fingerprint.
func SortedData(data map[string]string) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + data[k]
	}
	return strings.Join(pairs, "&")
}

// Preview is the phase-one response payload placed under the envelope's
// "confirm" key.
type Preview struct {
	Action  string            `json:"action"`
	Type    string            `json:"type,omitempty"`
	Preview map[string]string `json:"preview"`
	Execute string            `json:"execute"`
	Cancel  string            `json:"cancel"`
}

// BuildPreview assembles the phase-one payload: the captured data, an
// execute URL carrying the freshly minted token, and the cancel URL
// pointing at the canonical parent resource.
func (s *Signer) BuildPreview(p Params, selfURL, cancelURL string, now time.Time) Preview {
	token := s.Hash(p, now)

	execute := selfURL
	if strings.Contains(execute, "?") {
		execute += "&confirm=" + token
	} else {
		execute += "?confirm=" + token
	}

	preview := p.Data
	if preview == nil {
		preview = map[string]string{}
	}

	return Preview{
		Action:  p.Action,
		Type:    p.Type,
		Preview: preview,
		Execute: execute,
		Cancel:  cancelURL,
	}
}
