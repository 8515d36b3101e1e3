package model

// DefaultSessionLength is the width given to a session whose end boundary
// has not been observed yet.
const DefaultSessionLength uint64 = 101

// SkewTolerance is the clock-skew window; timestamps closer than this are
// treated as the same instant when matching session boundaries.
const SkewTolerance uint64 = 10

// Epsilon is subtracted from every observation timestamp before resolution
// so that an observation strictly precedes a boundary stamped in the same
// millisecond.
const Epsilon uint64 = 1

// UnidSession is an unresolved observation of an entity.
type UnidSession struct {
	PseudoKey  string `json:"pseudo_key"`
	Timestamp  uint64 `json:"timestamp"`
	IsCreation bool   `json:"is_creation"`
}

// Session is one persisted interval [CreateTime, EndTime) of a pseudo key's
// lifetime. CreateTime is part of the primary key and is never updated in
// place.
type Session struct {
	SessionID     string `json:"session_id" dynamodbav:"session_id"`
	PseudoKey     string `json:"pseudo_key" dynamodbav:"pseudo_key"`
	CreateTime    uint64 `json:"create_time" dynamodbav:"create_time"`
	EndTime       uint64 `json:"end_time" dynamodbav:"end_time"`
	IsCreateCanon bool   `json:"is_create_canon" dynamodbav:"is_create_canon"`
	IsEndCanon    bool   `json:"is_end_canon" dynamodbav:"is_end_canon"`
	Version       uint64 `json:"version" dynamodbav:"version"`
}

// NewSession returns a version-zero session starting at createTime with the
// default window.
func NewSession(id, pseudoKey string, createTime uint64, createCanon bool) *Session {
	return &Session{
		SessionID:     id,
		PseudoKey:     pseudoKey,
		CreateTime:    createTime,
		EndTime:       createTime + DefaultSessionLength,
		IsCreateCanon: createCanon,
	}
}

// Contains reports whether ts falls inside the session window, allowing
// for skew at the end boundary.
func (s *Session) Contains(ts uint64) bool {
	return ts < s.EndTime || SkewedCmp(ts, s.EndTime)
}

// Overlaps reports whether the session window reaches ts.
func (s *Session) Overlaps(ts uint64) bool {
	return s.EndTime >= ts
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// SkewedCmp reports whether a and b are within SkewTolerance of each other.
func SkewedCmp(a, b uint64) bool {
	if a > b {
		return a-b < SkewTolerance
	}
	return b-a < SkewTolerance
}

// Shave applies Epsilon to ts. Zero stays zero.
func Shave(ts uint64) uint64 {
	if ts < Epsilon {
		return 0
	}
	return ts - Epsilon
}
