package lookup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/retry"
)

// MemoryStore is an in-memory fact store for demo and test use. It
// implements all three lookup interfaces.
//
// With a visibility lag, a record written by Put stays invisible for that
// many lookups, which is how the real stores behave right after ingestion.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]facts.UserProfile
	beneficiaries map[string]facts.BeneficiaryRisk
	sessions      map[string]*SessionRecord
	templates     map[string]*SessionRecord // transaction ID prefix → session
	pending       map[string]int            // key → lookups left before visible
	lag           int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithVisibilityLag hides each Put record for n lookups.
func WithVisibilityLag(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.lag = n
		}
	}
}

// NewMemoryStore creates an empty in-memory fact store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users:         make(map[string]facts.UserProfile),
		beneficiaries: make(map[string]facts.BeneficiaryRisk),
		sessions:      make(map[string]*SessionRecord),
		templates:     make(map[string]*SessionRecord),
		pending:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDemoStore creates a store seeded with the demo fixtures.
func NewDemoStore(opts ...MemoryOption) *MemoryStore {
	s := NewMemoryStore(opts...)
	s.seedDemo()
	return s
}

// PutUser stores a user profile.
func (s *MemoryStore) PutUser(p facts.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.UserID] = p
	s.hide("user:" + p.UserID)
}

// PutBeneficiary stores a beneficiary risk record.
func (s *MemoryStore) PutBeneficiary(b facts.BeneficiaryRisk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beneficiaries[b.AccountID] = b
	s.hide("beneficiary:" + b.AccountID)
}

// PutSession stores a session record.
func (s *MemoryStore) PutSession(rec *SessionRecord) {
	cp := *rec
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.TransactionID] = &cp
	s.hide("session:" + rec.TransactionID)
}

// PutSessionTemplate answers every transaction ID starting with prefix
// with a copy of rec.
func (s *MemoryStore) PutSessionTemplate(prefix string, rec *SessionRecord) {
	cp := *rec
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[prefix] = &cp
}

// hide applies the visibility lag to key. Caller must hold s.mu.
func (s *MemoryStore) hide(key string) {
	if s.lag > 0 {
		s.pending[key] = s.lag
	}
}

// visible consumes one hidden lookup for key. Caller must hold s.mu.
func (s *MemoryStore) visible(key string) bool {
	if n := s.pending[key]; n > 0 {
		s.pending[key] = n - 1
		return false
	}
	return true
}

func (s *MemoryStore) UserHistory(ctx context.Context, userID string) retry.Outcome[facts.UserProfile] {
	if err := ctx.Err(); err != nil {
		return retry.Failed[facts.UserProfile](retry.Permanent(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if !ok || !s.visible("user:"+userID) {
		return retry.Empty[facts.UserProfile]()
	}
	return retry.Found(p)
}

func (s *MemoryStore) BeneficiaryRisk(ctx context.Context, accountID string) retry.Outcome[facts.BeneficiaryRisk] {
	if err := ctx.Err(); err != nil {
		return retry.Failed[facts.BeneficiaryRisk](retry.Permanent(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beneficiaries[accountID]
	if !ok || !s.visible("beneficiary:"+accountID) {
		return retry.Empty[facts.BeneficiaryRisk]()
	}
	return retry.Found(b)
}

func (s *MemoryStore) Session(ctx context.Context, transactionID string) retry.Outcome[*SessionRecord] {
	if err := ctx.Err(); err != nil {
		return retry.Failed[*SessionRecord](retry.Permanent(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[transactionID]
	if ok && !s.visible("session:"+transactionID) {
		return retry.Empty[*SessionRecord]()
	}
	if !ok {
		rec, ok = s.matchTemplate(transactionID)
		if !ok {
			return retry.Empty[*SessionRecord]()
		}
	}

	cp := *rec
	cp.TransactionID = transactionID
	cp.VelocityLastHour = s.velocity(&cp)
	return retry.Found(&cp)
}

func (s *MemoryStore) matchTemplate(transactionID string) (*SessionRecord, bool) {
	for prefix, rec := range s.templates {
		if strings.HasPrefix(transactionID, prefix) {
			return rec, true
		}
	}
	return nil, false
}

// velocity counts the user's other sessions in the hour before rec.
// Caller must hold s.mu.
func (s *MemoryStore) velocity(rec *SessionRecord) int {
	if rec.CreatedAt.IsZero() {
		return 0
	}
	from := rec.CreatedAt.Add(-time.Hour)
	n := 0
	for id, other := range s.sessions {
		if id == rec.TransactionID || other.UserID != rec.UserID {
			continue
		}
		if !other.CreatedAt.Before(from) && other.CreatedAt.Before(rec.CreatedAt) {
			n++
		}
	}
	return n
}

func strPtr(v string) *string     { return &v }
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func decimalPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// seedDemo loads the fixtures the demo transactions refer to.
func (s *MemoryStore) seedDemo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users["user_good_history"] = facts.UserProfile{
		UserID:            "user_good_history",
		AgeGroup:          strPtr("Active"),
		AccountTenureDays: intPtr(3650),
		AvgTransferAmount: floatPtr(120.5),
		BehavioralSegment: strPtr("Conservative Saver"),
	}
	s.users["user_senior"] = facts.UserProfile{
		UserID:            "user_senior",
		AgeGroup:          strPtr("Senior"),
		AccountTenureDays: intPtr(5000),
		AvgTransferAmount: floatPtr(500.0),
		BehavioralSegment: strPtr("Vulnerable"),
	}

	s.beneficiaries["acc_normal"] = facts.BeneficiaryRisk{
		AccountID:             "acc_normal",
		AccountAgeHours:       floatPtr(8760),
		RiskScore:             10,
		LinkedToFlaggedDevice: boolPtr(false),
	}
	s.beneficiaries["acc_mule"] = facts.BeneficiaryRisk{
		AccountID:             "acc_mule",
		AccountAgeHours:       floatPtr(12),
		RiskScore:             95,
		LinkedToFlaggedDevice: boolPtr(true),
	}

	homeLat, homeLon := 51.5074, -0.1278
	s.sessions["tx_valid"] = &SessionRecord{
		TransactionID:   "tx_valid",
		UserID:          "user_good_history",
		SessionID:       strPtr("sess_valid_001"),
		BeneficiaryID:   "acc_normal",
		Amount:          decimalPtr("120.00"),
		TypingCadence:   floatPtr(0.55),
		DurationSeconds: intPtr(240),
		DeviceOS:        "iOS 17",
		BatteryLevel:    intPtr(85),
		Latitude:        floatPtr(51.5200),
		Longitude:       floatPtr(-0.1000),
		HomeLatitude:    &homeLat,
		HomeLongitude:   &homeLon,
		CreatedAt:       time.Date(2026, 1, 15, 14, 5, 0, 0, time.UTC),
	}
	s.sessions["tx_fraud"] = &SessionRecord{
		TransactionID:   "tx_fraud",
		UserID:          "user_senior",
		SessionID:       strPtr("sess_fraud_001"),
		BeneficiaryID:   "acc_mule",
		Amount:          decimalPtr("4500.00"),
		IsCallActive:    true,
		TypingCadence:   floatPtr(0.2),
		DurationSeconds: intPtr(45),
		DeviceOS:        "Android 14",
		BatteryLevel:    intPtr(15),
		Latitude:        floatPtr(53.4808),
		Longitude:       floatPtr(-2.2426),
		HomeLatitude:    &homeLat,
		HomeLongitude:   &homeLon,
		CreatedAt:       time.Date(2026, 1, 15, 2, 40, 0, 0, time.UTC),
	}
	s.templates["tx_verify"] = &SessionRecord{
		UserID:          "user_test_verify",
		SessionID:       strPtr("sess_verify_001"),
		BeneficiaryID:   "acc_mule",
		Amount:          decimalPtr("9800.00"),
		IsCallActive:    true,
		TypingCadence:   floatPtr(0.95),
		DurationSeconds: intPtr(30),
		DeviceOS:        "Android 11",
		IsRooted:        true,
		BatteryLevel:    intPtr(5),
		Latitude:        floatPtr(55.9533),
		Longitude:       floatPtr(-3.1883),
		HomeLatitude:    &homeLat,
		HomeLongitude:   &homeLon,
		CreatedAt:       time.Date(2026, 1, 15, 3, 10, 0, 0, time.UTC),
	}
}

var (
	_ UserHistoryStore = (*MemoryStore)(nil)
	_ BeneficiaryStore = (*MemoryStore)(nil)
	_ SessionStore     = (*MemoryStore)(nil)
)
