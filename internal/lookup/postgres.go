package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/retry"
)

// PostgresStore reads facts from the customer_profiles, beneficiary_accounts
// and banking_sessions tables. A missing row is Empty, not an error, since
// ingestion may not have caught up yet.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed fact store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// failed classifies a query error. Cancellation is permanent; anything else
// is worth another attempt.
func failed[T any](op string, err error) retry.Outcome[T] {
	err = fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Failed[T](retry.Permanent(err))
	}
	return retry.Failed[T](err)
}

func (p *PostgresStore) UserHistory(ctx context.Context, userID string) retry.Outcome[facts.UserProfile] {
	var (
		prof      = facts.UserProfile{UserID: userID}
		ageGroup  sql.NullString
		tenure    sql.NullInt64
		avgAmount sql.NullFloat64
		segment   sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT age_group, account_tenure_days, avg_transfer_amount, behavioral_segment, previous_violations
		FROM customer_profiles
		WHERE user_id = $1`, userID,
	).Scan(&ageGroup, &tenure, &avgAmount, &segment, &prof.PreviousViolations)
	if errors.Is(err, sql.ErrNoRows) {
		return retry.Empty[facts.UserProfile]()
	}
	if err != nil {
		return failed[facts.UserProfile]("query user history", err)
	}

	if ageGroup.Valid {
		prof.AgeGroup = &ageGroup.String
	}
	if tenure.Valid {
		days := int(tenure.Int64)
		prof.AccountTenureDays = &days
	}
	if avgAmount.Valid {
		prof.AvgTransferAmount = &avgAmount.Float64
	}
	if segment.Valid {
		prof.BehavioralSegment = &segment.String
	}
	return retry.Found(prof)
}

func (p *PostgresStore) BeneficiaryRisk(ctx context.Context, accountID string) retry.Outcome[facts.BeneficiaryRisk] {
	var (
		b       = facts.BeneficiaryRisk{AccountID: accountID}
		ageHrs  float64
		flagged sql.NullBool
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (NOW() - created_at)) / 3600.0, risk_score, linked_to_flagged_device
		FROM beneficiary_accounts
		WHERE account_id = $1`, accountID,
	).Scan(&ageHrs, &b.RiskScore, &flagged)
	if errors.Is(err, sql.ErrNoRows) {
		return retry.Empty[facts.BeneficiaryRisk]()
	}
	if err != nil {
		return failed[facts.BeneficiaryRisk]("query beneficiary", err)
	}

	if ageHrs < 0 {
		ageHrs = 0
	}
	b.AccountAgeHours = &ageHrs
	if flagged.Valid {
		b.LinkedToFlaggedDevice = &flagged.Bool
	}
	return retry.Found(b)
}

func (p *PostgresStore) Session(ctx context.Context, transactionID string) retry.Outcome[*SessionRecord] {
	var (
		rec       = &SessionRecord{TransactionID: transactionID}
		sessionID sql.NullString
		benefID   sql.NullString
		amt       decimal.NullDecimal
		typing    sql.NullFloat64
		duration  sql.NullInt64
		deviceOS  sql.NullString
		battery   sql.NullInt64
		lat, lon  sql.NullFloat64
		homeLat   sql.NullFloat64
		homeLon   sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT s.user_id, s.session_id, s.beneficiary_id, s.amount, s.is_call_active,
		       s.typing_cadence, s.session_duration_s, s.device_os, s.is_rooted,
		       s.battery_level, s.latitude, s.longitude, s.created_at,
		       c.home_latitude, c.home_longitude,
		       (SELECT COUNT(*) FROM banking_sessions v
		         WHERE v.user_id = s.user_id
		           AND v.created_at >= s.created_at - INTERVAL '1 hour'
		           AND v.created_at < s.created_at)
		FROM banking_sessions s
		LEFT JOIN customer_profiles c ON c.user_id = s.user_id
		WHERE s.transaction_id = $1`, transactionID,
	).Scan(
		&rec.UserID, &sessionID, &benefID, &amt, &rec.IsCallActive,
		&typing, &duration, &deviceOS, &rec.IsRooted,
		&battery, &lat, &lon, &rec.CreatedAt,
		&homeLat, &homeLon,
		&rec.VelocityLastHour,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return retry.Empty[*SessionRecord]()
	}
	if err != nil {
		return failed[*SessionRecord]("query session", err)
	}

	if sessionID.Valid {
		rec.SessionID = &sessionID.String
	}
	rec.BeneficiaryID = benefID.String
	if amt.Valid {
		rec.Amount = &amt.Decimal
	}
	if typing.Valid {
		rec.TypingCadence = &typing.Float64
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationSeconds = &d
	}
	rec.DeviceOS = deviceOS.String
	if battery.Valid {
		b := int(battery.Int64)
		rec.BatteryLevel = &b
	}
	rec.Latitude = nullFloat(lat)
	rec.Longitude = nullFloat(lon)
	rec.HomeLatitude = nullFloat(homeLat)
	rec.HomeLongitude = nullFloat(homeLon)
	return retry.Found(rec)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Ping checks connectivity. Used by the health registry.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

var (
	_ UserHistoryStore = (*PostgresStore)(nil)
	_ BeneficiaryStore = (*PostgresStore)(nil)
	_ SessionStore     = (*PostgresStore)(nil)
)
