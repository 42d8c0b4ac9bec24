package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.TipStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.DeviceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- TipStore ---------------------------------------------------------------

const tipColumns = `id, sender_id, receiver_id, amount, net_amount, total_fees, platform_fee,
	nonce, request_timestamp, created_at, created_at_local_date, timezone,
	payment_intent_id, charge_id, dispute_id, dispute_reason,
	status, failure_reason, fraud_warning, fraud_type, updated_at`

func (s *Store) CreateTip(ctx context.Context, t tip.Tip) (tip.Tip, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	r := toTipRow(t)
	var out tipRow
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO tips (`+tipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING `+tipColumns,
		r.ID, r.SenderID, r.ReceiverID, r.Amount, r.NetAmount, r.TotalFees, r.PlatformFee,
		r.Nonce, r.RequestTimestamp, r.CreatedAt, t.CreatedAtLocalDate, r.Timezone,
		r.PaymentIntentID, r.ChargeID, r.DisputeID, r.DisputeReason,
		r.Status, r.FailureReason, r.FraudWarning, r.FraudType, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "tips_sender_nonce_key") {
			return tip.Tip{}, storage.ErrDuplicateTip
		}
		return tip.Tip{}, fmt.Errorf("insert tip: %w", err)
	}
	return out.toTip(), nil
}

func (s *Store) UpdateTip(ctx context.Context, t tip.Tip, expected tip.Status) (tip.Tip, error) {
	r := toTipRow(t)
	var out tipRow
	err := s.db.GetContext(ctx, &out, `
		UPDATE tips
		SET net_amount = $3, total_fees = $4, platform_fee = $5,
			payment_intent_id = $6, charge_id = $7, dispute_id = $8, dispute_reason = $9,
			status = $10, failure_reason = $11, fraud_warning = $12, fraud_type = $13,
			updated_at = GREATEST($14, updated_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND status = $2 AND updated_at = $15
		RETURNING `+tipColumns,
		r.ID, string(expected), r.NetAmount, r.TotalFees, r.PlatformFee,
		r.PaymentIntentID, r.ChargeID, r.DisputeID, r.DisputeReason,
		r.Status, r.FailureReason, r.FraudWarning, r.FraudType,
		time.Now().UTC(), r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetTip(ctx, t.ID); getErr != nil {
			return tip.Tip{}, getErr
		}
		return tip.Tip{}, storage.ErrConflict
	}
	if err != nil {
		return tip.Tip{}, fmt.Errorf("update tip: %w", err)
	}
	return out.toTip(), nil
}

func (s *Store) getTipWhere(ctx context.Context, where string, args ...interface{}) (tip.Tip, error) {
	var r tipRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+tipColumns+` FROM tips WHERE `+where+` LIMIT 1`, args...); err != nil {
		return tip.Tip{}, notFound(err)
	}
	return r.toTip(), nil
}

func (s *Store) GetTip(ctx context.Context, id string) (tip.Tip, error) {
	return s.getTipWhere(ctx, `id = $1`, id)
}

func (s *Store) ExistsBySenderNonce(ctx context.Context, senderID, nonce string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM tips WHERE sender_id = $1 AND nonce = $2)`, senderID, nonce)
	return exists, err
}

func (s *Store) GetTipBySenderNonce(ctx context.Context, senderID, nonce string) (tip.Tip, error) {
	return s.getTipWhere(ctx, `sender_id = $1 AND nonce = $2`, senderID, nonce)
}

func (s *Store) GetTipByPaymentIntent(ctx context.Context, paymentIntentID string) (tip.Tip, error) {
	if paymentIntentID == "" {
		return tip.Tip{}, storage.ErrNotFound
	}
	return s.getTipWhere(ctx, `payment_intent_id = $1`, paymentIntentID)
}

func (s *Store) GetTipByCharge(ctx context.Context, chargeID string) (tip.Tip, error) {
	if chargeID == "" {
		return tip.Tip{}, storage.ErrNotFound
	}
	return s.getTipWhere(ctx, `charge_id = $1`, chargeID)
}

func (s *Store) selectTips(ctx context.Context, query string, args ...interface{}) ([]tip.Tip, error) {
	var rows []tipRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]tip.Tip, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTip())
	}
	return out, nil
}

func (s *Store) ListTipsReceivedOn(ctx context.Context, receiverID, localDate string) ([]tip.Tip, error) {
	return s.selectTips(ctx, `
		SELECT `+tipColumns+`
		FROM tips
		WHERE receiver_id = $1 AND created_at_local_date = $2
		ORDER BY created_at DESC
	`, receiverID, localDate)
}

func (s *Store) ListTipsSentBetween(ctx context.Context, senderID, startDate, endDate string) ([]tip.Tip, error) {
	return s.selectTips(ctx, `
		SELECT `+tipColumns+`
		FROM tips
		WHERE sender_id = $1 AND created_at_local_date BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`, senderID, startDate, endDate)
}

func (s *Store) ListPendingTips(ctx context.Context, createdBefore time.Time, after storage.PendingCursor, limit int) ([]tip.Tip, error) {
	if limit <= 0 {
		limit = 100
	}
	if after.IsZero() {
		return s.selectTips(ctx, `
			SELECT `+tipColumns+`
			FROM tips
			WHERE status = 'PENDING' AND payment_intent_id <> '' AND created_at < $1
			ORDER BY created_at, id
			LIMIT $2
		`, createdBefore.UTC(), limit)
	}
	return s.selectTips(ctx, `
		SELECT `+tipColumns+`
		FROM tips
		WHERE status = 'PENDING' AND payment_intent_id <> '' AND created_at < $1
			AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id
		LIMIT $4
	`, createdBefore.UTC(), after.CreatedAt.UTC(), after.ID, limit)
}

func (s *Store) CountOrphanedTips(ctx context.Context, createdBefore time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		FROM tips
		WHERE status = 'PENDING' AND COALESCE(payment_intent_id, '') = '' AND created_at < $1
	`, createdBefore.UTC())
	return n, err
}

func (s *Store) SenderDisputeStats(ctx context.Context, senderID string) (storage.DisputeStats, error) {
	var row struct {
		Total    int `db:"total"`
		Disputed int `db:"disputed"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'DISPUTED') AS disputed
		FROM tips
		WHERE sender_id = $1
	`, senderID)
	if err != nil {
		return storage.DisputeStats{}, err
	}
	return storage.DisputeStats{Total: row.Total, Disputed: row.Disputed}, nil
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, email, display_name, processor_account_id, onboarded,
	processor_customer_id, default_payment_method_id,
	suspended, suspension_reason, suspended_at, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u account.User) (account.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	r := toUserRow(u)
	var out userRow
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+userColumns,
		r.ID, r.Email, r.DisplayName, r.ProcessorAccountID, r.Onboarded,
		r.ProcessorCustomerID, r.DefaultPaymentMethodID,
		r.Suspended, r.SuspensionReason, r.SuspendedAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return account.User{}, fmt.Errorf("insert user: %w", err)
	}
	return out.toUser(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (account.User, error) {
	var r userRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return account.User{}, notFound(err)
	}
	return r.toUser(), nil
}

func (s *Store) GetUserByProcessorAccount(ctx context.Context, accountID string) (account.User, error) {
	var r userRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+userColumns+` FROM users WHERE processor_account_id = $1`, accountID); err != nil {
		return account.User{}, notFound(err)
	}
	return r.toUser(), nil
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email)
	return exists, err
}

func (s *Store) UpdateProcessorLinks(ctx context.Context, u account.User) (account.User, error) {
	r := toUserRow(u)
	var out userRow
	err := s.db.GetContext(ctx, &out, `
		UPDATE users
		SET processor_account_id = $2, onboarded = $3,
			processor_customer_id = $4, default_payment_method_id = $5,
			updated_at = $6
		WHERE id = $1
		RETURNING `+userColumns,
		r.ID, r.ProcessorAccountID, r.Onboarded, r.ProcessorCustomerID, r.DefaultPaymentMethodID,
		time.Now().UTC())
	if err != nil {
		return account.User{}, notFound(err)
	}
	return out.toUser(), nil
}

func (s *Store) SuspendUser(ctx context.Context, userID, reason string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET suspended = TRUE, suspension_reason = $2, suspended_at = $3, updated_at = $3
		WHERE id = $1 AND suspended = FALSE
	`, userID, reason, at.UTC())
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return true, nil
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// --- DeviceStore ------------------------------------------------------------

const deviceColumns = `id, user_id, name, public_key, is_active, last_seen, created_at`

func (s *Store) ListDevices(ctx context.Context, userID string) ([]account.Device, error) {
	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at
	`, userID); err != nil {
		return nil, err
	}
	out := make([]account.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDevice())
	}
	return out, nil
}

func (s *Store) UpsertDevice(ctx context.Context, d account.Device) (account.Device, bool, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	var out struct {
		deviceRow
		Inserted bool `db:"inserted"`
	}
	// xmax is zero only for freshly inserted rows.
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO devices (id, user_id, name, public_key, is_active, last_seen, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (user_id, public_key) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), devices.name),
			is_active = TRUE,
			last_seen = EXCLUDED.last_seen
		RETURNING `+deviceColumns+`, (xmax = 0) AS inserted
	`, d.ID, d.UserID, d.Name, d.PublicKey, now)
	if err != nil {
		return account.Device{}, false, fmt.Errorf("upsert device: %w", err)
	}
	return out.toDevice(), out.Inserted, nil
}

func (s *Store) DeactivateDevicesByPrefix(ctx context.Context, userID, prefix string, keepKey []byte) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE devices
		SET is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE AND name LIKE $2 AND public_key <> $3
	`, userID, escapeLike(prefix)+"%", keepKey)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}
