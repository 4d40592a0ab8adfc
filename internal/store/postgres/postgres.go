package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// payoutNumberLockKey guards payout number allocation across connections.
const payoutNumberLockKey int64 = 0x5041594f5554

const txAttempts = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction and retries it when postgres reports a
// serialization failure or deadlock. Exhausted retries surface ErrConflict.
func (s *Store) inTx(ctx context.Context, isolation sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txAttempts; attempt++ {
		lastErr = s.runTx(ctx, isolation, fn)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) runTx(ctx context.Context, isolation sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetOrderLine(ctx context.Context, orderID string, orderItemID string) (*domain.OrderLine, error) {
	var (
		line     domain.OrderLine
		sellerID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT oi.order_id, oi.id, oi.product_id, p.seller_id, oi.subtotal
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1 AND oi.id = $2
	`, orderID, orderItemID).Scan(&line.OrderID, &line.OrderItemID, &line.ProductID, &sellerID, &line.LineTotal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	line.SellerID = sellerID.String
	return &line, nil
}

func (s *Store) SellerCompletedSales(ctx context.Context, sellerID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(oi.subtotal), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE p.seller_id = $1 AND o.status = 'completed'
	`, sellerID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) UpsertSeller(ctx context.Context, seller domain.SellerFinance) (*domain.SellerFinance, error) {
	if seller.SellerID == "" {
		return nil, store.ErrValidation
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO seller_finances (seller_id, name, email, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (seller_id)
		DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = now()
		RETURNING `+financeColumns,
		seller.SellerID, seller.Name, seller.Email)
	finance, err := scanFinance(row)
	if err != nil {
		return nil, err
	}
	return &finance, nil
}

func (s *Store) GetSellerFinance(ctx context.Context, sellerID string) (*domain.SellerFinance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+financeColumns+` FROM seller_finances WHERE seller_id = $1`, sellerID)
	finance, err := scanFinance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &finance, nil
}

func (s *Store) GetSettings(ctx context.Context, sellerID string) (*domain.SellerCommissionSettings, error) {
	var (
		settings domain.SellerCommissionSettings
		method   sql.NullString
		details  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seller_id, use_custom_rate, custom_commission_rate, custom_platform_fee_rate,
			minimum_payout_amount, payment_method, payment_details, updated_at
		FROM seller_commission_settings
		WHERE seller_id = $1
	`, sellerID).Scan(&settings.SellerID, &settings.UseCustomRate, &settings.CustomCommissionRate,
		&settings.CustomPlatformFeeRate, &settings.MinimumPayoutAmount, &method, &details, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settings.PaymentMethod = method.String
	settings.PaymentDetails = details.String
	return &settings, nil
}

func (s *Store) UpsertSettings(ctx context.Context, settings domain.SellerCommissionSettings) (*domain.SellerCommissionSettings, error) {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seller_commission_settings (
			seller_id, use_custom_rate, custom_commission_rate, custom_platform_fee_rate,
			minimum_payout_amount, payment_method, payment_details, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (seller_id)
		DO UPDATE SET use_custom_rate = EXCLUDED.use_custom_rate,
			custom_commission_rate = EXCLUDED.custom_commission_rate,
			custom_platform_fee_rate = EXCLUDED.custom_platform_fee_rate,
			minimum_payout_amount = EXCLUDED.minimum_payout_amount,
			payment_method = EXCLUDED.payment_method,
			payment_details = EXCLUDED.payment_details,
			updated_at = EXCLUDED.updated_at
	`, settings.SellerID, settings.UseCustomRate, settings.CustomCommissionRate, settings.CustomPlatformFeeRate,
		settings.MinimumPayoutAmount, nullIfEmpty(settings.PaymentMethod), nullIfEmpty(settings.PaymentDetails), settings.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	out := settings
	return &out, nil
}

const tierColumns = `id, name, description, min_sales, max_sales, commission_rate, platform_fee_rate,
	priority, is_active, created_at, updated_at, deleted_at`

func (s *Store) CreateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	if tier.ID == "" {
		tier.ID = xid.New("tier")
	}
	if tier.CreatedAt.IsZero() {
		tier.CreatedAt = time.Now().UTC()
	}
	tier.UpdatedAt = tier.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_tiers (`+tierColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULL)
	`, tier.ID, tier.Name, tier.Description, tier.MinSales, tier.MaxSales, tier.CommissionRate,
		tier.PlatformFeeRate, tier.Priority, tier.IsActive, tier.CreatedAt, tier.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	out := tier
	return &out, nil
}

func (s *Store) UpdateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	if tier.UpdatedAt.IsZero() {
		tier.UpdatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE commission_tiers
		SET name = $2, description = $3, min_sales = $4, max_sales = $5, commission_rate = $6,
			platform_fee_rate = $7, priority = $8, is_active = $9, updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+tierColumns,
		tier.ID, tier.Name, tier.Description, tier.MinSales, tier.MaxSales, tier.CommissionRate,
		tier.PlatformFeeRate, tier.Priority, tier.IsActive, tier.UpdatedAt)
	updated, err := scanTier(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) SoftDeleteTier(ctx context.Context, id string, at time.Time) (*domain.CommissionTier, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE commission_tiers
		SET is_active = false, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+tierColumns, id, at)
	deleted, err := scanTier(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &deleted, nil
}

func (s *Store) GetTier(ctx context.Context, id string) (*domain.CommissionTier, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tierColumns+` FROM commission_tiers WHERE id = $1`, id)
	t, err := scanTier(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTiers(ctx context.Context, includeInactive bool) ([]domain.CommissionTier, error) {
	query := `SELECT ` + tierColumns + ` FROM commission_tiers`
	if !includeInactive {
		query += ` WHERE is_active = true AND deleted_at IS NULL`
	}
	query += ` ORDER BY priority, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make([]domain.CommissionTier, 0, 8)
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tiers, nil
}

const commissionColumns = `id, seller_id, order_id, order_item_id, product_id, tier_id, order_amount,
	commission_rate, platform_fee_rate, commission_amount, platform_fee, net_amount, status,
	payout_id, cancel_reason, created_at, updated_at, approved_at, paid_at, cancelled_at`

func (s *Store) FindCommissionByOrderItem(ctx context.Context, orderItemID string) (*domain.Commission, error) {
	return s.findCommission(ctx, s.db, "order_item_id", orderItemID, false)
}

func (s *Store) GetCommission(ctx context.Context, id string) (*domain.Commission, error) {
	return s.findCommission(ctx, s.db, "id", id, false)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) findCommission(ctx context.Context, q queryRower, column string, value string, lock bool) (*domain.Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM seller_commissions WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	c, err := scanCommission(q.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCommissions(ctx context.Context, ids []string) ([]domain.Commission, error) {
	if len(ids) == 0 {
		return []domain.Commission{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+commissionColumns+` FROM seller_commissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectCommissions(rows)
}

func (s *Store) ListCommissions(ctx context.Context, filter domain.CommissionFilter) ([]domain.Commission, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		clauses = append(clauses, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + commissionColumns + ` FROM seller_commissions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectCommissions(rows)
}

var errDuplicateOrderItem = errors.New("commission already recorded for order item")

func (s *Store) RecordCommission(ctx context.Context, commission domain.Commission) (*domain.Commission, bool, error) {
	if commission.OrderItemID == "" || commission.SellerID == "" {
		return nil, false, store.ErrValidation
	}
	if commission.ID == "" {
		commission.ID = xid.New("com")
	}
	if commission.CreatedAt.IsZero() {
		commission.CreatedAt = time.Now().UTC()
		commission.UpdatedAt = commission.CreatedAt
	}

	err := s.inTx(ctx, sql.LevelSerializable, func(tx *sql.Tx) error {
		if err := applyBalance(ctx, tx, commission.SellerID, domain.RecordPending(commission.NetAmount), commission.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO seller_commissions (`+commissionColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULL,NULL,$14,$15,NULL,NULL,NULL)
		`, commission.ID, commission.SellerID, commission.OrderID, commission.OrderItemID,
			nullIfEmpty(commission.ProductID), nullIfEmpty(commission.TierID), commission.OrderAmount,
			commission.CommissionRate, commission.PlatformFeeRate, commission.CommissionAmount,
			commission.PlatformFee, commission.NetAmount, commission.Status, commission.CreatedAt, commission.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errDuplicateOrderItem
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errDuplicateOrderItem) || isUniqueViolation(err) {
			existing, lookupErr := s.FindCommissionByOrderItem(ctx, commission.OrderItemID)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	return &commission, true, nil
}

func (s *Store) TransitionCommission(ctx context.Context, id string, mutate store.CommissionMutation) (*domain.Commission, error) {
	current, err := s.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	sellerID := current.SellerID

	var next domain.Commission
	err = s.inTx(ctx, sql.LevelSerializable, func(tx *sql.Tx) error {
		finance, err := lockFinance(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		locked, err := s.findCommission(ctx, tx, "id", id, true)
		if err != nil {
			return err
		}

		var change domain.BalanceChange
		next, change, err = mutate(*locked)
		if err != nil {
			return err
		}
		if err := writeBalance(ctx, tx, finance, change, next.UpdatedAt); err != nil {
			return err
		}
		return updateCommission(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Store) CreatePayout(ctx context.Context, draft domain.PayoutDraft) (*domain.Payout, error) {
	if len(draft.CommissionIDs) == 0 {
		return nil, store.ErrBusinessRule
	}
	at := draft.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payoutID := draft.ID
	if payoutID == "" {
		payoutID = xid.New("pay")
	}

	var payout domain.Payout
	// Read committed so the number allocation sees rows committed while this
	// transaction waited on the advisory lock.
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		finance, err := lockFinance(ctx, tx, draft.SellerID)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+commissionColumns+`
			FROM seller_commissions
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, draft.CommissionIDs)
		if err != nil {
			return err
		}
		found, err := collectCommissions(rows)
		if err != nil {
			return err
		}
		byID := make(map[string]domain.Commission, len(found))
		for _, c := range found {
			byID[c.ID] = c
		}

		locked := make([]domain.Commission, 0, len(draft.CommissionIDs))
		for _, id := range draft.CommissionIDs {
			c, ok := byID[id]
			if !ok {
				return store.ErrNotFound
			}
			if c.SellerID != draft.SellerID || c.Status != domain.CommissionStatusApproved {
				return fmt.Errorf("%w: commission %s is %s", store.ErrConflict, c.ID, c.Status)
			}
			locked = append(locked, c)
		}
		total := domain.SumNet(locked)
		if !total.Equal(draft.ExpectedTotal) {
			return fmt.Errorf("%w: selection total changed from %s to %s", store.ErrConflict, draft.ExpectedTotal, total)
		}

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, payoutNumberLockKey); err != nil {
			return err
		}
		var seq int64
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(CAST(SUBSTRING(payout_number FROM 5) AS BIGINT)), 0) + 1
			FROM commission_payouts
		`).Scan(&seq)
		if err != nil {
			return err
		}

		fee, net := domain.ComputePayoutFee(total, draft.TransactionFeeRate)
		payout = domain.Payout{
			ID:                 payoutID,
			SellerID:           draft.SellerID,
			PayoutNumber:       domain.FormatPayoutNumber(seq),
			TotalAmount:        total,
			TransactionFeeRate: draft.TransactionFeeRate,
			TransactionFee:     fee,
			NetAmount:          net,
			PaymentMethod:      draft.PaymentMethod,
			PaymentDetails:     draft.PaymentDetails,
			Status:             domain.PayoutStatusPending,
			CreatedAt:          at,
			Items:              make([]domain.PayoutItem, 0, len(locked)),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO commission_payouts (
				id, seller_id, payout_number, total_amount, transaction_fee_rate, transaction_fee,
				net_amount, payment_method, payment_details, status, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, payout.ID, payout.SellerID, payout.PayoutNumber, payout.TotalAmount, payout.TransactionFeeRate,
			payout.TransactionFee, payout.NetAmount, payout.PaymentMethod, nullIfEmpty(payout.PaymentDetails),
			payout.Status, payout.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: payout number %s taken", store.ErrConflict, payout.PayoutNumber)
			}
			return err
		}

		change := domain.BalanceChange{}
		for i, c := range locked {
			paid, delta, err := domain.MarkPaid(c, payout.ID, at)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrConflict, err)
			}
			change = change.Add(delta)
			if err := updateCommission(ctx, tx, paid); err != nil {
				return err
			}
			item := domain.PayoutItem{CommissionID: c.ID, Position: i + 1, Amount: c.NetAmount}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO commission_payout_items (payout_id, commission_id, position, amount)
				VALUES ($1,$2,$3,$4)
			`, payout.ID, item.CommissionID, item.Position, item.Amount)
			if err != nil {
				return err
			}
			payout.Items = append(payout.Items, item)
		}
		return writeBalance(ctx, tx, finance, change, at)
	})
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

const payoutColumns = `id, seller_id, payout_number, total_amount, transaction_fee_rate, transaction_fee,
	net_amount, payment_method, payment_details, status, transaction_reference, failure_reason,
	created_at, processed_at, completed_at, failed_at`

func (s *Store) GetPayout(ctx context.Context, id string) (*domain.Payout, error) {
	p, err := scanPayout(s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM commission_payouts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.payoutItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return &p, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) payoutItems(ctx context.Context, q queryer, payoutID string) ([]domain.PayoutItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT commission_id, position, amount
		FROM commission_payout_items
		WHERE payout_id = $1
		ORDER BY position
	`, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PayoutItem, 0, 8)
	for rows.Next() {
		var item domain.PayoutItem
		if err := rows.Scan(&item.CommissionID, &item.Position, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		clauses = append(clauses, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + payoutColumns + ` FROM commission_payouts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY payout_number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	payouts := make([]domain.Payout, 0, 16)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range payouts {
		items, err := s.payoutItems(ctx, s.db, payouts[i].ID)
		if err != nil {
			return nil, err
		}
		payouts[i].Items = items
	}
	return payouts, nil
}

func (s *Store) TransitionPayout(ctx context.Context, id string, transition domain.PayoutTransition) (*domain.Payout, bool, error) {
	var sellerID string
	err := s.db.QueryRowContext(ctx, `SELECT seller_id FROM commission_payouts WHERE id = $1`, id).Scan(&sellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, store.ErrNotFound
		}
		return nil, false, err
	}

	var (
		next    domain.Payout
		changed bool
	)
	err = s.inTx(ctx, sql.LevelSerializable, func(tx *sql.Tx) error {
		finance, err := lockFinance(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		next, err = scanPayout(tx.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM commission_payouts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		items, err := s.payoutItems(ctx, tx, id)
		if err != nil {
			return err
		}
		next.Items = items

		changed, err = domain.ApplyPayoutTransition(&next, transition)
		if err != nil || !changed {
			return err
		}

		change := domain.BalanceChange{}
		switch next.Status {
		case domain.PayoutStatusCompleted:
			change = domain.RecordPaidOut(next.TotalAmount)
		case domain.PayoutStatusFailed:
			for _, item := range next.Items {
				c, err := s.findCommission(ctx, tx, "id", item.CommissionID, true)
				if err != nil {
					return err
				}
				if c.PayoutReference != next.ID {
					return fmt.Errorf("%w: commission %s is not held by payout %s", store.ErrInvalidState, c.ID, next.ID)
				}
				back, delta, err := domain.RevertToApproved(*c, transition.At)
				if err != nil {
					return err
				}
				change = change.Add(delta)
				if err := updateCommission(ctx, tx, back); err != nil {
					return err
				}
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE commission_payouts
			SET status = $2, transaction_reference = $3, failure_reason = $4,
				processed_at = $5, completed_at = $6, failed_at = $7
			WHERE id = $1
		`, next.ID, next.Status, nullIfEmpty(next.TransactionReference), nullIfEmpty(next.FailureReason),
			nullTime(next.ProcessedAt), nullTime(next.CompletedAt), nullTime(next.FailedAt))
		if err != nil {
			return err
		}
		return writeBalance(ctx, tx, finance, change, transition.At)
	})
	if err != nil {
		return nil, false, err
	}
	return &next, changed, nil
}

const financeColumns = `seller_id, name, email, pending_balance, available_balance, total_earnings, total_paid_out, updated_at`

func lockFinance(ctx context.Context, tx *sql.Tx, sellerID string) (domain.SellerFinance, error) {
	finance, err := scanFinance(tx.QueryRowContext(ctx, `SELECT `+financeColumns+` FROM seller_finances WHERE seller_id = $1 FOR UPDATE`, sellerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SellerFinance{}, store.ErrNotFound
		}
		return domain.SellerFinance{}, err
	}
	return finance, nil
}

func applyBalance(ctx context.Context, tx *sql.Tx, sellerID string, change domain.BalanceChange, at time.Time) error {
	finance, err := lockFinance(ctx, tx, sellerID)
	if err != nil {
		return err
	}
	return writeBalance(ctx, tx, finance, change, at)
}

func writeBalance(ctx context.Context, tx *sql.Tx, finance domain.SellerFinance, change domain.BalanceChange, at time.Time) error {
	if change.IsZero() {
		return nil
	}
	if err := change.Apply(&finance, at); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE seller_finances
		SET pending_balance = $2, available_balance = $3, total_earnings = $4, total_paid_out = $5, updated_at = $6
		WHERE seller_id = $1
	`, finance.SellerID, finance.PendingBalance, finance.AvailableBalance, finance.TotalEarnings, finance.TotalPaidOut, finance.UpdatedAt)
	return err
}

func updateCommission(ctx context.Context, tx *sql.Tx, c domain.Commission) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE seller_commissions
		SET status = $2, payout_id = $3, cancel_reason = $4, updated_at = $5,
			approved_at = $6, paid_at = $7, cancelled_at = $8
		WHERE id = $1
	`, c.ID, c.Status, nullIfEmpty(c.PayoutReference), nullIfEmpty(c.CancelReason), c.UpdatedAt,
		nullTime(c.ApprovedAt), nullTime(c.PaidAt), nullTime(c.CancelledAt))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFinance(row scanner) (domain.SellerFinance, error) {
	var f domain.SellerFinance
	err := row.Scan(&f.SellerID, &f.Name, &f.Email, &f.PendingBalance, &f.AvailableBalance, &f.TotalEarnings, &f.TotalPaidOut, &f.UpdatedAt)
	return f, err
}

func scanTier(row scanner) (domain.CommissionTier, error) {
	var (
		t         domain.CommissionTier
		deletedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.MinSales, &t.MaxSales, &t.CommissionRate,
		&t.PlatformFeeRate, &t.Priority, &t.IsActive, &t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if err != nil {
		return t, err
	}
	t.DeletedAt = timePtr(deletedAt)
	return t, nil
}

func scanCommission(row scanner) (domain.Commission, error) {
	var (
		c                                  domain.Commission
		productID, tierID, payoutID, cause sql.NullString
		approvedAt, paidAt, cancelledAt    sql.NullTime
	)
	err := row.Scan(&c.ID, &c.SellerID, &c.OrderID, &c.OrderItemID, &productID, &tierID, &c.OrderAmount,
		&c.CommissionRate, &c.PlatformFeeRate, &c.CommissionAmount, &c.PlatformFee, &c.NetAmount, &c.Status,
		&payoutID, &cause, &c.CreatedAt, &c.UpdatedAt, &approvedAt, &paidAt, &cancelledAt)
	if err != nil {
		return c, err
	}
	c.ProductID = productID.String
	c.TierID = tierID.String
	c.PayoutReference = payoutID.String
	c.CancelReason = cause.String
	c.ApprovedAt = timePtr(approvedAt)
	c.PaidAt = timePtr(paidAt)
	c.CancelledAt = timePtr(cancelledAt)
	return c, nil
}

func collectCommissions(rows *sql.Rows) ([]domain.Commission, error) {
	defer rows.Close()

	out := make([]domain.Commission, 0, 32)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanPayout(row scanner) (domain.Payout, error) {
	var (
		p                                  domain.Payout
		details, reference, failure        sql.NullString
		processedAt, completedAt, failedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.PayoutNumber, &p.TotalAmount, &p.TransactionFeeRate, &p.TransactionFee,
		&p.NetAmount, &p.PaymentMethod, &details, &p.Status, &reference, &failure,
		&p.CreatedAt, &processedAt, &completedAt, &failedAt)
	if err != nil {
		return p, err
	}
	p.PaymentDetails = details.String
	p.TransactionReference = reference.String
	p.FailureReason = failure.String
	p.ProcessedAt = timePtr(processedAt)
	p.CompletedAt = timePtr(completedAt)
	p.FailedAt = timePtr(failedAt)
	return p, nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	return hasCode(err, "40001") || hasCode(err, "40P01")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
