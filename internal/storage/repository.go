package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deal-reminders/internal/deal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertDealSQL = `INSERT INTO deals (
        id,
        name,
        distributor_id,
        status,
        deal_start_at,
        deal_ends_at,
        commitment_start_at,
        commitment_ends_at,
        min_qty_for_discount,
        sizes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	markDealPostedSQL = `UPDATE deals
    SET status = 'active', updated_at = NOW()
    WHERE id = $1 AND status = 'inactive';`

	getDealSQL = `SELECT
        id,
        name,
        distributor_id,
        status,
        deal_start_at,
        deal_ends_at,
        commitment_start_at,
        commitment_ends_at,
        min_qty_for_discount,
        sizes,
        created_at,
        updated_at
    FROM deals
    WHERE id = $1;`

	listCandidateDealsSQL = `SELECT
        id,
        name,
        distributor_id,
        status,
        deal_start_at,
        deal_ends_at,
        commitment_start_at,
        commitment_ends_at,
        min_qty_for_discount,
        sizes,
        created_at,
        updated_at
    FROM deals
    WHERE deal_ends_at >= $1
    ORDER BY commitment_ends_at;`

	insertCommitmentSQL = `INSERT INTO commitments (
        deal_id,
        user_id,
        status,
        lines,
        total
    ) VALUES (
        $1,$2,$3,$4,$5
    ) RETURNING id;`

	updateCommitmentStatusSQL = `UPDATE commitments
    SET status = $2, updated_at = NOW()
    WHERE id = $1;`

	countPendingCommitmentsSQL = `SELECT COUNT(*) FROM commitments
    WHERE deal_id = $1 AND status = 'pending';`

	committedMemberIDsSQL = `SELECT DISTINCT user_id FROM commitments
    WHERE deal_id = $1 AND status IN ('pending', 'approved');`

	listActiveMembersSQL = `SELECT id, name, email, active, blocked
    FROM members
    WHERE active AND NOT blocked
    ORDER BY id;`

	getMemberSQL = `SELECT id, name, email, active, blocked
    FROM members
    WHERE id = $1;`

	hasSentSQL = `SELECT EXISTS (
        SELECT 1 FROM reminder_dispatches
        WHERE deal_id = $1 AND reminder_type = $2 AND recipient_id = $3
    );`

	recordSentSQL = `INSERT INTO reminder_dispatches (
        deal_id,
        reminder_type,
        recipient_id,
        sent_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (deal_id, reminder_type, recipient_id) DO NOTHING;`

	listRecentDispatchesSQL = `SELECT
        deal_id,
        reminder_type,
        recipient_id,
        sent_at,
        created_at
    FROM reminder_dispatches
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DealStore defines deal persistence used by authoring and the engine.
type DealStore interface {
	InsertDeal(ctx context.Context, d *deal.Deal) error
	GetDeal(ctx context.Context, dealID string) (deal.Deal, error)
	MarkDealPosted(ctx context.Context, dealID string) error
	ListCandidateDeals(ctx context.Context, endsAfter time.Time) ([]deal.Deal, error)
}

// CommitmentStore defines commitment persistence and the read paths the
// dispatcher needs for pending counts and has-committed classification.
type CommitmentStore interface {
	InsertCommitment(ctx context.Context, c deal.Commitment) (string, error)
	UpdateCommitmentStatus(ctx context.Context, commitmentID string, status deal.CommitmentStatus) error
	CountPendingCommitments(ctx context.Context, dealID string) (int, error)
	CommittedMemberIDs(ctx context.Context, dealID string) (map[string]bool, error)
}

// MemberStore resolves reminder recipients.
type MemberStore interface {
	ListActiveMembers(ctx context.Context) ([]deal.Member, error)
	GetMember(ctx context.Context, id string) (deal.Member, error)
}

// Ledger is the idempotency record of dispatched reminders. RecordSent
// is an atomic conditional append: concurrent writers racing on the same
// key observe exactly one insert, enforced by the table's composite
// primary key rather than any in-process lock.
type Ledger interface {
	HasSent(ctx context.Context, dealID, reminderType, recipientID string) (bool, error)
	RecordSent(ctx context.Context, dealID, reminderType, recipientID string, at time.Time) (alreadyExisted bool, err error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates postgres access for deals, commitments, members, and
// the dispatch ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertDeal persists a newly authored deal.
func (s *Store) InsertDeal(ctx context.Context, d *deal.Deal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	sizes, err := json.Marshal(d.Sizes)
	if err != nil {
		return fmt.Errorf("marshal sizes: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertDealSQL,
		d.ID,
		d.Name,
		d.DistributorID,
		string(d.Status),
		d.DealStartAt,
		d.DealEndsAt,
		d.CommitmentStartAt,
		d.CommitmentEndsAt,
		d.MinQtyForDiscount,
		sizes,
	); execErr != nil {
		return fmt.Errorf("insert deal: %w", execErr)
	}
	return nil
}

// GetDeal fetches a single deal by id.
func (s *Store) GetDeal(ctx context.Context, dealID string) (deal.Deal, error) {
	pool, err := s.getPool()
	if err != nil {
		return deal.Deal{}, err
	}

	rows, queryErr := pool.Query(ctx, getDealSQL, dealID)
	if queryErr != nil {
		return deal.Deal{}, fmt.Errorf("get deal: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return deal.Deal{}, rows.Err()
		}
		return deal.Deal{}, ErrNotFound
	}
	return scanDeal(rows)
}

// MarkDealPosted flips an inactive deal to active.
func (s *Store) MarkDealPosted(ctx context.Context, dealID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markDealPostedSQL, dealID)
	if execErr != nil {
		return fmt.Errorf("mark deal posted: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCandidateDeals returns deals still inside the retention window,
// ordered by commitment close.
func (s *Store) ListCandidateDeals(ctx context.Context, endsAfter time.Time) ([]deal.Deal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCandidateDealsSQL, endsAfter)
	if queryErr != nil {
		return nil, fmt.Errorf("list candidate deals: %w", queryErr)
	}
	defer rows.Close()

	deals := make([]deal.Deal, 0)
	for rows.Next() {
		d, scanErr := scanDeal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		deals = append(deals, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deals, nil
}

// InsertCommitment persists a priced commitment and returns its id.
func (s *Store) InsertCommitment(ctx context.Context, c deal.Commitment) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}

	lines, err := json.Marshal(c.Lines)
	if err != nil {
		return "", fmt.Errorf("marshal commitment lines: %w", err)
	}

	var id string
	if scanErr := pool.QueryRow(ctx, insertCommitmentSQL,
		c.DealID,
		c.UserID,
		string(c.Status),
		lines,
		c.Total.String(),
	).Scan(&id); scanErr != nil {
		return "", fmt.Errorf("insert commitment: %w", scanErr)
	}
	return id, nil
}

// UpdateCommitmentStatus moves a commitment through distributor review.
func (s *Store) UpdateCommitmentStatus(ctx context.Context, commitmentID string, status deal.CommitmentStatus) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateCommitmentStatusSQL, commitmentID, string(status))
	if execErr != nil {
		return fmt.Errorf("update commitment status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingCommitments counts commitments awaiting distributor action.
func (s *Store) CountPendingCommitments(ctx context.Context, dealID string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countPendingCommitmentsSQL, dealID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count pending commitments: %w", scanErr)
	}
	return count, nil
}

// CommittedMemberIDs returns the set of members with a live commitment
// on the deal.
func (s *Store) CommittedMemberIDs(ctx context.Context, dealID string) (map[string]bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, committedMemberIDsSQL, dealID)
	if queryErr != nil {
		return nil, fmt.Errorf("committed member ids: %w", queryErr)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// ListActiveMembers returns all active, non-blocked members.
func (s *Store) ListActiveMembers(ctx context.Context) ([]deal.Member, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveMembersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active members: %w", queryErr)
	}
	defer rows.Close()

	members := make([]deal.Member, 0)
	for rows.Next() {
		var m deal.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Active, &m.Blocked); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return members, nil
}

// GetMember fetches a single member by id.
func (s *Store) GetMember(ctx context.Context, id string) (deal.Member, error) {
	pool, err := s.getPool()
	if err != nil {
		return deal.Member{}, err
	}

	var m deal.Member
	if scanErr := pool.QueryRow(ctx, getMemberSQL, id).Scan(&m.ID, &m.Name, &m.Email, &m.Active, &m.Blocked); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return deal.Member{}, ErrNotFound
		}
		return deal.Member{}, fmt.Errorf("get member: %w", scanErr)
	}
	return m, nil
}

// HasSent reports whether a ledger record exists for the key.
func (s *Store) HasSent(ctx context.Context, dealID, reminderType, recipientID string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasSentSQL, dealID, reminderType, recipientID).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has sent: %w", scanErr)
	}
	return exists, nil
}

// RecordSent appends a ledger record if and only if the key is absent.
// The composite primary key makes the insert a single atomic
// compare-and-set, so two racing writers cannot both believe they were
// first: exactly one sees alreadyExisted=false.
func (s *Store) RecordSent(ctx context.Context, dealID, reminderType, recipientID string, at time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := pool.Exec(ctx, recordSentSQL, dealID, reminderType, recipientID, at)
	if execErr != nil {
		return false, fmt.Errorf("record sent: %w", execErr)
	}
	return cmdTag.RowsAffected() == 0, nil
}

// ListRecentDispatches lists the most recent ledger entries.
func (s *Store) ListRecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDispatchesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent dispatches: %w", queryErr)
	}
	defer rows.Close()

	records := make([]DispatchRecord, 0, limit)
	for rows.Next() {
		var rec DispatchRecord
		if err := rows.Scan(&rec.DealID, &rec.ReminderType, &rec.RecipientID, &rec.SentAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanDeal(rows pgx.Rows) (deal.Deal, error) {
	var (
		d         deal.Deal
		status    string
		sizesJSON []byte
	)

	if err := rows.Scan(
		&d.ID,
		&d.Name,
		&d.DistributorID,
		&status,
		&d.DealStartAt,
		&d.DealEndsAt,
		&d.CommitmentStartAt,
		&d.CommitmentEndsAt,
		&d.MinQtyForDiscount,
		&sizesJSON,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return deal.Deal{}, err
	}

	d.Status = deal.Status(status)
	if len(sizesJSON) > 0 {
		if err := json.Unmarshal(sizesJSON, &d.Sizes); err != nil {
			return deal.Deal{}, fmt.Errorf("parse sizes: %w", err)
		}
	}

	return d, nil
}

var _ interface {
	DealStore
	CommitmentStore
	MemberStore
	Ledger
	AdvisoryLocker
} = (*Store)(nil)
