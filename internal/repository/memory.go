package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/models"
)

type idemKey struct {
	key    string
	userID uuid.UUID
}

type memState struct {
	profiles     map[uuid.UUID]models.Profile
	emails       map[string]uuid.UUID
	tasks        map[uuid.UUID]models.Task
	submissions  []models.Submission
	escrows      map[uuid.UUID]models.EscrowTransaction
	escrowByTask map[uuid.UUID]uuid.UUID
	disputes     map[uuid.UUID]models.Dispute
	walletEvents []models.WalletEvent
	taskEvents   []models.TaskEvent
	adminActions []models.AdminAction
	idempotency  map[idemKey]models.IdempotencyKey
	seq          int64
}

func newMemState() *memState {
	return &memState{
		profiles:     map[uuid.UUID]models.Profile{},
		emails:       map[string]uuid.UUID{},
		tasks:        map[uuid.UUID]models.Task{},
		escrows:      map[uuid.UUID]models.EscrowTransaction{},
		escrowByTask: map[uuid.UUID]uuid.UUID{},
		disputes:     map[uuid.UUID]models.Dispute{},
		idempotency:  map[idemKey]models.IdempotencyKey{},
	}
}

// clone copies the state so a unit of work can be discarded on error. Rows
// are stored by value; slices and maps are copied one level deep.
func (s *memState) clone() *memState {
	c := &memState{
		profiles:     make(map[uuid.UUID]models.Profile, len(s.profiles)),
		emails:       make(map[string]uuid.UUID, len(s.emails)),
		tasks:        make(map[uuid.UUID]models.Task, len(s.tasks)),
		submissions:  append([]models.Submission(nil), s.submissions...),
		escrows:      make(map[uuid.UUID]models.EscrowTransaction, len(s.escrows)),
		escrowByTask: make(map[uuid.UUID]uuid.UUID, len(s.escrowByTask)),
		disputes:     make(map[uuid.UUID]models.Dispute, len(s.disputes)),
		walletEvents: append([]models.WalletEvent(nil), s.walletEvents...),
		taskEvents:   append([]models.TaskEvent(nil), s.taskEvents...),
		adminActions: append([]models.AdminAction(nil), s.adminActions...),
		idempotency:  make(map[idemKey]models.IdempotencyKey, len(s.idempotency)),
		seq:          s.seq,
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.escrows {
		c.escrows[k] = v
	}
	for k, v := range s.escrowByTask {
		c.escrowByTask[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// MemoryStore is an in-process Store. Units of work are serialized by one
// mutex and run against a private copy of the state that replaces the
// committed state only when fn returns nil.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	notify NotifyFunc
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: func() time.Time { return time.Now().UTC() }}
}

// SetNotifier sets where committed notifications are delivered. Without one
// they are dropped.
func (s *MemoryStore) SetNotifier(fn NotifyFunc) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	tx, notify, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	if notify != nil {
		for _, n := range tx.outbox {
			_ = notify(ctx, n)
		}
	}
	return nil
}

// commit runs fn against a snapshot and swaps it in on success. The lock is
// released even if fn panics.
func (s *MemoryStore) commit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (*memTx, NotifyFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone(), now: s.now}
	if err := fn(WithTx(ctx, tx), tx); err != nil {
		return nil, nil, err
	}
	s.state = tx.st
	return tx, s.notify, nil
}

type memTx struct {
	st     *memState
	outbox []models.Notification
	now    func() time.Time
}

// ---- profiles ----

func (t *memTx) CreateProfile(ctx context.Context, p *models.Profile) error {
	if _, ok := t.st.profiles[p.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := t.st.emails[p.Email]; ok && p.Email != "" {
		return ErrDuplicateKey
	}
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.profiles[p.ID] = *p
	if p.Email != "" {
		t.st.emails[p.Email] = p.ID
	}
	return nil
}

func (t *memTx) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p, ok := t.st.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	id, ok := t.st.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	return t.GetProfile(ctx, id)
}

func (t *memTx) ListProfileIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(t.st.profiles))
	for id := range t.st.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (t *memTx) SetWalletBalance(ctx context.Context, userID uuid.UUID, expected, next int64) (Outcome, error) {
	p, ok := t.st.profiles[userID]
	if !ok || p.WalletBalance != expected {
		return Outcome{Entity: "wallet", ID: userID}, nil
	}
	p.WalletBalance = next
	p.UpdatedAt = t.now()
	t.st.profiles[userID] = p
	return Outcome{Updated: true, Entity: "wallet", ID: userID}, nil
}

func (t *memTx) IncrementCompletedTasks(ctx context.Context, userID uuid.UUID) error {
	p, ok := t.st.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.CompletedTasks++
	p.UpdatedAt = t.now()
	t.st.profiles[userID] = p
	return nil
}

// ---- tasks ----

func (t *memTx) InsertTask(ctx context.Context, task *models.Task) error {
	if _, ok := t.st.tasks[task.ID]; ok {
		return ErrDuplicateKey
	}
	now := t.now()
	task.CreatedAt, task.UpdatedAt = now, now
	t.st.tasks[task.ID] = *task
	return nil
}

func (t *memTx) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, ok := t.st.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (t *memTx) UpdateTask(ctx context.Context, g TaskGuard) (Outcome, error) {
	task, ok := t.st.tasks[g.ID]
	if !ok || task.Status != g.Expected {
		return outcome("task", g.ID, g.Expected, false), nil
	}
	f := g.Fields
	task.Status = f.Status
	setUUID(&task.DoerID, f.DoerID)
	setTime(&task.AcceptedAt, f.AcceptedAt)
	setTime(&task.StartedAt, f.StartedAt)
	setTime(&task.SubmittedAt, f.SubmittedAt)
	setTime(&task.ApprovedAt, f.ApprovedAt)
	setTime(&task.CompletedAt, f.CompletedAt)
	setTime(&task.CancelledAt, f.CancelledAt)
	setTime(&task.AutoReleaseAt, f.AutoReleaseAt)
	task.UpdatedAt = t.now()
	t.st.tasks[g.ID] = task
	return outcome("task", g.ID, g.Expected, true), nil
}

func (t *memTx) ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []models.Task
	for _, task := range t.st.tasks {
		if task.Status == models.TaskStatusSubmitted && task.AutoReleaseAt != nil && !task.AutoReleaseAt.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutoReleaseAt.Before(*due[j].AutoReleaseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, task := range due {
		ids[i] = task.ID
	}
	return ids, nil
}

func (t *memTx) InsertSubmission(ctx context.Context, s *models.Submission) error {
	s.CreatedAt = t.now()
	t.st.submissions = append(t.st.submissions, *s)
	return nil
}

// ---- escrow ----

func (t *memTx) InsertEscrow(ctx context.Context, e *models.EscrowTransaction) error {
	if _, ok := t.st.escrowByTask[e.TaskID]; ok {
		return ErrDuplicateKey
	}
	now := t.now()
	e.CreatedAt, e.UpdatedAt = now, now
	t.st.escrows[e.ID] = *e
	t.st.escrowByTask[e.TaskID] = e.ID
	return nil
}

func (t *memTx) GetEscrow(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, ok := t.st.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (t *memTx) GetEscrowByTask(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	id, ok := t.st.escrowByTask[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.GetEscrow(ctx, id)
}

func (t *memTx) UpdateEscrow(ctx context.Context, g EscrowGuard) (Outcome, error) {
	e, ok := t.st.escrows[g.ID]
	if !ok || e.Status != g.Expected {
		return outcome("escrow", g.ID, g.Expected, false), nil
	}
	f := g.Fields
	e.Status = f.Status
	setUUID(&e.DoerID, f.DoerID)
	setTime(&e.AutoReleaseAt, f.AutoReleaseAt)
	setTime(&e.ReleasedAt, f.ReleasedAt)
	setTime(&e.RefundedAt, f.RefundedAt)
	e.UpdatedAt = t.now()
	t.st.escrows[g.ID] = e
	return outcome("escrow", g.ID, g.Expected, true), nil
}

func (t *memTx) ListSettledEscrowsWithoutWalletEvent(ctx context.Context) ([]*models.EscrowTransaction, error) {
	credited := map[uuid.UUID]bool{}
	for _, ev := range t.st.walletEvents {
		if ev.EscrowID != nil {
			credited[*ev.EscrowID] = true
		}
	}
	var list []*models.EscrowTransaction
	for _, e := range t.st.escrows {
		if e.Status.IsSettled() && !credited[e.ID] {
			e := e
			list = append(list, &e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// ---- disputes ----

func (t *memTx) InsertDispute(ctx context.Context, d *models.Dispute) error {
	now := t.now()
	d.CreatedAt, d.UpdatedAt = now, now
	t.st.disputes[d.ID] = *d
	return nil
}

func (t *memTx) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, ok := t.st.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTx) UpdateDispute(ctx context.Context, g DisputeGuard) (Outcome, error) {
	d, ok := t.st.disputes[g.ID]
	if !ok || d.Status != g.Expected {
		return outcome("dispute", g.ID, g.Expected, false), nil
	}
	f := g.Fields
	d.Status = f.Status
	setUUID(&d.EscrowID, f.EscrowID)
	if f.ResolutionType != nil {
		rt := *f.ResolutionType
		d.ResolutionType = &rt
	}
	if f.ResolvedInFavorOf != nil {
		v := *f.ResolvedInFavorOf
		d.ResolvedInFavorOf = &v
	}
	if f.PosterRefundAmount != nil {
		v := *f.PosterRefundAmount
		d.PosterRefundAmount = &v
	}
	if f.DoerPayoutAmount != nil {
		v := *f.DoerPayoutAmount
		d.DoerPayoutAmount = &v
	}
	if f.ResolutionNotes != nil {
		d.ResolutionNotes = *f.ResolutionNotes
	}
	setUUID(&d.ResolverID, f.ResolverID)
	setTime(&d.ResolvedAt, f.ResolvedAt)
	d.UpdatedAt = t.now()
	t.st.disputes[g.ID] = d
	return outcome("dispute", g.ID, g.Expected, true), nil
}

// ---- ledger and audit ----

func (t *memTx) InsertWalletEvent(ctx context.Context, e *models.WalletEvent) error {
	t.st.seq++
	e.Seq = t.st.seq
	e.CreatedAt = t.now()
	t.st.walletEvents = append(t.st.walletEvents, *e)
	return nil
}

func (t *memTx) ListWalletEvents(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error) {
	var list []*models.WalletEvent
	for _, e := range t.st.walletEvents {
		if e.UserID == userID {
			e := e
			list = append(list, &e)
		}
	}
	return list, nil
}

func (t *memTx) InsertTaskEvent(ctx context.Context, e *models.TaskEvent) error {
	e.CreatedAt = t.now()
	t.st.taskEvents = append(t.st.taskEvents, *e)
	return nil
}

func (t *memTx) ListTaskEvents(ctx context.Context, taskID uuid.UUID) ([]*models.TaskEvent, error) {
	var list []*models.TaskEvent
	for _, e := range t.st.taskEvents {
		if e.TaskID == taskID {
			e := e
			list = append(list, &e)
		}
	}
	return list, nil
}

func (t *memTx) InsertAdminAction(ctx context.Context, a *models.AdminAction) error {
	a.CreatedAt = t.now()
	t.st.adminActions = append(t.st.adminActions, *a)
	return nil
}

// ---- idempotency and outbox ----

func (t *memTx) GetIdempotencyKey(ctx context.Context, key string, userID uuid.UUID) (*models.IdempotencyKey, error) {
	k, ok := t.st.idempotency[idemKey{key, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (t *memTx) InsertIdempotencyKey(ctx context.Context, k *models.IdempotencyKey) error {
	ik := idemKey{k.Key, k.UserID}
	if _, ok := t.st.idempotency[ik]; ok {
		return ErrDuplicateKey
	}
	k.CreatedAt = t.now()
	t.st.idempotency[ik] = *k
	return nil
}

func (t *memTx) EnqueueNotification(ctx context.Context, n models.Notification) error {
	t.outbox = append(t.outbox, n)
	return nil
}

// AdminActions returns a snapshot of recorded admin actions.
func (s *MemoryStore) AdminActions() []models.AdminAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AdminAction(nil), s.state.adminActions...)
}

// Submissions returns a snapshot of recorded submissions.
func (s *MemoryStore) Submissions() []models.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Submission(nil), s.state.submissions...)
}

func setTime(dst **time.Time, v *time.Time) {
	if v != nil {
		tv := *v
		*dst = &tv
	}
}

func setUUID(dst **uuid.UUID, v *uuid.UUID) {
	if v != nil {
		id := *v
		*dst = &id
	}
}
