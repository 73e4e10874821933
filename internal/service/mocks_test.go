package service

// In-memory repository fakes backing the service tests. The fake transaction
// runner invokes the body with a nil pgx.Tx; every fake's WithTx returns the
// fake itself, so transactional code paths run against the same maps.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tenderhq/core/internal/models"
	"github.com/tenderhq/core/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// fakeTxRunner satisfies repository.TxRunner without a database.
type fakeTxRunner struct {
	err error // forced failure, when set
}

func (r *fakeTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if r.err != nil {
		return r.err
	}
	return fn(nil)
}

// fakeCredits is a map-backed CreditRepository.
type fakeCredits struct {
	accounts  map[uuid.UUID]*models.CreditAccount
	byCompany map[uuid.UUID]uuid.UUID
	entries   []*models.LedgerEntry
	holds     map[uuid.UUID]*models.CreditHold
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{
		accounts:  make(map[uuid.UUID]*models.CreditAccount),
		byCompany: make(map[uuid.UUID]uuid.UUID),
		holds:     make(map[uuid.UUID]*models.CreditHold),
	}
}

func (f *fakeCredits) WithTx(tx pgx.Tx) repository.CreditRepository { return f }

func (f *fakeCredits) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	if _, exists := f.byCompany[account.CompanyID]; exists {
		return uniqueViolation("credit_accounts_company_id_key")
	}
	account.ID = uuid.New()
	account.CreatedAt = time.Now().UTC()
	f.accounts[account.ID] = account
	f.byCompany[account.CompanyID] = account.ID
	return nil
}

func (f *fakeCredits) GetAccount(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeCredits) GetAccountByCompany(ctx context.Context, companyID uuid.UUID) (*models.CreditAccount, error) {
	id, ok := f.byCompany[companyID]
	if !ok {
		return nil, nil
	}
	return f.accounts[id], nil
}

func (f *fakeCredits) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeCredits) Balance(ctx context.Context, accountID uuid.UUID) (*models.BalanceSnapshot, error) {
	account, ok := f.accounts[accountID]
	if !ok {
		return nil, nil
	}
	snap := &models.BalanceSnapshot{
		AccountID:    accountID,
		TotalCredits: account.TotalCredits,
		BonusCredits: account.BonusCredits,
		AsOf:         time.Now().UTC(),
	}
	for _, e := range f.entries {
		if e.AccountID != accountID {
			continue
		}
		if e.Direction == models.DirectionCredit {
			snap.CreditEntries += e.Amount
		} else {
			snap.DebitEntries += e.Amount
		}
	}
	for _, h := range f.holds {
		if h.AccountID == accountID && h.Status == models.HoldActive {
			snap.ActiveHolds += h.Amount
		}
	}
	snap.Available = snap.TotalCredits + snap.BonusCredits + snap.CreditEntries - snap.DebitEntries - snap.ActiveHolds
	return snap, nil
}

func (f *fakeCredits) InsertEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	if existing, _ := f.GetEntryByIdempotencyKey(ctx, entry.AccountID, entry.IdempotencyKey); existing != nil {
		return existing, false, nil
	}
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	f.entries = append(f.entries, entry)
	return entry, true, nil
}

func (f *fakeCredits) GetEntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.AccountID == accountID && e.IdempotencyKey == key {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeCredits) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].AccountID == accountID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeCredits) SumDebitsByReference(ctx context.Context, refType, refID string) (int64, error) {
	var sum int64
	for _, e := range f.entries {
		if e.Direction == models.DirectionDebit &&
			e.ReferenceType != nil && *e.ReferenceType == refType &&
			e.ReferenceID != nil && *e.ReferenceID == refID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (f *fakeCredits) InsertHold(ctx context.Context, hold *models.CreditHold) error {
	hold.ID = uuid.New()
	hold.CreatedAt = time.Now().UTC()
	f.holds[hold.ID] = hold
	return nil
}

func (f *fakeCredits) GetHold(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	return f.holds[id], nil
}

func (f *fakeCredits) GetHoldByRequest(ctx context.Context, requestID uuid.UUID) (*models.CreditHold, error) {
	for _, h := range f.holds {
		if h.RequestID == requestID {
			return h, nil
		}
	}
	return nil, nil
}

func (f *fakeCredits) GetHoldForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	return f.holds[id], nil
}

func (f *fakeCredits) MarkHold(ctx context.Context, id uuid.UUID, status models.HoldStatus) error {
	hold, ok := f.holds[id]
	if !ok {
		return fmt.Errorf("hold %s not found", id)
	}
	now := time.Now().UTC()
	hold.Status = status
	switch status {
	case models.HoldConverted:
		hold.ConvertedAt = &now
	case models.HoldReleased:
		hold.ReleasedAt = &now
	}
	return nil
}

// fakeApprovals is a map-backed ApprovalRepository. Reads hand out copies so
// only Update persists mutations, matching the row-snapshot semantics of the
// real store.
type fakeApprovals struct {
	requests map[uuid.UUID]*models.ApprovalRequest
	rules    []*models.ApprovalRule
	events   []*models.ApprovalEvent
}

func newFakeApprovals() *fakeApprovals {
	return &fakeApprovals{requests: make(map[uuid.UUID]*models.ApprovalRequest)}
}

func (f *fakeApprovals) WithTx(tx pgx.Tx) repository.ApprovalRepository { return f }

func (f *fakeApprovals) Create(ctx context.Context, req *models.ApprovalRequest) error {
	req.ID = uuid.New()
	req.CreatedAt = time.Now().UTC()
	clone := *req
	f.requests[req.ID] = &clone
	return nil
}

func (f *fakeApprovals) GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, nil
	}
	clone := *req
	return &clone, nil
}

func (f *fakeApprovals) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeApprovals) Update(ctx context.Context, req *models.ApprovalRequest) error {
	if _, ok := f.requests[req.ID]; !ok {
		return fmt.Errorf("request %s not found", req.ID)
	}
	clone := *req
	f.requests[req.ID] = &clone
	return nil
}

func (f *fakeApprovals) ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, req := range f.requests {
		if len(out) == limit {
			break
		}
		if req.Status == models.StatusPending && req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeApprovals) MatchRule(ctx context.Context, companyID uuid.UUID, credits int64) (*models.ApprovalRule, error) {
	var best *models.ApprovalRule
	for _, rule := range f.rules {
		if rule.CompanyID != companyID || !rule.Matches(credits) {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}
	return best, nil
}

func (f *fakeApprovals) CreateRule(ctx context.Context, rule *models.ApprovalRule) error {
	rule.ID = uuid.New()
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeApprovals) ListRules(ctx context.Context, companyID uuid.UUID) ([]*models.ApprovalRule, error) {
	var out []*models.ApprovalRule
	for _, rule := range f.rules {
		if rule.CompanyID == companyID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeApprovals) DeleteRule(ctx context.Context, id uuid.UUID) error {
	kept := f.rules[:0]
	for _, rule := range f.rules {
		if rule.ID != id {
			kept = append(kept, rule)
		}
	}
	f.rules = kept
	return nil
}

func (f *fakeApprovals) AppendEvent(ctx context.Context, event *models.ApprovalEvent) error {
	event.ID = uuid.New()
	event.CreatedAt = time.Now().UTC()
	clone := *event
	f.events = append(f.events, &clone)
	return nil
}

func (f *fakeApprovals) ListEvents(ctx context.Context, requestID uuid.UUID) ([]*models.ApprovalEvent, error) {
	var out []*models.ApprovalEvent
	for _, e := range f.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeUsers is a map-backed UserRepository.
type fakeUsers struct {
	users    map[uuid.UUID]*models.User
	byEmail  map[string]uuid.UUID
	profiles map[uuid.UUID]*models.Profile
	visitors map[string]uuid.UUID
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:    make(map[uuid.UUID]*models.User),
		byEmail:  make(map[string]uuid.UUID),
		profiles: make(map[uuid.UUID]*models.Profile),
		visitors: make(map[string]uuid.UUID),
	}
}

func (f *fakeUsers) WithTx(tx pgx.Tx) repository.UserRepository { return f }

func lowerEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (f *fakeUsers) Create(ctx context.Context, user *models.User) error {
	key := lowerEmail(user.Email)
	if _, exists := f.byEmail[key]; exists {
		return uniqueViolation("users_email_lower_key")
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	f.users[user.ID] = user
	f.byEmail[key] = user.ID
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	id, ok := f.byEmail[lowerEmail(email)]
	if !ok {
		return nil, nil
	}
	return f.users[id], nil
}

func (f *fakeUsers) Delete(ctx context.Context, id uuid.UUID) error {
	if user, ok := f.users[id]; ok {
		delete(f.byEmail, lowerEmail(user.Email))
		delete(f.users, id)
	}
	return nil
}

func (f *fakeUsers) CreateProfile(ctx context.Context, profile *models.Profile) error {
	f.profiles[profile.UserID] = profile
	return nil
}

func (f *fakeUsers) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	return f.profiles[userID], nil
}

func (f *fakeUsers) AddReputation(ctx context.Context, userID uuid.UUID, delta int) (int, error) {
	profile, ok := f.profiles[userID]
	if !ok {
		return 0, fmt.Errorf("profile %s not found", userID)
	}
	profile.Reputation += delta
	if profile.Reputation < 0 {
		profile.Reputation = 0
	}
	return profile.Reputation, nil
}

func (f *fakeUsers) DecrementInviteSlots(ctx context.Context, userID uuid.UUID) error {
	if profile, ok := f.profiles[userID]; ok && profile.InviteSlots > 0 {
		profile.InviteSlots--
	}
	return nil
}

func (f *fakeUsers) ClaimVisitor(ctx context.Context, visitorID string, userID uuid.UUID) (bool, error) {
	if _, claimed := f.visitors[visitorID]; claimed {
		return false, nil
	}
	f.visitors[visitorID] = userID
	return true, nil
}

// fakeSessions is a map-backed SessionRepository keyed by token.
type fakeSessions struct {
	byToken map[string]*models.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byToken: make(map[string]*models.Session)}
}

func (f *fakeSessions) WithTx(tx pgx.Tx) repository.SessionRepository { return f }

func (f *fakeSessions) Create(ctx context.Context, session *models.Session) error {
	session.ID = uuid.New()
	session.CreatedAt = time.Now().UTC()
	f.byToken[session.Token] = session
	return nil
}

func (f *fakeSessions) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	return f.byToken[token], nil
}

func (f *fakeSessions) DeleteByToken(ctx context.Context, token string) error {
	delete(f.byToken, token)
	return nil
}

func (f *fakeSessions) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var purged int64
	for token, session := range f.byToken {
		if !session.Valid(now) {
			delete(f.byToken, token)
			purged++
		}
	}
	return purged, nil
}

// fakeInvites is a map-backed InviteRepository.
type fakeInvites struct {
	invites map[uuid.UUID]*models.Invite
	byCode  map[string]uuid.UUID
	uses    map[string]bool // "<inviteID>/<userID>"
}

func newFakeInvites() *fakeInvites {
	return &fakeInvites{
		invites: make(map[uuid.UUID]*models.Invite),
		byCode:  make(map[string]uuid.UUID),
		uses:    make(map[string]bool),
	}
}

func (f *fakeInvites) WithTx(tx pgx.Tx) repository.InviteRepository { return f }

func (f *fakeInvites) Create(ctx context.Context, invite *models.Invite) (bool, error) {
	if _, exists := f.byCode[invite.Code]; exists {
		return false, nil
	}
	invite.ID = uuid.New()
	invite.CreatedAt = time.Now().UTC()
	f.invites[invite.ID] = invite
	f.byCode[invite.Code] = invite.ID
	return true, nil
}

func (f *fakeInvites) GetByID(ctx context.Context, id uuid.UUID) (*models.Invite, error) {
	return f.invites[id], nil
}

func (f *fakeInvites) GetByCode(ctx context.Context, code string) (*models.Invite, error) {
	id, ok := f.byCode[code]
	if !ok {
		return nil, nil
	}
	return f.invites[id], nil
}

func (f *fakeInvites) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Invite, error) {
	return f.invites[id], nil
}

func (f *fakeInvites) IncrementUse(ctx context.Context, id uuid.UUID) error {
	invite, ok := f.invites[id]
	if !ok {
		return fmt.Errorf("invite %s not found", id)
	}
	invite.UseCount++
	return nil
}

func (f *fakeInvites) RecordUse(ctx context.Context, inviteID, userID uuid.UUID) (bool, error) {
	key := inviteID.String() + "/" + userID.String()
	if f.uses[key] {
		return false, nil
	}
	f.uses[key] = true
	return true, nil
}

func (f *fakeInvites) ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]*models.Invite, error) {
	var out []*models.Invite
	for _, invite := range f.invites {
		if invite.InviterID == inviterID {
			out = append(out, invite)
		}
	}
	return out, nil
}

// fakeRepute is a map-backed ReputationRepository. Stats are set directly by
// tests.
type fakeRepute struct {
	logs    []*models.ReputationLog
	badges  []*models.Badge
	awarded map[string]bool // "<userID>/<badgeID>"
	stats   map[uuid.UUID]*models.CommunityStats
	votes   map[string]bool // "<userID>/<targetType>/<targetID>"
}

func newFakeRepute() *fakeRepute {
	return &fakeRepute{
		awarded: make(map[string]bool),
		stats:   make(map[uuid.UUID]*models.CommunityStats),
		votes:   make(map[string]bool),
	}
}

func (f *fakeRepute) WithTx(tx pgx.Tx) repository.ReputationRepository { return f }

func (f *fakeRepute) AppendLog(ctx context.Context, log *models.ReputationLog) error {
	log.ID = uuid.New()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeRepute) ListBadges(ctx context.Context) ([]*models.Badge, error) {
	return f.badges, nil
}

func (f *fakeRepute) AwardBadge(ctx context.Context, userID, badgeID uuid.UUID) (bool, error) {
	key := userID.String() + "/" + badgeID.String()
	if f.awarded[key] {
		return false, nil
	}
	f.awarded[key] = true
	return true, nil
}

func (f *fakeRepute) ListUserBadges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error) {
	var out []*models.UserBadge
	for key := range f.awarded {
		if len(key) > 37 && key[:36] == userID.String() {
			badgeID, err := uuid.Parse(key[37:])
			if err != nil {
				return nil, err
			}
			out = append(out, &models.UserBadge{UserID: userID, BadgeID: badgeID})
		}
	}
	return out, nil
}

func (f *fakeRepute) Stats(ctx context.Context, userID uuid.UUID) (*models.CommunityStats, error) {
	if s, ok := f.stats[userID]; ok {
		return s, nil
	}
	return &models.CommunityStats{}, nil
}

func (f *fakeRepute) RecordVote(ctx context.Context, vote *models.Vote) (bool, error) {
	key := vote.UserID.String() + "/" + string(vote.TargetType) + "/" + vote.TargetID.String()
	if f.votes[key] {
		return false, nil
	}
	vote.ID = uuid.New()
	f.votes[key] = true
	return true, nil
}
