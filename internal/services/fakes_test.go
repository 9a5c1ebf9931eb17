package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/coachconnect/booking-engine/internal/cache"
	"github.com/coachconnect/booking-engine/internal/config"
	"github.com/coachconnect/booking-engine/internal/database"
	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/coachconnect/booking-engine/pkg/validator"
)

// fakeDB is an in-memory stand-in for the booking tables. It enforces the
// same slot and credit rules the SQL repositories do.
type fakeDB struct {
	mu       sync.Mutex
	nextID   int64
	bookings []*models.Booking
	series   []*models.RecurringSeries
	groups   map[int64]*models.GroupSession
	credits  map[int64]*models.PackageCredit
	now      time.Time

	dupNumbers  int   // booking number collisions to report before succeeding
	markPaidErr error // returned by MarkPaid when set
}

func newFakeDB(now time.Time) *fakeDB {
	return &fakeDB{
		groups:  make(map[int64]*models.GroupSession),
		credits: make(map[int64]*models.PackageCredit),
		now:     now,
	}
}

func (db *fakeDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *fakeDB) slotHeld(trainerID int64, date time.Time, r models.TimeRange) bool {
	for _, b := range db.bookings {
		if b.TrainerID != trainerID || !b.SessionDate.Equal(date) || b.SessionType == models.SessionGroup {
			continue
		}
		if b.Status == models.BookingStatusCancelled {
			continue
		}
		if b.Range().Overlaps(r) {
			return true
		}
	}
	for _, g := range db.groups {
		if g.TrainerID == trainerID && g.SessionDate.Equal(date) && g.Status != models.GroupSessionCancelled &&
			(models.TimeRange{Start: g.StartTime, End: g.EndTime}).Overlaps(r) {
			return true
		}
	}
	return false
}

func (db *fakeDB) insertBooking(b *models.Booking) error {
	if db.dupNumbers > 0 {
		db.dupNumbers--
		return database.ErrDuplicateBookingNumber
	}
	for _, existing := range db.bookings {
		if existing.BookingNumber == b.BookingNumber {
			return database.ErrDuplicateBookingNumber
		}
	}
	b.ID = db.id()
	b.CreatedAt, b.UpdatedAt = db.now, db.now
	cp := *b
	db.bookings = append(db.bookings, &cp)
	return nil
}

func (db *fakeDB) find(id int64) *models.Booking {
	for _, b := range db.bookings {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (db *fakeDB) eachTarget(b *models.Booking, fn func(row *models.Booking)) {
	for _, row := range db.bookings {
		if b.RecurringSeriesID != nil {
			if row.RecurringSeriesID != nil && *row.RecurringSeriesID == *b.RecurringSeriesID {
				fn(row)
			}
		} else if row.ID == b.ID {
			fn(row)
		}
	}
}

// fakeBookings implements BookingStore
type fakeBookings struct{ db *fakeDB }

func (f fakeBookings) CreateBookings(_ context.Context, series *models.RecurringSeries, bookings []*models.Booking) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	for _, b := range bookings {
		if f.db.slotHeld(b.TrainerID, b.SessionDate, b.Range()) {
			return models.NewConflictError("slot_unavailable", "slot taken")
		}
	}
	if f.db.dupNumbers > 0 {
		f.db.dupNumbers--
		return database.ErrDuplicateBookingNumber
	}
	if series != nil {
		series.ID = f.db.id()
		series.SessionsCreated = len(bookings)
		cp := *series
		f.db.series = append(f.db.series, &cp)
	}
	for _, b := range bookings {
		if series != nil {
			b.RecurringSeriesID = int64Ptr(series.ID)
		}
		if err := f.db.insertBooking(b); err != nil {
			return err
		}
	}
	return nil
}

func (f fakeBookings) GetByID(_ context.Context, id int64) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if b := f.db.find(id); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (f fakeBookings) GetByNumber(_ context.Context, number string) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, b := range f.db.bookings {
		if b.BookingNumber == number {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeBookings) ListBySeries(_ context.Context, seriesID int64) ([]models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Booking
	for _, b := range f.db.bookings {
		if b.RecurringSeriesID != nil && *b.RecurringSeriesID == seriesID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeBookings) PayableAmount(_ context.Context, b *models.Booking) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if b.RecurringSeriesID == nil {
		return b.TotalAmountCents, nil
	}
	var total int64
	f.db.eachTarget(b, func(row *models.Booking) {
		if row.Status != models.BookingStatusCancelled {
			total += row.TotalAmountCents
		}
	})
	return total, nil
}

func (f fakeBookings) ListHolds(_ context.Context, trainerID int64, from, to time.Time) ([]models.SlotHold, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inRange := func(d time.Time) bool { return !d.Before(from) && !d.After(to) }

	var holds []models.SlotHold
	for _, b := range f.db.bookings {
		if b.TrainerID == trainerID && inRange(b.SessionDate) && b.Status != models.BookingStatusCancelled && b.SessionType != models.SessionGroup {
			holds = append(holds, models.SlotHold{SessionDate: b.SessionDate, StartTime: b.StartTime, EndTime: b.EndTime})
		}
	}
	for _, g := range f.db.groups {
		if g.TrainerID == trainerID && inRange(g.SessionDate) && g.Status != models.GroupSessionCancelled {
			holds = append(holds, models.SlotHold{SessionDate: g.SessionDate, StartTime: g.StartTime, EndTime: g.EndTime})
		}
	}
	return holds, nil
}

func (f fakeBookings) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	seen := map[int64]bool{}
	var out []models.Booking
	for _, b := range f.db.bookings {
		if b.Status != models.BookingStatusPending || b.PaymentStatus != models.PaymentStatusPending || !b.CreatedAt.Before(cutoff) {
			continue
		}
		if b.RecurringSeriesID != nil {
			if seen[*b.RecurringSeriesID] {
				continue
			}
			seen[*b.RecurringSeriesID] = true
		}
		out = append(out, *b)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f fakeBookings) AttachPaymentIntent(_ context.Context, b *models.Booking, intentID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.eachTarget(b, func(row *models.Booking) {
		if row.PaymentStatus == models.PaymentStatusPending {
			row.PaymentIntentID = stringPtr(intentID)
		}
	})
	return nil
}

func (f fakeBookings) MarkPaid(_ context.Context, b *models.Booking, intentID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.markPaidErr != nil {
		return false, f.db.markPaidErr
	}
	changed := false
	f.db.eachTarget(b, func(row *models.Booking) {
		if row.Status == models.BookingStatusPending && row.PaymentStatus == models.PaymentStatusPending {
			row.Status, row.PaymentStatus = models.BookingStatusConfirmed, models.PaymentStatusPaid
			row.PaymentIntentID = stringPtr(intentID)
			changed = true
		}
	})
	return changed, nil
}

func (f fakeBookings) Cancel(_ context.Context, id int64, reason string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.find(id)
	if b == nil || !b.Status.CanCancel() {
		return false, nil
	}
	b.Status = models.BookingStatusCancelled
	b.CancelReason = stringPtr(reason)
	return true, nil
}

func (f fakeBookings) CancelUnpaid(_ context.Context, b *models.Booking, reason string) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	f.db.eachTarget(b, func(row *models.Booking) {
		if row.Status == models.BookingStatusPending && row.PaymentStatus == models.PaymentStatusPending {
			row.Status = models.BookingStatusCancelled
			row.CancelReason = stringPtr(reason)
			n++
			if row.GroupSessionID != nil {
				if g, ok := f.db.groups[*row.GroupSessionID]; ok && g.CurrentPlayers > 0 {
					g.CurrentPlayers--
				}
			}
		}
	})
	return n, nil
}

func (f fakeBookings) Complete(_ context.Context, id int64) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.find(id)
	if b == nil || b.Status != models.BookingStatusConfirmed {
		return false, nil
	}
	b.Status = models.BookingStatusCompleted
	return true, nil
}

// fakeGroups implements GroupSessionStore
type fakeGroups struct{ db *fakeDB }

func (f fakeGroups) Create(_ context.Context, g *models.GroupSession) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.slotHeld(g.TrainerID, g.SessionDate, models.TimeRange{Start: g.StartTime, End: g.EndTime}) {
		return models.NewConflictError("slot_unavailable", "slot taken")
	}
	g.ID = f.db.id()
	cp := *g
	f.db.groups[g.ID] = &cp
	return nil
}

func (f fakeGroups) GetByID(_ context.Context, id int64) (*models.GroupSession, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if g, ok := f.db.groups[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (f fakeGroups) Join(_ context.Context, sessionID int64, b *models.Booking) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	g, ok := f.db.groups[sessionID]
	if !ok || g.Status != models.GroupSessionOpen || g.CurrentPlayers >= g.MaxPlayers {
		return 0, models.NewConflictError("group_full", "full")
	}
	for _, row := range f.db.bookings {
		if row.GroupSessionID != nil && *row.GroupSessionID == sessionID && row.PlayerID == b.PlayerID && row.Status != models.BookingStatusCancelled {
			return 0, models.NewConflictError("already_joined", "joined")
		}
	}
	if err := f.db.insertBooking(b); err != nil {
		return 0, err
	}
	g.CurrentPlayers++
	return g.CurrentPlayers, nil
}

func (f fakeGroups) Leave(_ context.Context, sessionID, bookingID int64, reason string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.find(bookingID)
	if b == nil || !b.Status.CanCancel() {
		return false, nil
	}
	b.Status = models.BookingStatusCancelled
	b.CancelReason = stringPtr(reason)
	if g, ok := f.db.groups[sessionID]; ok && g.CurrentPlayers > 0 {
		g.CurrentPlayers--
	}
	return true, nil
}

// fakeCredits implements CreditStore
type fakeCredits struct{ db *fakeDB }

func (f fakeCredits) GetByID(_ context.Context, id, parentID int64) (*models.PackageCredit, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if c, ok := f.db.credits[id]; ok && c.ParentID == parentID {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f fakeCredits) ListByParent(_ context.Context, parentID int64) ([]models.PackageCredit, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.PackageCredit
	for _, c := range f.db.credits {
		if c.ParentID == parentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f fakeCredits) Grant(_ context.Context, credit *models.PackageCredit) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if credit.PaymentIntentID != nil {
		for _, c := range f.db.credits {
			if c.PaymentIntentID != nil && *c.PaymentIntentID == *credit.PaymentIntentID {
				*credit = *c
				return false, nil
			}
		}
	}
	credit.ID = f.db.id()
	cp := *credit
	f.db.credits[credit.ID] = &cp
	return true, nil
}

func (f fakeCredits) RedeemForBooking(_ context.Context, creditID, parentID int64, b *models.Booking) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.credits[creditID]
	if !ok || c.ParentID != parentID || c.TrainerID != b.TrainerID || !c.IsRedeemable(f.db.now) {
		return 0, models.NewInsufficientCreditError("no credits")
	}
	if f.db.slotHeld(b.TrainerID, b.SessionDate, b.Range()) {
		return 0, models.NewConflictError("slot_unavailable", "slot taken")
	}
	b.PackageCreditID = int64Ptr(creditID)
	b.SessionsRemaining = c.Remaining - 1
	if err := f.db.insertBooking(b); err != nil {
		return 0, err
	}
	c.Remaining--
	if c.Remaining == 0 {
		c.Status = models.CreditStatusExhausted
	}
	return c.Remaining, nil
}

// fakeTrainers implements TrainerStore
type fakeTrainers struct {
	byID map[int64]*models.Trainer
}

func (f *fakeTrainers) GetByID(_ context.Context, id int64) (*models.Trainer, error) {
	if t, ok := f.byID[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeTrainers) GetByAccountID(_ context.Context, accountID int64) (*models.Trainer, error) {
	for _, t := range f.byID {
		if t.AccountID == accountID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

// fakeAvailability implements AvailabilityStore
type fakeAvailability struct {
	mu         sync.Mutex
	nextID     int64
	rules      map[int64][]models.AvailabilityRule
	exceptions []models.AvailabilityException
}

func newFakeAvailability() *fakeAvailability {
	return &fakeAvailability{rules: make(map[int64][]models.AvailabilityRule)}
}

func (f *fakeAvailability) ListRules(_ context.Context, trainerID int64) ([]models.AvailabilityRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AvailabilityRule(nil), f.rules[trainerID]...), nil
}

func (f *fakeAvailability) ReplaceWeeklyRules(_ context.Context, trainerID int64, schedule []models.DaySchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rules := make([]models.AvailabilityRule, 0, len(schedule))
	for _, d := range schedule {
		f.nextID++
		rules = append(rules, models.AvailabilityRule{
			ID: f.nextID, TrainerID: trainerID, DayOfWeek: d.Day,
			StartTime: d.Start, EndTime: d.End, IsActive: d.Active,
		})
	}
	f.rules[trainerID] = rules
	return nil
}

func (f *fakeAvailability) ListExceptions(_ context.Context, trainerID int64, from, to time.Time) ([]models.AvailabilityException, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AvailabilityException
	for _, e := range f.exceptions {
		if e.TrainerID == trainerID && !e.ExceptionDate.Before(from) && !e.ExceptionDate.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAvailability) AddException(_ context.Context, exc *models.AvailabilityException) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	exc.ID = f.nextID
	f.exceptions = append(f.exceptions, *exc)
	return nil
}

func (f *fakeAvailability) DeleteException(_ context.Context, trainerID, id int64) (*models.AvailabilityException, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.exceptions {
		if e.ID == id && e.TrainerID == trainerID {
			f.exceptions = append(f.exceptions[:i], f.exceptions[i+1:]...)
			return &e, nil
		}
	}
	return nil, nil
}

// fakeAccounts implements AccountStore
type fakeAccounts struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[string]*models.Account
	parents  map[int64]*models.Parent
	players  map[int64]*models.Player

	// hideNextLookup makes the next GetByEmail miss, as if another request
	// created the account between lookup and insert
	hideNextLookup bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		accounts: make(map[string]*models.Account),
		parents:  make(map[int64]*models.Parent),
		players:  make(map[int64]*models.Player),
	}
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideNextLookup {
		f.hideNextLookup = false
		return nil, nil
	}
	if a, ok := f.accounts[strings.ToLower(email)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) CreateIfAbsent(_ context.Context, account *models.Account) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.accounts[account.Email]; ok {
		*account = *existing
		return false, nil
	}
	f.nextID++
	account.ID = f.nextID
	cp := *account
	f.accounts[account.Email] = &cp
	return true, nil
}

func (f *fakeAccounts) addAccount(email string, roles ...string) *models.Account {
	a := &models.Account{Email: email, DisplayName: "Test User", Roles: models.StringArray(roles)}
	_, _ = f.CreateIfAbsent(context.Background(), a)
	return a
}

func (f *fakeAccounts) GetParentByAccountID(_ context.Context, accountID int64) (*models.Parent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.parents[accountID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAccounts) CreateParentIfAbsent(_ context.Context, parent *models.Parent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.parents[parent.AccountID]; ok {
		*parent = *existing
		return nil
	}
	f.nextID++
	parent.ID = f.nextID
	cp := *parent
	f.parents[parent.AccountID] = &cp
	return nil
}

func (f *fakeAccounts) GetPlayer(_ context.Context, id int64) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.players[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAccounts) FindPlayerByName(_ context.Context, parentID int64, first, last string) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players {
		if p.ParentID == parentID && strings.EqualFold(p.FirstName, first) && strings.EqualFold(p.LastName, last) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) CreatePlayer(_ context.Context, player *models.Player) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.players {
		if p.ParentID == player.ParentID {
			count++
		}
	}
	if count >= models.MaxPlayersPerParent {
		return models.NewConflictError("player_limit_reached", "limit")
	}
	f.nextID++
	player.ID = f.nextID
	cp := *player
	f.players[player.ID] = &cp
	return nil
}

// fakeIntents implements PaymentIntentStore
type fakeIntents struct {
	mu   sync.Mutex
	recs []*models.PaymentIntentRecord
}

func (f *fakeIntents) Save(_ context.Context, rec *models.PaymentIntentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.IntentID == rec.IntentID {
			r.Status = rec.Status
			return nil
		}
	}
	rec.ID = int64(len(f.recs) + 1)
	cp := *rec
	f.recs = append(f.recs, &cp)
	return nil
}

func (f *fakeIntents) GetByIntentID(_ context.Context, intentID string) (*models.PaymentIntentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.IntentID == intentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIntents) latest(match func(r *models.PaymentIntentRecord) bool) *models.PaymentIntentRecord {
	for i := len(f.recs) - 1; i >= 0; i-- {
		r := f.recs[i]
		if match(r) {
			cp := *r
			return &cp
		}
	}
	return nil
}

// FindLatestForBooking returns the newest booking intent whatever its status, like the SQL
func (f *fakeIntents) FindLatestForBooking(_ context.Context, bookingID int64) (*models.PaymentIntentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest(func(r *models.PaymentIntentRecord) bool {
		return r.Purpose == models.PurposeBooking && r.BookingID != nil && *r.BookingID == bookingID
	}), nil
}

func (f *fakeIntents) FindOpenForPackage(_ context.Context, parentID, trainerID int64, size int) (*models.PaymentIntentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest(func(r *models.PaymentIntentRecord) bool {
		return r.Purpose == models.PurposePackage && r.ParentID == parentID && r.TrainerID == trainerID &&
			r.PackageSize == size && r.Status != models.IntentSucceeded && r.Status != models.IntentCanceled
	}), nil
}

func (f *fakeIntents) UpdateStatus(_ context.Context, intentID string, status models.IntentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.IntentID == intentID {
			r.Status = status
		}
	}
	return nil
}

// fakeAudits implements PaymentAuditStore
type fakeAudits struct {
	mu      sync.Mutex
	entries []models.PaymentAudit
}

func (f *fakeAudits) Log(_ context.Context, a *models.PaymentAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *a)
	return nil
}

func (f *fakeAudits) ListByIntentID(_ context.Context, intentID string) ([]models.PaymentAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.PaymentAudit{}
	for _, e := range f.entries {
		if e.IntentID != nil && *e.IntentID == intentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudits) count(t models.PaymentEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EventType == t {
			n++
		}
	}
	return n
}

// fakeReconciliations implements ReconciliationStore
type fakeReconciliations struct {
	mu    sync.Mutex
	cases []*models.PaymentReconciliation
}

func (f *fakeReconciliations) Open(_ context.Context, rc *models.PaymentReconciliation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if c.IntentID == rc.IntentID && c.Status == models.ReconciliationOpen {
			c.Attempts++
			c.LastError = rc.LastError
			return nil
		}
	}
	rc.ID = int64(len(f.cases) + 1)
	rc.Attempts = 1
	cp := *rc
	f.cases = append(f.cases, &cp)
	return nil
}

func (f *fakeReconciliations) ListOpen(_ context.Context, limit int) ([]models.PaymentReconciliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentReconciliation
	for _, c := range f.cases {
		if c.Status == models.ReconciliationOpen && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeReconciliations) HasOpenForBooking(_ context.Context, bookingID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if c.BookingID == bookingID && c.Status == models.ReconciliationOpen {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReconciliations) RecordAttempt(_ context.Context, id int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if c.ID == id {
			c.Attempts++
			c.LastError = msg
		}
	}
	return nil
}

func (f *fakeReconciliations) Resolve(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if c.ID == id {
			c.Status = models.ReconciliationResolved
		}
	}
	return nil
}

// recordingDispatcher implements Dispatcher
type recordingDispatcher struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    string
	Payload map[string]interface{}
}

func (d *recordingDispatcher) Enqueue(_ context.Context, eventType string, payload map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, recordedEvent{Type: eventType, Payload: payload})
}

func (d *recordingDispatcher) count(eventType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// fakeGateway implements PaymentGateway with idempotency keys honoured
type fakeGateway struct {
	mu          sync.Mutex
	intents     map[string]*models.GatewayIntent
	byKey       map[string]string
	createCalls int
	getCalls    int
	getErr      error
	createErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]*models.GatewayIntent), byKey: make(map[string]string)}
}

func (g *fakeGateway) CreateIntent(_ context.Context, p CreateIntentParams) (*models.GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	if id, ok := g.byKey[p.IdempotencyKey]; ok {
		cp := *g.intents[id]
		return &cp, nil
	}
	id := fmt.Sprintf("pi_%d", len(g.intents)+1)
	g.intents[id] = &models.GatewayIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
		Status:       models.IntentRequiresPaymentMethod,
		Metadata:     p.Metadata,
	}
	g.byKey[p.IdempotencyKey] = id
	cp := *g.intents[id]
	return &cp, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, id string) (*models.GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	intent, ok := g.intents[id]
	if !ok {
		return nil, &GatewayError{StatusCode: 404, Message: "no such payment_intent"}
	}
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) setStatus(id string, status models.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id].Status = status
}

// ============================================================================
// HARNESS
// ============================================================================

// testNow is Saturday 2025-03-01 10:00 in New York
var testNow = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

const (
	trainerID        int64 = 100
	trainerAccountID int64 = 900
)

type harness struct {
	db         *fakeDB
	trainers   *fakeTrainers
	avail      *fakeAvailability
	accounts   *fakeAccounts
	intents    *fakeIntents
	audits     *fakeAudits
	recs       *fakeReconciliations
	dispatcher *recordingDispatcher
	gateway    *fakeGateway

	availability *AvailabilityService
	identity     *IdentityService
	bookingSvc   *BookingService
	creditSvc    *CreditService
	paymentSvc   *PaymentService

	trainerActor *models.Actor
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	h := &harness{
		db: newFakeDB(testNow),
		trainers: &fakeTrainers{byID: map[int64]*models.Trainer{
			trainerID: {ID: trainerID, AccountID: trainerAccountID, DisplayName: "Coach", HourlyRateCents: 8000, Status: models.TrainerStatusActive},
		}},
		avail:        newFakeAvailability(),
		accounts:     newFakeAccounts(),
		intents:      &fakeIntents{},
		audits:       &fakeAudits{},
		recs:         &fakeReconciliations{},
		dispatcher:   &recordingDispatcher{},
		gateway:      newFakeGateway(),
		trainerActor: &models.Actor{AccountID: trainerAccountID, Roles: []string{models.RoleTrainer}},
	}

	bookingCfg := config.BookingConfig{
		PlatformFeeRate: 0.25,
		SlotDuration:    time.Hour,
		HorizonDays:     90,
		DiscountTiers:   []config.DiscountTier{{MinSessions: 5, PercentOff: 10}},
		PendingTTL:      30 * time.Minute,
		NumberPrefix:    "TB",
	}
	pricing := NewPricingPolicy(bookingCfg)
	calc := SlotCalculator{SlotDuration: bookingCfg.SlotDuration, HorizonDays: bookingCfg.HorizonDays}
	bookings := fakeBookings{db: h.db}

	h.availability = NewAvailabilityService(h.trainers, h.avail, bookings, cache.NewMemoryCache(), calc, loc, 5*time.Minute, logger)
	h.availability.now = func() time.Time { return testNow }
	phones, err := validator.NewPhoneValidator("1")
	require.NoError(t, err)
	h.identity = NewIdentityService(h.accounts, phones, 4, logger)
	h.bookingSvc = NewBookingService(h.trainers, bookings, fakeGroups{db: h.db}, h.identity, h.availability, pricing, h.dispatcher, "TB", logger)
	h.bookingSvc.now = func() time.Time { return testNow }
	h.creditSvc = NewCreditService(fakeCredits{db: h.db}, h.bookingSvc, h.identity, h.availability, h.dispatcher, logger)
	h.creditSvc.now = func() time.Time { return testNow }
	h.paymentSvc = NewPaymentService(PaymentServiceDeps{
		Bookings:        bookings,
		Intents:         h.intents,
		Reconciliations: h.recs,
		Trainers:        h.trainers,
		Identity:        h.identity,
		Credits:         h.creditSvc,
		Availability:    h.availability,
		Gateway:         h.gateway,
		Audit:           NewAuditService(h.audits, logger),
		Pricing:         pricing,
		Retry:           RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Dispatcher:      h.dispatcher,
		Currency:        "usd",
		PendingTTL:      bookingCfg.PendingTTL,
		Logger:          logger,
	})
	h.paymentSvc.now = func() time.Time { return testNow }
	return h
}

// withMondayEvenings gives the trainer Monday 16:00-20:00
func (h *harness) withMondayEvenings(t *testing.T) {
	t.Helper()
	_, err := h.availability.SaveWeeklySchedule(context.Background(), h.trainerActor,
		[]byte(`[{"day":1,"active":true,"start":"16:00","end":"20:00"}]`))
	require.NoError(t, err)
}

// parentActor registers a parent account with one player
func (h *harness) parentActor(t *testing.T, email string) (*models.Actor, *models.Player) {
	t.Helper()
	ctx := context.Background()
	account := h.accounts.addAccount(email, models.RoleParent)
	actor := &models.Actor{AccountID: account.ID, Email: email, Roles: []string{models.RoleParent}}
	parent, err := h.identity.ParentForActor(ctx, actor)
	require.NoError(t, err)
	player, err := h.identity.ResolvePlayer(ctx, parent, models.PlayerFields{FirstName: "Sam", LastName: "Lee", Age: 12})
	require.NoError(t, err)
	return actor, player
}

func guestInfo(email string) *models.GuestInfo {
	return &models.GuestInfo{
		Profile: models.ProfileFields{Email: email, FirstName: "Pat", LastName: "Guest"},
		Player:  models.PlayerFields{FirstName: "Kid", LastName: "Guest", Age: 10},
	}
}

func slotStarts(day *models.DayAvailability) []string {
	out := make([]string, 0, len(day.Slots))
	for _, s := range day.Slots {
		out = append(out, s.Start.String())
	}
	return out
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}
