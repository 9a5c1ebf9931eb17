package services

import (
	"context"
	"time"

	"github.com/coachconnect/booking-engine/internal/models"
)

// The interfaces below are the storage operations the services depend on.
// The database package repositories satisfy them.

type TrainerStore interface {
	GetByID(ctx context.Context, id int64) (*models.Trainer, error)
	GetByAccountID(ctx context.Context, accountID int64) (*models.Trainer, error)
}

type AvailabilityStore interface {
	ListRules(ctx context.Context, trainerID int64) ([]models.AvailabilityRule, error)
	ReplaceWeeklyRules(ctx context.Context, trainerID int64, schedule []models.DaySchedule) error
	ListExceptions(ctx context.Context, trainerID int64, from, to time.Time) ([]models.AvailabilityException, error)
	AddException(ctx context.Context, exception *models.AvailabilityException) error
	DeleteException(ctx context.Context, trainerID, exceptionID int64) (*models.AvailabilityException, error)
}

// HoldLister lists the windows held by active bookings and group sessions
type HoldLister interface {
	ListHolds(ctx context.Context, trainerID int64, from, to time.Time) ([]models.SlotHold, error)
}

type BookingStore interface {
	HoldLister
	CreateBookings(ctx context.Context, series *models.RecurringSeries, bookings []*models.Booking) error
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	GetByNumber(ctx context.Context, number string) (*models.Booking, error)
	ListBySeries(ctx context.Context, seriesID int64) ([]models.Booking, error)
	PayableAmount(ctx context.Context, b *models.Booking) (int64, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	AttachPaymentIntent(ctx context.Context, b *models.Booking, intentID string) error
	MarkPaid(ctx context.Context, b *models.Booking, intentID string) (bool, error)
	Cancel(ctx context.Context, id int64, reason string) (bool, error)
	CancelUnpaid(ctx context.Context, b *models.Booking, reason string) (int64, error)
	Complete(ctx context.Context, id int64) (bool, error)
}

type GroupSessionStore interface {
	Create(ctx context.Context, g *models.GroupSession) error
	GetByID(ctx context.Context, id int64) (*models.GroupSession, error)
	Join(ctx context.Context, sessionID int64, b *models.Booking) (int, error)
	Leave(ctx context.Context, sessionID, bookingID int64, reason string) (bool, error)
}

type CreditStore interface {
	GetByID(ctx context.Context, id, parentID int64) (*models.PackageCredit, error)
	ListByParent(ctx context.Context, parentID int64) ([]models.PackageCredit, error)
	Grant(ctx context.Context, credit *models.PackageCredit) (bool, error)
	RedeemForBooking(ctx context.Context, creditID, parentID int64, b *models.Booking) (int, error)
}

type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	CreateIfAbsent(ctx context.Context, account *models.Account) (bool, error)
	GetParentByAccountID(ctx context.Context, accountID int64) (*models.Parent, error)
	CreateParentIfAbsent(ctx context.Context, parent *models.Parent) error
	GetPlayer(ctx context.Context, id int64) (*models.Player, error)
	FindPlayerByName(ctx context.Context, parentID int64, firstName, lastName string) (*models.Player, error)
	CreatePlayer(ctx context.Context, player *models.Player) error
}

type PaymentIntentStore interface {
	Save(ctx context.Context, rec *models.PaymentIntentRecord) error
	GetByIntentID(ctx context.Context, intentID string) (*models.PaymentIntentRecord, error)
	FindLatestForBooking(ctx context.Context, bookingID int64) (*models.PaymentIntentRecord, error)
	FindOpenForPackage(ctx context.Context, parentID, trainerID int64, size int) (*models.PaymentIntentRecord, error)
	UpdateStatus(ctx context.Context, intentID string, status models.IntentStatus) error
}

type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	ListByIntentID(ctx context.Context, intentID string) ([]models.PaymentAudit, error)
}

type ReconciliationStore interface {
	Open(ctx context.Context, rec *models.PaymentReconciliation) error
	ListOpen(ctx context.Context, limit int) ([]models.PaymentReconciliation, error)
	HasOpenForBooking(ctx context.Context, bookingID int64) (bool, error)
	RecordAttempt(ctx context.Context, id int64, lastError string) error
	Resolve(ctx context.Context, id int64) error
}

type EventStore interface {
	Insert(ctx context.Context, event *models.NotificationEvent) error
}
