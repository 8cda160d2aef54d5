package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSweepInterval is the cadence of the overdue scan.
const DefaultSweepInterval = 24 * time.Hour

// almostDueWindow: borrowings due within this many days get a reminder.
const almostDueWindow = 2

// Sweeper periodically scans Active borrowings, advances overdue state and
// sends reminder emails. Cycles are single-flight: the background loop and
// manual Sweep calls share one mutex, so two cycles never race on the same
// ledger rows.
type Sweeper struct {
	mgr      *Manager
	mailer   EmailSender
	log      *logrus.Logger
	interval time.Duration

	mu sync.Mutex
}

func NewSweeper(mgr *Manager, mailer EmailSender, log *logrus.Logger, interval time.Duration) *Sweeper {
	if mailer == nil {
		mailer = noopSender{}
	}
	if log == nil {
		log = logrus.New()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{mgr: mgr, mailer: mailer, log: log, interval: interval}
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// A failed cycle is logged and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("overdue sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.safeSweep(); err != nil {
			s.log.WithError(err).Error("overdue sweep failed")
		}

		select {
		case <-ctx.Done():
			s.log.Info("overdue sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// safeSweep runs one cycle and converts panics into errors so a bad cycle
// can never take down the host process.
func (s *Sweeper) safeSweep() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return s.Sweep()
}

// Sweep runs a single cycle over all Active borrowings. Each record is
// processed independently: a failure on one is logged and the scan
// continues with the next.
func (s *Sweeper) Sweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	borrowings, err := s.mgr.GetActiveBorrowings()
	if err != nil {
		return fmt.Errorf("list active borrowings: %w", err)
	}

	now := s.mgr.now()
	for _, b := range borrowings {
		if err := s.sweepOne(b, now); err != nil {
			s.log.WithError(err).WithField("borrowing_id", b.ID).Error("process borrowing")
		}
	}

	s.log.WithField("count", len(borrowings)).Info("checked active borrowings for overdue notifications")
	return nil
}

func (s *Sweeper) sweepOne(b *Borrowing, now time.Time) error {
	if b.UserEmail == "" {
		s.log.WithField("user_id", b.UserID).Warn("user has no email, skipping reminder")
		return nil
	}

	if b.DueDate.Before(now) {
		daysOverdue := int(now.Sub(b.DueDate).Hours() / 24)
		s.log.WithFields(logrus.Fields{
			"borrowing_id": b.ID,
			"user_email":   b.UserEmail,
			"book_title":   b.BookTitle,
			"days_overdue": daysOverdue,
		}).Info("marking borrowing overdue")

		if err := s.mgr.MarkAsOverdue(b.ID); err != nil {
			return fmt.Errorf("mark overdue: %w", err)
		}
		s.mgr.notify(b.UserID, fmt.Sprintf("'%s' (Code: %s) is overdue. Please return it as soon as possible.",
			b.BookTitle, b.BookCode))

		if err := s.mailer.SendOverdueWarning(b.UserEmail, b.UserName, b.BookTitle, b.DueDate, daysOverdue); err != nil {
			return fmt.Errorf("send overdue email: %w", err)
		}
		return nil
	}

	daysUntilDue := int(b.DueDate.Sub(now).Hours() / 24)
	if daysUntilDue > 0 && daysUntilDue <= almostDueWindow {
		s.log.WithFields(logrus.Fields{
			"borrowing_id": b.ID,
			"user_email":   b.UserEmail,
			"book_title":   b.BookTitle,
		}).Info("sending almost-overdue reminder")

		if err := s.mailer.SendAlmostOverdueWarning(b.UserEmail, b.UserName, b.BookTitle, b.DueDate); err != nil {
			return fmt.Errorf("send reminder email: %w", err)
		}
	}
	return nil
}
