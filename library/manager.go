package library

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manager is the service layer over the Database: it enforces the business
// rules and emits notifications, keeping HTTP and CLI code simple. All
// collaborators are injected; there is no ambient global state.
type Manager struct {
	db     *Database
	mailer EmailSender
	log    *logrus.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewManager wires the service layer. mailer may be nil when no email
// transport is configured; mail sends become no-ops then.
func NewManager(db *Database, mailer EmailSender, log *logrus.Logger) *Manager {
	if mailer == nil {
		mailer = noopSender{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Manager{db: db, mailer: mailer, log: log, now: time.Now}
}

// Close closes the underlying database.
func (m *Manager) Close() error { return m.db.Close() }

// DB exposes the store for read-only wiring (seed command, tests).
func (m *Manager) DB() *Database { return m.db }

// ------------------ Catalog ------------------

// AddBook registers a new title. The book code must be unique.
func (m *Manager) AddBook(b *Book) (int64, error) {
	if b.Quantity < 1 {
		b.Quantity = 1
	}
	if b.AvailableQuantity == 0 {
		b.AvailableQuantity = b.Quantity
	}
	if b.AvailableQuantity > b.Quantity {
		return 0, errors.Wrapf(ErrConflict, "available quantity %d exceeds quantity %d",
			b.AvailableQuantity, b.Quantity)
	}
	if _, err := m.db.GetBookByCode(b.Code); err == nil {
		return 0, errors.Wrapf(ErrConflict, "book with code %q already exists", b.Code)
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	return m.db.AddBook(b)
}

func (m *Manager) GetBook(id int64) (*Book, error) { return m.db.GetBook(id) }

// GetBookDetails fetches a book and bumps its view counter.
func (m *Manager) GetBookDetails(id int64) (*Book, error) {
	b, err := m.db.GetBook(id)
	if err != nil {
		return nil, err
	}
	if err := m.db.IncrementViewCount(id); err != nil {
		m.log.WithError(err).WithField("book_id", id).Warn("increment view count")
	}
	return b, nil
}

func (m *Manager) GetAllBooks() ([]*Book, error)       { return m.db.GetAllBooks() }
func (m *Manager) GetAvailableBooks() ([]*Book, error) { return m.db.GetAvailableBooks() }

// UpdateBook updates descriptive fields. A code change must not collide
// with another title.
func (m *Manager) UpdateBook(b *Book) error {
	existing, err := m.db.GetBook(b.ID)
	if err != nil {
		return err
	}
	if existing.Code != b.Code {
		if other, err := m.db.GetBookByCode(b.Code); err == nil && other.ID != b.ID {
			return errors.Wrapf(ErrConflict, "book with code %q already exists", b.Code)
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return m.db.UpdateBook(b)
}

func (m *Manager) DeleteBook(id int64) error { return m.db.DeleteBook(id) }

// ------------------ Ledger reads ------------------

func (m *Manager) GetBorrowing(id int64) (*Borrowing, error) { return m.db.GetBorrowing(id) }
func (m *Manager) GetAllBorrowings() ([]*Borrowing, error)   { return m.db.GetAllBorrowings() }
func (m *Manager) GetActiveBorrowings() ([]*Borrowing, error) {
	return m.db.GetActiveBorrowings()
}
func (m *Manager) GetBorrowingsByUser(userID string) ([]*Borrowing, error) {
	return m.db.GetBorrowingsByUser(userID)
}
func (m *Manager) GetBorrowingsByBook(bookID int64) ([]*Borrowing, error) {
	return m.db.GetBorrowingsByBook(bookID)
}
func (m *Manager) GetOverdueBorrowings() ([]*Borrowing, error) {
	return m.db.GetOverdueBorrowings(m.now())
}
