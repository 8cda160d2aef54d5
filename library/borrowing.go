package library

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Borrow lends one copy of a book to a user starting at borrowDate. The due
// date is borrowDate plus the loan period. Stock is decremented inside the
// same transaction that records the loan, so the last copy can only be
// borrowed once.
func (m *Manager) Borrow(userID string, bookID int64, borrowDate time.Time) (*Borrowing, error) {
	user, err := m.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, errors.Wrapf(ErrConflict, "user %s is deactivated", userID)
	}

	book, err := m.db.GetBook(bookID)
	if err != nil {
		return nil, err
	}

	b := &Borrowing{
		UserID:     userID,
		BookID:     bookID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.Add(LoanPeriod),
	}
	id, err := m.db.createBorrowing(b)
	if err != nil {
		return nil, err
	}

	m.notify(userID, fmt.Sprintf("Successfully borrowed '%s' (Code: %s). Due date: %s",
		book.Title, book.Code, b.DueDate.Format("Jan 02, 2006")))

	return m.db.GetBorrowing(id)
}

// ReturnBook finishes an Active or Overdue borrowing. Returning twice fails
// with a conflict; stock is restored exactly once, capped at the owned
// quantity.
func (m *Manager) ReturnBook(borrowingID int64) error {
	b, err := m.db.GetBorrowing(borrowingID)
	if err != nil {
		return err
	}

	now := m.now()
	if err := m.db.finishBorrowing(borrowingID, now, BorrowingReturned, false); err != nil {
		return err
	}

	if now.After(b.DueDate) {
		m.notify(b.UserID, fmt.Sprintf("Returned '%s' (Code: %s) after the due date. Please return on time next time.",
			b.BookTitle, b.BookCode))
	} else {
		m.notify(b.UserID, fmt.Sprintf("Successfully returned '%s' (Code: %s). Thank you!",
			b.BookTitle, b.BookCode))
	}
	return nil
}

// MarkAsOverdue transitions an Active borrowing whose due date has passed to
// Overdue. Marking an already-Overdue record is a no-op; finished records
// never regress.
func (m *Manager) MarkAsOverdue(borrowingID int64) error {
	b, err := m.db.GetBorrowing(borrowingID)
	if err != nil {
		return err
	}
	switch b.Status {
	case BorrowingOverdue:
		return nil
	case BorrowingReturned, BorrowingCancelled:
		return errors.Wrapf(ErrConflict, "borrowing %d is already %s", borrowingID, b.Status)
	}
	if !b.DueDate.Before(m.now()) {
		return errors.Wrapf(ErrConflict, "borrowing %d is not due yet", borrowingID)
	}

	n, err := m.db.markOverdue(borrowingID)
	if err != nil {
		return err
	}
	if n == 0 {
		// Lost the race with a concurrent return or cancel.
		return errors.Wrapf(ErrConflict, "borrowing %d changed state", borrowingID)
	}
	return nil
}

// CancelBorrowing cancels a borrowing before it starts. Only the owner or an
// admin may cancel, and only while the borrow date has not passed (the
// borrow date itself still counts, by calendar date). Stock and the borrow
// counter are rolled back.
func (m *Manager) CancelBorrowing(borrowingID int64, actorUserID string, actorIsAdmin bool) error {
	b, err := m.db.GetBorrowing(borrowingID)
	if err != nil {
		return err
	}
	if b.UserID != actorUserID && !actorIsAdmin {
		return errors.Wrapf(ErrAuthorization, "user %s does not own borrowing %d", actorUserID, borrowingID)
	}
	if b.Status == BorrowingCancelled {
		return errors.Wrapf(ErrConflict, "borrowing %d is already cancelled", borrowingID)
	}
	if beforeToday(b.BorrowDate, m.now()) {
		return errors.Wrapf(ErrConflict, "borrowing %d already started on %s",
			borrowingID, b.BorrowDate.Format("Jan 02, 2006"))
	}

	if err := m.db.finishBorrowing(borrowingID, m.now(), BorrowingCancelled, true); err != nil {
		return err
	}

	m.notify(b.UserID, fmt.Sprintf("Cancelled borrowing of '%s' (Code: %s).", b.BookTitle, b.BookCode))
	return nil
}

// DeleteBorrowing removes a ledger row, restoring stock first when the
// record was still unfinished.
func (m *Manager) DeleteBorrowing(borrowingID int64) error {
	return m.db.deleteBorrowing(borrowingID)
}

// beforeToday reports whether t falls on an earlier calendar day than now.
func beforeToday(t, now time.Time) bool {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	return time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).
		Before(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC))
}
