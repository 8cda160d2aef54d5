package library

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addTestBook(t *testing.T, db *Database, code string, quantity int) int64 {
	t.Helper()
	id, err := db.AddBook(&Book{
		Title:             "Test Book " + code,
		Code:              code,
		Genre:             "Fiction",
		Author:            "Test Author",
		Publisher:         "Test Publisher",
		Status:            BookAvailable,
		Quantity:          quantity,
		AvailableQuantity: quantity,
	})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	return id
}

func addTestUser(t *testing.T, db *Database, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.AddUser(&User{
		ID:           id,
		Name:         "User " + id,
		Email:        id + "@example.com",
		PasswordHash: "x",
		Role:         RoleMember,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
}

func newBorrowing(userID string, bookID int64, borrowDate time.Time) *Borrowing {
	return &Borrowing{
		UserID:     userID,
		BookID:     bookID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.Add(LoanPeriod),
		Status:     BorrowingActive,
	}
}

func TestBookCRUD(t *testing.T) {
	db := tempDB(t)
	id := addTestBook(t, db, "ABC-001", 3)

	book, err := db.GetBook(id)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.AvailableQuantity != 3 || book.Status != BookAvailable {
		t.Fatalf("unexpected book state: %+v", book)
	}

	byCode, err := db.GetBookByCode("ABC-001")
	if err != nil || byCode.ID != id {
		t.Fatalf("get by code: %v", err)
	}

	book.Title = "Renamed"
	book.Genre = "Mystery"
	if err := db.UpdateBook(book); err != nil {
		t.Fatalf("update book: %v", err)
	}
	got, _ := db.GetBook(id)
	if got.Title != "Renamed" || got.Genre != "Mystery" {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := db.DeleteBook(id); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, err := db.GetBook(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestDuplicateBookCode(t *testing.T) {
	db := tempDB(t)
	addTestBook(t, db, "DUP-001", 1)
	_, err := db.AddBook(&Book{Title: "Other", Code: "DUP-001", Status: BookAvailable, Quantity: 1, AvailableQuantity: 1})
	if err == nil {
		t.Fatal("want error on duplicate code")
	}
}

func TestBorrowDecrementsStock(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "BOR-001", 1)
	addTestUser(t, db, "alice")
	addTestUser(t, db, "bob")

	now := time.Now().UTC()
	if _, err := db.createBorrowing(newBorrowing("alice", bookID, now)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	book, _ := db.GetBook(bookID)
	if book.AvailableQuantity != 0 {
		t.Fatalf("want available 0, got %d", book.AvailableQuantity)
	}
	if book.Status != BookBorrowed {
		t.Fatalf("want status %q, got %q", BookBorrowed, book.Status)
	}
	if book.BorrowCount != 1 {
		t.Fatalf("want borrow count 1, got %d", book.BorrowCount)
	}

	if _, err := db.createBorrowing(newBorrowing("bob", bookID, now)); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict at zero stock, got %v", err)
	}
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "RACE-001", 1)

	const workers = 8
	for i := 0; i < workers; i++ {
		addTestUser(t, db, fmt.Sprintf("user%d", i))
	}

	now := time.Now().UTC()
	var wg sync.WaitGroup
	ok := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := db.createBorrowing(newBorrowing(fmt.Sprintf("user%d", i), bookID, now)); err == nil {
				ok <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(ok)

	succeeded := 0
	for range ok {
		succeeded++
	}
	if succeeded != 1 {
		t.Fatalf("want exactly 1 successful borrow, got %d", succeeded)
	}

	book, _ := db.GetBook(bookID)
	if book.AvailableQuantity != 0 {
		t.Fatalf("want available 0, got %d", book.AvailableQuantity)
	}
}

func TestFinishBorrowingRestocks(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "RET-001", 1)
	addTestUser(t, db, "alice")

	now := time.Now().UTC()
	id, err := db.createBorrowing(newBorrowing("alice", bookID, now))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := db.finishBorrowing(id, now, BorrowingReturned, false); err != nil {
		t.Fatalf("return: %v", err)
	}

	book, _ := db.GetBook(bookID)
	if book.AvailableQuantity != 1 || book.Status != BookAvailable {
		t.Fatalf("restock failed: available=%d status=%q", book.AvailableQuantity, book.Status)
	}

	b, _ := db.GetBorrowing(id)
	if b.Status != BorrowingReturned || b.ReturnDate == nil {
		t.Fatalf("unexpected borrowing state: %+v", b)
	}

	// A second finish must not credit the stock again.
	if err := db.finishBorrowing(id, now, BorrowingReturned, false); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict on double finish, got %v", err)
	}
	book, _ = db.GetBook(bookID)
	if book.AvailableQuantity != 1 {
		t.Fatalf("double restock: available=%d", book.AvailableQuantity)
	}
}

func TestMarkOverdueOnlyActive(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "OVD-001", 1)
	addTestUser(t, db, "alice")

	now := time.Now().UTC()
	id, _ := db.createBorrowing(newBorrowing("alice", bookID, now))

	n, err := db.markOverdue(id)
	if err != nil || n != 1 {
		t.Fatalf("mark overdue: n=%d err=%v", n, err)
	}
	n, err = db.markOverdue(id)
	if err != nil || n != 0 {
		t.Fatalf("second mark overdue: n=%d err=%v", n, err)
	}

	b, _ := db.GetBorrowing(id)
	if b.Status != BorrowingOverdue {
		t.Fatalf("want Overdue, got %q", b.Status)
	}
}

func TestDeleteBorrowingRestocksUnfinished(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "DEL-001", 1)
	addTestUser(t, db, "alice")

	now := time.Now().UTC()
	id, _ := db.createBorrowing(newBorrowing("alice", bookID, now))

	if err := db.deleteBorrowing(id); err != nil {
		t.Fatalf("delete borrowing: %v", err)
	}
	book, _ := db.GetBook(bookID)
	if book.AvailableQuantity != 1 || book.Status != BookAvailable {
		t.Fatalf("restock on delete failed: available=%d status=%q", book.AvailableQuantity, book.Status)
	}
	if _, err := db.GetBorrowing(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeleteReturnedBorrowingDoesNotRestock(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "DEL-002", 1)
	addTestUser(t, db, "alice")

	now := time.Now().UTC()
	id, _ := db.createBorrowing(newBorrowing("alice", bookID, now))
	if err := db.finishBorrowing(id, now, BorrowingReturned, false); err != nil {
		t.Fatalf("return: %v", err)
	}

	if err := db.deleteBorrowing(id); err != nil {
		t.Fatalf("delete borrowing: %v", err)
	}
	book, _ := db.GetBook(bookID)
	if book.AvailableQuantity != 1 {
		t.Fatalf("stock double credited: available=%d", book.AvailableQuantity)
	}
}

func TestDeleteBookWithUnfinishedBorrowing(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "HIS-001", 2)
	addTestUser(t, db, "alice")

	now := time.Now().UTC()
	id, _ := db.createBorrowing(newBorrowing("alice", bookID, now))

	if err := db.DeleteBook(bookID); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict while copy is out, got %v", err)
	}

	if err := db.finishBorrowing(id, now, BorrowingReturned, false); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := db.DeleteBook(bookID); err != nil {
		t.Fatalf("delete after return: %v", err)
	}
	// History rows go with the book.
	if _, err := db.GetBorrowing(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want cascade delete of history, got %v", err)
	}
}

func TestOverdueQueryUsesCutoff(t *testing.T) {
	db := tempDB(t)
	bookID := addTestBook(t, db, "CUT-001", 2)
	addTestUser(t, db, "alice")
	addTestUser(t, db, "bob")

	now := time.Now().UTC()
	late := newBorrowing("alice", bookID, now.Add(-20*24*time.Hour))
	if _, err := db.createBorrowing(late); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	onTime := newBorrowing("bob", bookID, now)
	if _, err := db.createBorrowing(onTime); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	overdue, err := db.GetOverdueBorrowings(now)
	if err != nil {
		t.Fatalf("overdue query: %v", err)
	}
	if len(overdue) != 1 || overdue[0].UserID != "alice" {
		t.Fatalf("want alice's borrowing only, got %d rows", len(overdue))
	}
	if overdue[0].UserEmail != "alice@example.com" || overdue[0].BookCode != "CUT-001" {
		t.Fatalf("joined fields missing: %+v", overdue[0])
	}
}

func TestResetTokenExpiry(t *testing.T) {
	db := tempDB(t)
	addTestUser(t, db, "alice")

	u, _ := db.GetUser("alice")
	expiry := time.Now().UTC().Add(time.Hour)
	u.ResetToken = "tok-123"
	u.ResetTokenExpiry = &expiry
	if err := db.UpdateUser(u); err != nil {
		t.Fatalf("update user: %v", err)
	}

	if _, err := db.GetUserByResetToken("tok-123", time.Now().UTC()); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if _, err := db.GetUserByResetToken("tok-123", expiry.Add(time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if _, err := db.GetUserByResetToken("nope", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown token accepted: %v", err)
	}
}

func TestNotificationReadTracking(t *testing.T) {
	db := tempDB(t)
	addTestUser(t, db, "alice")

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := db.AddNotification(&Notification{
			ID:        fmt.Sprintf("n-%d", i),
			UserID:    "alice",
			Message:   fmt.Sprintf("message %d", i),
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("add notification: %v", err)
		}
	}

	n, err := db.UnreadNotificationCount("alice")
	if err != nil || n != 3 {
		t.Fatalf("unread count: n=%d err=%v", n, err)
	}

	if err := db.MarkNotificationRead("n-0"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, _ = db.UnreadNotificationCount("alice")
	if n != 2 {
		t.Fatalf("want 2 unread, got %d", n)
	}

	if err := db.MarkAllNotificationsRead("alice"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	n, _ = db.UnreadNotificationCount("alice")
	if n != 0 {
		t.Fatalf("want 0 unread, got %d", n)
	}
}
