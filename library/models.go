package library

import "time"

// Book status values. Status is derived from stock: a book is Borrowed
// exactly when no copies are left.
const (
	BookAvailable = "Available"
	BookBorrowed  = "Borrowed"
)

// Borrowing lifecycle states. Active moves to Overdue, Returned or
// Cancelled; Returned and Cancelled are terminal.
const (
	BorrowingActive    = "Active"
	BorrowingOverdue   = "Overdue"
	BorrowingReturned  = "Returned"
	BorrowingCancelled = "Cancelled"
)

// User roles.
const (
	RoleMember = "Member"
	RoleAdmin  = "Admin"
)

// LoanPeriod is how long a borrower may keep a book.
const LoanPeriod = 14 * 24 * time.Hour

// ResetTokenTTL is how long a password-reset token stays valid.
const ResetTokenTTL = time.Hour

// Book represents one title in the catalog with counted copies.
// AvailableQuantity is only ever mutated by the circulation transactions
// (borrow, return, cancel, delete of an unreturned borrowing).
type Book struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Code              string `json:"code"`
	Genre             string `json:"genre"`
	Author            string `json:"author"`
	Publisher         string `json:"publisher"`
	Status            string `json:"status"`
	Quantity          int    `json:"quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	ViewCount         int    `json:"view_count"`
	BorrowCount       int    `json:"borrow_count"`
}

// User represents a registered library member or admin.
type User struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"` // Don't serialize password hash
	Role             string     `json:"role"`
	Active           bool       `json:"active"`
	ResetToken       string     `json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Borrowing is one loan of one book copy to one user. ReturnDate is set
// only when the borrowing reaches Returned or Cancelled.
type Borrowing struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	BookID     int64      `json:"book_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `json:"status"`

	// Joined for display, not stored on the borrowing row.
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	BookTitle string `json:"book_title,omitempty"`
	BookCode  string `json:"book_code,omitempty"`
}

// Notification is an append-only per-user message. Only the read flag is
// ever mutated after creation.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}
