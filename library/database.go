package library

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Database provides high-level helpers around a SQLite connection.
//
// All writes to Book.available_quantity happen inside the circulation
// transactions at the bottom of this file; nothing else touches stock.
type Database struct {
	db *sql.DB

	addBookStmt         *sql.Stmt
	addUserStmt         *sql.Stmt
	addNotificationStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sql.Stmt{d.addBookStmt, d.addUserStmt, d.addNotificationStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'Member',
            active BOOLEAN NOT NULL DEFAULT 1,
            reset_token TEXT,
            reset_token_expiry DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            code TEXT NOT NULL UNIQUE,
            genre TEXT NOT NULL DEFAULT '',
            author TEXT NOT NULL DEFAULT '',
            publisher TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'Available',
            quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 1),
            available_quantity INTEGER NOT NULL DEFAULT 1
                CHECK (available_quantity >= 0 AND available_quantity <= quantity),
            view_count INTEGER NOT NULL DEFAULT 0,
            borrow_count INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS borrowings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL REFERENCES users(id),
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            borrow_date DATETIME NOT NULL,
            due_date DATETIME NOT NULL,
            return_date DATETIME,
            status TEXT NOT NULL DEFAULT 'Active'
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrowings_status ON borrowings(status);`,
		`CREATE INDEX IF NOT EXISTS idx_borrowings_user ON borrowings(user_id);`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL REFERENCES users(id),
            message TEXT NOT NULL,
            timestamp DATETIME NOT NULL,
            read BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Prepare(
		`INSERT INTO books(title,code,genre,author,publisher,status,quantity,available_quantity)
         VALUES(?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addUserStmt, err = d.db.Prepare(
		`INSERT INTO users(id,name,email,password_hash,role,active,created_at,updated_at)
         VALUES(?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addNotificationStmt, err = d.db.Prepare(
		`INSERT INTO notifications(id,user_id,message,timestamp,read) VALUES(?,?,?,?,0)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook inserts a book and returns its ID. The caller decides quantity;
// status is derived from the initial stock.
func (d *Database) AddBook(b *Book) (int64, error) {
	status := BookAvailable
	if b.AvailableQuantity == 0 {
		status = BookBorrowed
	}
	res, err := d.addBookStmt.Exec(b.Title, b.Code, b.Genre, b.Author, b.Publisher,
		status, b.Quantity, b.AvailableQuantity)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const bookColumns = `id,title,code,genre,author,publisher,status,quantity,available_quantity,view_count,borrow_count`

func scanBook(row interface{ Scan(...any) error }) (*Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.Title, &b.Code, &b.Genre, &b.Author, &b.Publisher,
		&b.Status, &b.Quantity, &b.AvailableQuantity, &b.ViewCount, &b.BorrowCount)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *Database) GetBook(id int64) (*Book, error) {
	b, err := scanBook(d.db.QueryRow(`SELECT `+bookColumns+` FROM books WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "book %d", id)
	}
	return b, err
}

func (d *Database) GetBookByCode(code string) (*Book, error) {
	b, err := scanBook(d.db.QueryRow(`SELECT `+bookColumns+` FROM books WHERE code=?`, code))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "book code %q", code)
	}
	return b, err
}

func (d *Database) queryBooks(query string, args ...any) ([]*Book, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (d *Database) GetAllBooks() ([]*Book, error) {
	return d.queryBooks(`SELECT ` + bookColumns + ` FROM books ORDER BY id`)
}

// GetAvailableBooks returns books with at least one copy on the shelf.
func (d *Database) GetAvailableBooks() ([]*Book, error) {
	return d.queryBooks(`SELECT `+bookColumns+` FROM books WHERE status=? ORDER BY id`, BookAvailable)
}

// UpdateBook updates descriptive fields only. Stock is owned by the
// circulation transactions.
func (d *Database) UpdateBook(b *Book) error {
	res, err := d.db.Exec(
		`UPDATE books SET title=?, code=?, genre=?, author=?, publisher=? WHERE id=?`,
		b.Title, b.Code, b.Genre, b.Author, b.Publisher, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "book %d", b.ID)
	}
	return nil
}

// DeleteBook removes a book and its borrowing history. Books with an
// unfinished borrowing cannot be deleted; the ledger row must be returned,
// cancelled or deleted first so stock stays reconciled.
func (d *Database) DeleteBook(id int64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var open int
	err = tx.QueryRow(`SELECT COUNT(*) FROM borrowings WHERE book_id=? AND status IN (?,?)`,
		id, BorrowingActive, BorrowingOverdue).Scan(&open)
	if err != nil {
		return err
	}
	if open > 0 {
		return errors.Wrapf(ErrConflict, "book %d has %d unfinished borrowings", id, open)
	}

	res, err := tx.Exec(`DELETE FROM books WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "book %d", id)
	}
	return tx.Commit()
}

// IncrementViewCount bumps the analytics counter for a detail view.
func (d *Database) IncrementViewCount(id int64) error {
	_, err := d.db.Exec(`UPDATE books SET view_count = view_count + 1 WHERE id=?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (d *Database) AddUser(u *User) error {
	_, err := d.addUserStmt.Exec(u.ID, u.Name, u.Email, u.PasswordHash, u.Role,
		u.Active, u.CreatedAt, u.UpdatedAt)
	return err
}

const userColumns = `id,name,email,password_hash,role,active,reset_token,reset_token_expiry,created_at,updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u      User
		token  sql.NullString
		expiry sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Active,
		&token, &expiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.ResetToken = token.String
	if expiry.Valid {
		t := expiry.Time
		u.ResetTokenExpiry = &t
	}
	return &u, nil
}

func (d *Database) GetUser(id string) (*User, error) {
	u, err := scanUser(d.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "user %s", id)
	}
	return u, err
}

func (d *Database) GetUserByEmail(email string) (*User, error) {
	u, err := scanUser(d.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email=?`, email))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "no user with email %s", email)
	}
	return u, err
}

// GetUserByResetToken resolves a non-expired password-reset token. The
// expiry check lives in the query so an expired token never matches.
func (d *Database) GetUserByResetToken(token string, now time.Time) (*User, error) {
	u, err := scanUser(d.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE reset_token=? AND reset_token_expiry > ?`,
		token, now))
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, "reset token")
	}
	return u, err
}

func (d *Database) UpdateUser(u *User) error {
	var (
		token  any
		expiry any
	)
	if u.ResetToken != "" {
		token = u.ResetToken
	}
	if u.ResetTokenExpiry != nil {
		expiry = *u.ResetTokenExpiry
	}
	res, err := d.db.Exec(
		`UPDATE users SET name=?, email=?, password_hash=?, role=?, active=?,
            reset_token=?, reset_token_expiry=?, updated_at=? WHERE id=?`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.Active, token, expiry, u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "user %s", u.ID)
	}
	return nil
}

func (d *Database) DeleteUser(id string) error {
	res, err := d.db.Exec(`DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "user %s", id)
	}
	return nil
}

func (d *Database) UserExists(id string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE id=?)`, id).Scan(&exists)
	return exists, err
}

func (d *Database) EmailExists(email string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE email=?)`, email).Scan(&exists)
	return exists, err
}

func (d *Database) GetAllUsers() ([]*User, error) {
	rows, err := d.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---------------------------------------------------------------------------
// Borrowings (reads)
// ---------------------------------------------------------------------------

const borrowingColumns = `b.id, b.user_id, b.book_id, b.borrow_date, b.due_date, b.return_date, b.status,
       u.name, u.email, k.title, k.code`

const borrowingJoin = ` FROM borrowings b
       JOIN users u ON u.id = b.user_id
       JOIN books k ON k.id = b.book_id`

func scanBorrowing(row interface{ Scan(...any) error }) (*Borrowing, error) {
	var (
		b        Borrowing
		returned sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.BookID, &b.BorrowDate, &b.DueDate, &returned,
		&b.Status, &b.UserName, &b.UserEmail, &b.BookTitle, &b.BookCode)
	if err != nil {
		return nil, err
	}
	if returned.Valid {
		t := returned.Time
		b.ReturnDate = &t
	}
	return &b, nil
}

func (d *Database) GetBorrowing(id int64) (*Borrowing, error) {
	b, err := scanBorrowing(d.db.QueryRow(
		`SELECT `+borrowingColumns+borrowingJoin+` WHERE b.id=?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "borrowing %d", id)
	}
	return b, err
}

func (d *Database) queryBorrowings(where string, args ...any) ([]*Borrowing, error) {
	rows, err := d.db.Query(
		`SELECT `+borrowingColumns+borrowingJoin+` `+where+` ORDER BY b.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Borrowing
	for rows.Next() {
		b, err := scanBorrowing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *Database) GetAllBorrowings() ([]*Borrowing, error) {
	return d.queryBorrowings(``)
}

func (d *Database) GetBorrowingsByUser(userID string) ([]*Borrowing, error) {
	return d.queryBorrowings(`WHERE b.user_id=?`, userID)
}

func (d *Database) GetBorrowingsByBook(bookID int64) ([]*Borrowing, error) {
	return d.queryBorrowings(`WHERE b.book_id=?`, bookID)
}

func (d *Database) GetActiveBorrowings() ([]*Borrowing, error) {
	return d.queryBorrowings(`WHERE b.status=?`, BorrowingActive)
}

// GetOverdueBorrowings lists unfinished borrowings whose due date has passed.
func (d *Database) GetOverdueBorrowings(now time.Time) ([]*Borrowing, error) {
	return d.queryBorrowings(`WHERE b.status IN (?,?) AND b.due_date < ?`,
		BorrowingActive, BorrowingOverdue, now)
}

// ---------------------------------------------------------------------------
// Circulation transactions
// ---------------------------------------------------------------------------

// createBorrowing inserts a borrowing and decrements stock in one
// transaction. The decrement is conditional on available stock, so two
// concurrent borrows of the last copy cannot both succeed.
func (d *Database) createBorrowing(b *Borrowing) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE books SET
            available_quantity = available_quantity - 1,
            borrow_count = borrow_count + 1,
            status = CASE WHEN available_quantity - 1 = 0 THEN ? ELSE ? END
         WHERE id=? AND available_quantity > 0`,
		BookBorrowed, BookAvailable, b.BookID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, errors.Wrapf(ErrConflict, "no copies of book %d available", b.BookID)
	}

	res, err = tx.Exec(
		`INSERT INTO borrowings(user_id,book_id,borrow_date,due_date,status) VALUES(?,?,?,?,?)`,
		b.UserID, b.BookID, b.BorrowDate, b.DueDate, BorrowingActive)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// restockSQL puts one copy back on the shelf, capped at the owned quantity.
// quantity >= 1 so the book is always Available afterwards.
const restockSQL = `UPDATE books SET
    available_quantity = MIN(available_quantity + 1, quantity),
    status = ?
 WHERE id=?`

// finishBorrowing moves a borrowing to a terminal state, restores one copy
// of stock, and re-checks inside the transaction that the record is still
// unfinished so a concurrent return cannot double-increment stock.
// decBorrowCount additionally rolls back the analytics counter (cancel).
func (d *Database) finishBorrowing(id int64, returnDate time.Time, toStatus string, decBorrowCount bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		status string
		bookID int64
	)
	err = tx.QueryRow(`SELECT status, book_id FROM borrowings WHERE id=?`, id).Scan(&status, &bookID)
	if err == sql.ErrNoRows {
		return errors.Wrapf(ErrNotFound, "borrowing %d", id)
	}
	if err != nil {
		return err
	}
	if status == BorrowingReturned || status == BorrowingCancelled {
		return errors.Wrapf(ErrConflict, "borrowing %d is already %s", id, status)
	}

	if _, err := tx.Exec(
		`UPDATE borrowings SET status=?, return_date=? WHERE id=?`,
		toStatus, returnDate, id); err != nil {
		return err
	}

	if _, err := tx.Exec(restockSQL, BookAvailable, bookID); err != nil {
		return err
	}
	if decBorrowCount {
		if _, err := tx.Exec(
			`UPDATE books SET borrow_count = MAX(borrow_count - 1, 0) WHERE id=?`, bookID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// markOverdue flips Active to Overdue. Returns the number of rows changed;
// zero means the record was not Active anymore.
func (d *Database) markOverdue(id int64) (int64, error) {
	res, err := d.db.Exec(
		`UPDATE borrowings SET status=? WHERE id=? AND status=?`,
		BorrowingOverdue, id, BorrowingActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// deleteBorrowing removes a ledger row. Unreturned stock (Active or Overdue)
// is restored first so ad-hoc deletes never leak copies; Cancelled records
// already reconciled stock when they were cancelled.
func (d *Database) deleteBorrowing(id int64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		status string
		bookID int64
	)
	err = tx.QueryRow(`SELECT status, book_id FROM borrowings WHERE id=?`, id).Scan(&status, &bookID)
	if err == sql.ErrNoRows {
		return errors.Wrapf(ErrNotFound, "borrowing %d", id)
	}
	if err != nil {
		return err
	}

	if status == BorrowingActive || status == BorrowingOverdue {
		if _, err := tx.Exec(restockSQL, BookAvailable, bookID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM borrowings WHERE id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (d *Database) AddNotification(n *Notification) error {
	_, err := d.addNotificationStmt.Exec(n.ID, n.UserID, n.Message, n.Timestamp)
	return err
}

func (d *Database) queryNotifications(query string, args ...any) ([]*Notification, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Timestamp, &n.Read); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (d *Database) GetNotificationsByUser(userID string) ([]*Notification, error) {
	return d.queryNotifications(
		`SELECT id,user_id,message,timestamp,read FROM notifications
         WHERE user_id=? ORDER BY timestamp DESC`, userID)
}

func (d *Database) GetAllNotifications() ([]*Notification, error) {
	return d.queryNotifications(
		`SELECT id,user_id,message,timestamp,read FROM notifications ORDER BY timestamp DESC`)
}

func (d *Database) UnreadNotificationCount(userID string) (int, error) {
	var count int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE user_id=? AND read=0`, userID).Scan(&count)
	return count, err
}

func (d *Database) MarkNotificationRead(id string) error {
	res, err := d.db.Exec(`UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "notification %s", id)
	}
	return nil
}

func (d *Database) MarkAllNotificationsRead(userID string) error {
	_, err := d.db.Exec(`UPDATE notifications SET read=1 WHERE user_id=?`, userID)
	return err
}
