package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"komfy-library/library"
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// Books

func (s *Server) listBooks(c *gin.Context) {
	books, err := s.mgr.GetAllBooks()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) listAvailableBooks(c *gin.Context) {
	books, err := s.mgr.GetAvailableBooks()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) getBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	book, err := s.mgr.GetBookDetails(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type bookRequest struct {
	Title     string `json:"title" binding:"required"`
	Code      string `json:"code" binding:"required"`
	Genre     string `json:"genre"`
	Author    string `json:"author"`
	Publisher string `json:"publisher"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) addBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and code are required"})
		return
	}
	book := &library.Book{
		Title:     req.Title,
		Code:      req.Code,
		Genre:     req.Genre,
		Author:    req.Author,
		Publisher: req.Publisher,
		Quantity:  req.Quantity,
	}
	id, err := s.mgr.AddBook(book)
	if err != nil {
		s.respondError(c, err)
		return
	}
	book.ID = id
	c.JSON(http.StatusCreated, book)
}

func (s *Server) updateBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and code are required"})
		return
	}
	book := &library.Book{
		ID:        id,
		Title:     req.Title,
		Code:      req.Code,
		Genre:     req.Genre,
		Author:    req.Author,
		Publisher: req.Publisher,
	}
	if err := s.mgr.UpdateBook(book); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "book updated"})
}

func (s *Server) deleteBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.mgr.DeleteBook(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "book deleted"})
}

// Borrowings

func (s *Server) listBorrowings(c *gin.Context) {
	list, err := s.mgr.GetAllBorrowings()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) listActiveBorrowings(c *gin.Context) {
	list, err := s.mgr.GetActiveBorrowings()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) listOverdueBorrowings(c *gin.Context) {
	list, err := s.mgr.GetOverdueBorrowings()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getBorrowing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := s.mgr.GetBorrowing(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) myBorrowings(c *gin.Context) {
	list, err := s.mgr.GetBorrowingsByUser(callerID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) bookBorrowings(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := s.mgr.GetBorrowingsByBook(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) userBorrowings(c *gin.Context) {
	list, err := s.mgr.GetBorrowingsByUser(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type borrowRequest struct {
	BookID int64 `json:"book_id" binding:"required"`
}

func (s *Server) borrowBook(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "book_id is required"})
		return
	}
	b, err := s.mgr.Borrow(callerID(c), req.BookID, time.Now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) returnBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := s.mgr.GetBorrowing(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if b.UserID != callerID(c) && !callerIsAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you can only return your own borrowings"})
		return
	}
	if err := s.mgr.ReturnBook(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "book returned"})
}

func (s *Server) cancelBorrowing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.mgr.CancelBorrowing(id, callerID(c), callerIsAdmin(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "borrowing cancelled"})
}

func (s *Server) markOverdue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.mgr.MarkAsOverdue(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "borrowing marked overdue"})
}

func (s *Server) deleteBorrowing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.mgr.DeleteBorrowing(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "borrowing deleted"})
}

// Notifications

func (s *Server) listNotifications(c *gin.Context) {
	list, err := s.mgr.GetNotificationsByUser(callerID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) listAllNotifications(c *gin.Context) {
	list, err := s.mgr.GetAllNotifications()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) unreadCount(c *gin.Context) {
	n, err := s.mgr.UnreadNotificationCount(callerID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.mgr.MarkNotificationRead(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification marked read"})
}

func (s *Server) markAllNotificationsRead(c *gin.Context) {
	if err := s.mgr.MarkAllNotificationsRead(callerID(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all notifications marked read"})
}

type notificationRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (s *Server) sendNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and message are required"})
		return
	}
	if err := s.mgr.SendNotification(req.UserID, req.Message); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "notification sent"})
}

// Users

type registerRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, name, email and password are required"})
		return
	}
	user, err := s.mgr.RegisterUser(req.UserID, req.Name, req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type addUserRequest struct {
	registerRequest
	Role string `json:"role" binding:"required"`
}

func (s *Server) addUser(c *gin.Context) {
	var req addUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, name, email, password and role are required"})
		return
	}
	user, err := s.mgr.AddUser(req.UserID, req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.mgr.GetAllUsers()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) setUserActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}
	if err := s.mgr.SetUserActive(c.Param("id"), *req.Active); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) setUserRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}
	var err error
	switch req.Role {
	case library.RoleAdmin:
		err = s.mgr.GrantAdmin(c.Param("id"))
	case library.RoleMember:
		err = s.mgr.RevokeAdmin(c.Param("id"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be Admin or Member"})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user role updated"})
}

func (s *Server) deleteUser(c *gin.Context) {
	if err := s.mgr.DeleteUser(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

type profileRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

func (s *Server) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and email are required"})
		return
	}
	if err := s.mgr.UpdateUserProfile(callerID(c), req.Name, req.Email); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_password and new_password are required"})
		return
	}
	if err := s.mgr.ChangePassword(callerID(c), req.CurrentPassword, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// Password reset

type forgotRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req forgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	base := s.baseURL
	if base == "" {
		base = "http://" + c.Request.Host
	}
	if err := s.mgr.RequestPasswordReset(req.Email, base); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset email sent"})
}

func (s *Server) validateResetToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": s.mgr.ValidateResetToken(token)})
}

type resetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

func (s *Server) resetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and new_password are required"})
		return
	}
	if err := s.mgr.ResetPassword(req.Token, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}
