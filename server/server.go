package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"komfy-library/library"
)

// Server wires the circulation manager into an HTTP API.
type Server struct {
	mgr       *library.Manager
	log       *logrus.Logger
	jwtSecret []byte
	baseURL   string
}

func New(mgr *library.Manager, log *logrus.Logger, jwtSecret []byte, baseURL string) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{mgr: mgr, log: log, jwtSecret: jwtSecret, baseURL: baseURL}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/login", s.login)
	r.POST("/api/register", s.register)
	r.POST("/api/password/forgot", s.forgotPassword)
	r.GET("/api/password/validate", s.validateResetToken)
	r.POST("/api/password/reset", s.resetPassword)

	api := r.Group("/api", s.requireAuth())
	{
		api.GET("/books", s.listBooks)
		api.GET("/books/available", s.listAvailableBooks)
		api.GET("/books/:id", s.getBook)
		api.GET("/borrowings/mine", s.myBorrowings)
		api.POST("/borrowings", s.borrowBook)
		api.POST("/borrowings/:id/return", s.returnBook)
		api.POST("/borrowings/:id/cancel", s.cancelBorrowing)
		api.GET("/notifications", s.listNotifications)
		api.GET("/notifications/unread-count", s.unreadCount)
		api.POST("/notifications/:id/read", s.markNotificationRead)
		api.POST("/notifications/read-all", s.markAllNotificationsRead)
		api.PUT("/profile", s.updateProfile)
		api.POST("/profile/password", s.changePassword)
	}

	admin := r.Group("/api/admin", s.requireAuth(), s.requireAdmin())
	{
		admin.POST("/books", s.addBook)
		admin.PUT("/books/:id", s.updateBook)
		admin.DELETE("/books/:id", s.deleteBook)
		admin.GET("/books/:id/borrowings", s.bookBorrowings)
		admin.GET("/borrowings", s.listBorrowings)
		admin.GET("/borrowings/active", s.listActiveBorrowings)
		admin.GET("/borrowings/overdue", s.listOverdueBorrowings)
		admin.GET("/borrowings/:id", s.getBorrowing)
		admin.POST("/borrowings/:id/overdue", s.markOverdue)
		admin.DELETE("/borrowings/:id", s.deleteBorrowing)
		admin.GET("/users", s.listUsers)
		admin.POST("/users", s.addUser)
		admin.GET("/users/:id/borrowings", s.userBorrowings)
		admin.POST("/users/:id/active", s.setUserActive)
		admin.POST("/users/:id/role", s.setUserRole)
		admin.DELETE("/users/:id", s.deleteUser)
		admin.POST("/notifications", s.sendNotification)
		admin.GET("/notifications", s.listAllNotifications)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Info("request")
	}
}

// respondError maps the library error taxonomy onto HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, library.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, library.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, library.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, library.ErrInvalidCredentials), errors.Is(err, library.ErrInvalidToken):
		status = http.StatusUnauthorized
	default:
		status = http.StatusInternalServerError
		s.log.WithError(err).Error("internal error")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
