// Package httpapi exposes the session controller over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/infrastructure/storage"
	"SeaIndexBridge/internal/ports"
)

// maxUploadBytes caps a recording accepted through the API.
const maxUploadBytes = 256 << 20

// Sessions is the controller surface the API drives.
type Sessions interface {
	Snapshot() domain.Snapshot
	LoggedIn() bool
	Login(ctx context.Context, username, password string) error
	Logout()
	Reset(ctx context.Context) domain.Snapshot
	SelectFile(ctx context.Context, name string, data []byte) (domain.Snapshot, error)
	StartAsync(ctx context.Context) (domain.Snapshot, error)
	LastRecord() (domain.ClinicalRecord, bool)
}

// Handler wires HTTP routes to the session controller and run history.
type Handler struct {
	sessions Sessions
	history  ports.HistoryRepository
	logger   *slog.Logger
}

// NewHandler constructs a Handler. history may be nil when no database is
// configured.
func NewHandler(sessions Sessions, history ports.HistoryRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, history: history, logger: logger}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)
	api.POST("/session/file", h.selectFile)
	api.POST("/session/start", h.start)
	api.GET("/session", h.snapshot)
	api.DELETE("/session", h.reset)
	api.GET("/record", h.record)
	api.GET("/history", h.listHistory)
	api.GET("/history/:id", h.getHistory)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "kind": "validation"})
		return
	}
	if err := h.sessions.Login(c.Request.Context(), req.Username, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loggedIn": true})
}

func (h *Handler) logout(c *gin.Context) {
	h.sessions.Logout()
	c.JSON(http.StatusOK, gin.H{"loggedIn": false})
}

func (h *Handler) selectFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required", "kind": "validation"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "recording too large", "kind": "validation"})
		return
	}

	f, err := header.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		h.fail(c, err)
		return
	}

	snap, err := h.sessions.SelectFile(c.Request.Context(), header.Filename, data)
	if err != nil && snap.Phase != domain.PhaseMetadataFailed {
		h.fail(c, err)
		return
	}
	// A metadata failure keeps the file; the snapshot carries the reason.
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

func (h *Handler) start(c *gin.Context) {
	snap, err := h.sessions.StartAsync(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": snap})
}

func (h *Handler) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":  h.sessions.Snapshot(),
		"loggedIn": h.sessions.LoggedIn(),
	})
}

func (h *Handler) reset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": h.sessions.Reset(c.Request.Context())})
}

func (h *Handler) record(c *gin.Context) {
	rec, ok := h.sessions.LastRecord()
	if !ok {
		h.fail(c, domain.ErrNoRecord)
		return
	}
	c.Header("Content-Type", "application/fhir+json")
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) listHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []historyItem{}})
		return
	}

	var limit uint64
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "kind": "validation"})
			return
		}
		limit = v
	}

	rows, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	items := make([]historyItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, toHistoryItem(r))
	}
	c.JSON(http.StatusOK, gin.H{"runs": items})
}

func (h *Handler) getHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not configured", "kind": "not_found"})
		return
	}
	row, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toHistoryItem(row))
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	kind := domain.KindOf(err)
	if errors.Is(err, storage.ErrNotFound) {
		kind = "not_found"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("api.request.failed", "path", c.FullPath(), "kind", kind, "error", err)
	} else {
		h.logger.Debug("api.request.rejected", "path", c.FullPath(), "kind", kind, "error", err)
	}
	c.JSON(status, gin.H{"error": domain.UserMessage(err), "kind": kind})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, domain.ErrNoRecord):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInProgress), errors.Is(err, domain.ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBadCredentials),
		errors.Is(err, domain.ErrTokenRejected),
		errors.Is(err, domain.ErrLoginRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPollTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrService), errors.Is(err, domain.ErrRecordStore):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
