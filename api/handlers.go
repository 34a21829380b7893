package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/identity"
)

const (
	sessionCookieName = "taskboard_session"
	// loginPath is the canonical redirect target for unauthenticated
	// viewers.
	loginPath = "/login"

	requestMaxSize = int64(1 << 16)
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, h *Host, logger *log.Logger) {
	e.POST("/api/auth/register", register(h))
	e.POST("/api/auth/login", login(h))
	e.POST("/api/auth/logout", logout(h))

	e.GET("/api/tasks", getBoard(h, logger))
	e.POST("/api/tasks", submitTask(h))
	e.POST("/api/tasks/:id/toggle", toggleTask(h))
	e.POST("/api/tasks/:id/edit", editTask(h))
	e.POST("/api/tasks/edit/cancel", cancelEdit(h))
	e.DELETE("/api/tasks/:id", deleteTask(h))

	e.GET("/healthz", healthz())
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type principalResponse struct {
	Email string `json:"email"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type redirectResponse struct {
	Location string `json:"location"`
}

// boardResponse is the presentation boundary: the task list, the draft
// buffer, and the transient status message.
type boardResponse struct {
	Owner     string        `json:"owner,omitempty"`
	Tasks     []domain.Task `json:"tasks"`
	Draft     domain.Draft  `json:"draft"`
	EditingID string        `json:"editingId,omitempty"`
	Status    string        `json:"status,omitempty"`
	Saving    bool          `json:"saving,omitempty"`
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func register(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		var creds credentialsRequest
		if err := decodeBody(c, &creds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		email, err := h.SignUp(c.Request().Context(), creds.Email, creds.Password)
		if err != nil {
			var authErr *identity.AuthError
			if errors.As(err, &authErr) {
				// The provider's message is surfaced verbatim, matching the
				// register view's behaviour.
				return c.JSON(http.StatusBadRequest, errorResponse{Message: authErr.Error()})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusBadGateway, errorResponse{Message: "Unable to register. Please try again."})
		}
		return c.JSON(http.StatusCreated, principalResponse{Email: email})
	}
}

func login(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		var creds credentialsRequest
		if err := decodeBody(c, &creds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		token, principal, err := h.StartSession(c.Request().Context(), creds.Email, creds.Password)
		if err != nil {
			var authErr *identity.AuthError
			if errors.As(err, &authErr) {
				return c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusBadGateway, errorResponse{Message: "Unable to log in. Please try again."})
		}
		setSessionCookie(c, token, h.sessions.ttl)
		return c.JSON(http.StatusOK, principalResponse{Email: principal})
	}
}

func logout(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := sessionToken(c); token != "" {
			h.EndSession(c.Request().Context(), token)
		}
		clearSessionCookie(c)
		return c.JSON(http.StatusOK, redirectResponse{Location: loginPath})
	}
}

// resolveInstance maps the session cookie to a live client instance. A
// missing or dead session answers 401 with the login location before any
// board state is touched.
func resolveInstance(c echo.Context, h *Host) (*clientInstance, error) {
	inst, err := h.Resolve(c.Request().Context(), sessionToken(c))
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, ErrNoSession) {
		c.Logger().Error(err)
	}
	clearSessionCookie(c)
	return nil, c.JSON(http.StatusUnauthorized, redirectResponse{Location: loginPath})
}

func boardSnapshot(inst *clientInstance) boardResponse {
	draft, editingID := inst.board.Draft()
	return boardResponse{
		Owner:     inst.board.Owner(),
		Tasks:     inst.board.Tasks(),
		Draft:     draft,
		EditingID: editingID,
		Status:    inst.board.Status(),
		Saving:    inst.board.Saving(),
	}
}

func getBoard(h *Host, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newBoardRequestMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		resolveStart := time.Now()
		inst, resolveErr := resolveInstance(c, h)
		metrics.ObserveResolve(time.Since(resolveStart))
		if inst == nil {
			metrics.SetErrorStage("session")
			err = resolveErr
			return err
		}

		resp := boardSnapshot(inst)
		metrics.SetTasksReturned(len(resp.Tasks))
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func submitTask(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		inst, err := resolveInstance(c, h)
		if inst == nil {
			return err
		}
		var draft domain.Draft
		if err := decodeBody(c, &draft); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		inst.board.Submit(c.Request().Context(), draft)
		return c.JSON(http.StatusOK, boardSnapshot(inst))
	}
}

func toggleTask(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		inst, err := resolveInstance(c, h)
		if inst == nil {
			return err
		}
		task, ok := inst.board.Task(c.Param("id"))
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{Message: "Could not update that task."})
		}
		inst.board.ToggleCompletion(c.Request().Context(), task)
		return c.JSON(http.StatusOK, boardSnapshot(inst))
	}
}

func editTask(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		inst, err := resolveInstance(c, h)
		if inst == nil {
			return err
		}
		task, ok := inst.board.Task(c.Param("id"))
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{Message: "Could not update that task."})
		}
		inst.board.BeginEdit(task)
		return c.JSON(http.StatusOK, boardSnapshot(inst))
	}
}

func cancelEdit(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		inst, err := resolveInstance(c, h)
		if inst == nil {
			return err
		}
		inst.board.CancelEdit()
		return c.JSON(http.StatusOK, boardSnapshot(inst))
	}
}

func deleteTask(h *Host) echo.HandlerFunc {
	return func(c echo.Context) error {
		inst, err := resolveInstance(c, h)
		if inst == nil {
			return err
		}
		inst.board.Remove(c.Request().Context(), c.Param("id"))
		return c.JSON(http.StatusOK, boardSnapshot(inst))
	}
}

func sessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
