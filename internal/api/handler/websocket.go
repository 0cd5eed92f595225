package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/internal/api/middleware"
	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/pubsub"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/ws"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
)

type WebSocketHandler struct {
	hub             *ws.Hub
	source          ws.Source
	auth            middleware.Authenticator
	taskService     *service.TaskService
	documentService *service.DocumentService
	upgrader        websocket.Upgrader
	log             *zap.Logger
}

func NewWebSocketHandler(
	hub *ws.Hub,
	source ws.Source,
	auth middleware.Authenticator,
	taskService *service.TaskService,
	documentService *service.DocumentService,
	allowedOrigins []string,
	log *zap.Logger,
) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	anyOrigin := slices.Contains(allowedOrigins, "*")
	return &WebSocketHandler{
		hub:             hub,
		source:          source,
		auth:            auth,
		taskService:     taskService,
		documentService: documentService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || anyOrigin || slices.Contains(allowedOrigins, origin)
			},
		},
		log: log,
	}
}

// Handle pushes the terminal notification of one task and closes.
// GET /api/v1/ws/tasks/:task_id?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		response.AuthError(c, "")
		return
	}

	user, err := h.auth.Authenticate(token)
	if err != nil {
		handleError(c, err)
		return
	}
	if !user.IsActive {
		response.PermissionError(c, "inactive user")
		return
	}

	taskID := c.Param("task_id")
	st, err := h.taskService.Authorize(c.Request.Context(), user.ID, taskID)
	if err != nil {
		handleError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		h.log.Warn("websocket upgrade failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	client := &ws.Client{
		TaskID: taskID,
		UserID: user.ID,
		Conn:   conn,
	}

	if st.IsTerminal() {
		if err := h.hub.Deliver(client, h.finishedEvent(user.ID, st)); err != nil {
			h.log.Warn("failed to deliver finished task", zap.String("task_id", taskID), zap.Error(err))
		}
		return
	}

	if err := h.hub.Serve(c.Request.Context(), client, h.source); err != nil {
		h.log.Debug("push connection ended", zap.String("task_id", taskID), zap.Error(err))
	}
}

// finishedEvent rebuilds the notification of a task that ended before the
// client connected.
func (h *WebSocketHandler) finishedEvent(userID string, st *queue.JobStatus) *pubsub.Event {
	ev := &pubsub.Event{
		TaskID:     st.JobID,
		DocumentID: st.DocumentID,
		Status:     model.DocumentStatusFailed,
		Error:      st.Error,
	}
	if st.Status == queue.StatusSuccess {
		ev.Status = model.DocumentStatusCompleted
	}

	doc, err := h.documentService.Get(userID, st.DocumentID)
	if err != nil {
		return ev
	}
	if model.IsTerminalDocumentStatus(doc.Status) {
		ev.Status = doc.Status
		ev.Analysis = doc.Analysis
		if doc.Error != "" {
			ev.Error = doc.Error
		}
	}
	return ev
}
