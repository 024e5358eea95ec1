// Package api exposes a running hunt session over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/internal/session"
	"github.com/signalsfoundry/arhunt/model"
)

// Hunt is the session surface the handlers drive.
type Hunt interface {
	Snapshot() session.Snapshot
	Objects() []model.PlacedObject
	SubmitPose(ctx context.Context, pose model.ViewerPose) error
	SubmitDiscover(ctx context.Context, id string) error
	SubmitCollectedElsewhere(ctx context.Context, id string) error
	SubmitUncollected(ctx context.Context, id string) error
	SubmitTap(ctx context.Context, kind model.ObjectKind, name string, pos model.LocalPosition) (model.PlacedObject, error)
}

var knownKinds = map[model.ObjectKind]bool{
	model.KindChest:   true,
	model.KindChalice: true,
	model.KindSphere:  true,
	model.KindCube:    true,
	model.KindRelic:   true,
}

// Handler serves the hunt endpoints.
type Handler struct {
	hunt Hunt
	log  logging.Logger
	now  func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(hunt Hunt, log logging.Logger) *Handler {
	return &Handler{
		hunt: hunt,
		log:  logging.OrNoop(log).With(logging.String("component", "api")),
		now:  time.Now,
	}
}

// Health GET /healthz
func (h *Handler) Health(c *gin.Context) {
	snap := h.hunt.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"frame":  snap.Frame.State.String(),
	})
}

// Frame GET /frame
func (h *Handler) Frame(c *gin.Context) {
	snap := h.hunt.Snapshot()
	c.JSON(http.StatusOK, toFrameResponse(snap.Frame, snap.Candidates))
}

// Objects GET /objects
func (h *Handler) Objects(c *gin.Context) {
	objs := h.hunt.Objects()
	out := make([]objectResponse, 0, len(objs))
	for _, o := range objs {
		out = append(out, toObjectResponse(o))
	}
	c.JSON(http.StatusOK, gin.H{"objects": out})
}

// Pose POST /pose
func (h *Handler) Pose(c *gin.Context) {
	var req poseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid pose: "+err.Error())
		return
	}
	pose := req.model(h.now())
	if pose.HasFix && !pose.Fix.Valid() {
		badRequest(c, "fix coordinates out of range")
		return
	}
	if err := h.hunt.SubmitPose(c.Request.Context(), pose); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Discover POST /objects/:id/discover
func (h *Handler) Discover(c *gin.Context) {
	id := c.Param("id")
	if err := h.hunt.SubmitDiscover(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "discovered": true})
}

// CollectedElsewhere POST /candidates/:id/collected
func (h *Handler) CollectedElsewhere(c *gin.Context) {
	id := c.Param("id")
	if err := h.hunt.SubmitCollectedElsewhere(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "collected": true})
}

// Uncollected POST /candidates/:id/uncollected
func (h *Handler) Uncollected(c *gin.Context) {
	id := c.Param("id")
	if err := h.hunt.SubmitUncollected(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "collected": false})
}

// Tap POST /tap
func (h *Handler) Tap(c *gin.Context) {
	var req tapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid tap: "+err.Error())
		return
	}
	kind := model.ObjectKind(req.Kind)
	if !knownKinds[kind] {
		badRequest(c, "unknown kind "+req.Kind)
		return
	}
	obj, err := h.hunt.SubmitTap(c.Request.Context(), kind, req.Name, req.Position.model())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toObjectResponse(obj))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

// fail maps session and placement errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, session.ErrUnknownObject):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrNoPose):
		status, code = http.StatusConflict, "no_pose"
	case errors.Is(err, session.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, model.ErrTooCloseToViewer),
		errors.Is(err, model.ErrCollisionDetected),
		errors.Is(err, model.ErrSpacingViolation),
		errors.Is(err, model.ErrLimitReached),
		errors.Is(err, model.ErrStaleOriginMismatch):
		status, code = http.StatusConflict, "placement_rejected"
	}
	if status == http.StatusInternalServerError {
		log := logging.LoggerFromContext(c.Request.Context())
		if log == nil {
			log = h.log
		}
		log.Error(c.Request.Context(), "request failed",
			logging.String("path", c.FullPath()), logging.Err(err))
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
