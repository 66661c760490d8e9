package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chime/internal/alarm"
	"chime/internal/task"
	"chime/internal/tools"
)

type apiError struct {
	Code    int
	Message string
}

type handlerFunc func(c *gin.Context) (any, *apiError)

func resolve(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, e := h(c)
		if e != nil {
			c.JSON(e.Code, gin.H{"error": e.Message})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func fromErr(err error) *apiError {
	switch {
	case errors.Is(err, alarm.ErrNotFound):
		return &apiError{http.StatusNotFound, err.Error()}
	case errors.Is(err, alarm.ErrInvalid), errors.Is(err, task.ErrInvalid):
		return &apiError{http.StatusBadRequest, err.Error()}
	case errors.Is(err, alarm.ErrDuplicate):
		return &apiError{http.StatusConflict, err.Error()}
	}
	return &apiError{http.StatusInternalServerError, err.Error()}
}

// ConversationHeader carries the conversation a tool call belongs to.
const ConversationHeader = "X-Conversation-Id"

func mountTools(g *gin.RouterGroup, t *tools.Tools) {
	g.GET("/tools", resolve(func(*gin.Context) (any, *apiError) { return tools.Definitions(), nil }))
	g.POST("/tools/:name", resolve(func(c *gin.Context) (any, *apiError) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
		if err != nil {
			return nil, &apiError{http.StatusBadRequest, err.Error()}
		}
		ctx := tools.WithConversation(c.Request.Context(), c.GetHeader(ConversationHeader))
		return gin.H{"text": t.Invoke(ctx, c.Param("name"), string(body))}, nil
	}))
}

type taskView struct {
	task.ScheduledTask
	State string `json:"state"`
}

func mountTasks(g *gin.RouterGroup, ts Tasks) {
	g.GET("/tasks", resolve(func(c *gin.Context) (any, *apiError) {
		kind := task.Kind(c.Query("kind"))
		if kind != "" && !kind.Valid() {
			return nil, &apiError{http.StatusBadRequest, "unknown kind " + string(kind)}
		}
		out := []taskView{}
		for _, t := range ts.Running() {
			if kind == "" || t.Kind == kind {
				out = append(out, taskView{t, "running"})
			}
		}
		for _, t := range ts.Pending(kind) {
			out = append(out, taskView{t, "pending"})
		}
		return out, nil
	}))
	g.GET("/scheduler", resolve(func(*gin.Context) (any, *apiError) { return ts.Snapshot(), nil }))
}

type soundRequest struct {
	Name     string `json:"name" binding:"required"`
	MediaURI string `json:"media_uri" binding:"required"`
	Uploaded bool   `json:"uploaded"`
	Default  bool   `json:"default"`
}

type alarmRequest struct {
	ID               string   `json:"id"`
	Name             string   `json:"name" binding:"required"`
	TargetEntity     string   `json:"target_entity" binding:"required"`
	CronSchedule     string   `json:"cron_schedule"`
	FireAt           *string  `json:"fire_at"`
	SoundID          string   `json:"sound_id"`
	PlaybackInterval string   `json:"playback_interval"`
	AutoDismissAfter string   `json:"auto_dismiss_after"`
	VolumeStart      *float64 `json:"volume_start" binding:"omitempty,min=0,max=1"`
	VolumeEnd        *float64 `json:"volume_end" binding:"omitempty,min=0,max=1"`
	VolumeRamp       string   `json:"volume_ramp"`
	Disabled         bool     `json:"disabled"`
}

func (r alarmRequest) create() (alarm.CreateRequest, error) {
	out := alarm.CreateRequest{
		ID:           r.ID,
		Name:         r.Name,
		TargetEntity: r.TargetEntity,
		CronSchedule: r.CronSchedule,
		SoundID:      r.SoundID,
		VolumeStart:  r.VolumeStart,
		VolumeEnd:    r.VolumeEnd,
		Disabled:     r.Disabled,
	}
	if r.FireAt != nil {
		at, err := time.Parse(time.RFC3339, *r.FireAt)
		if err != nil {
			return out, errors.New("fire_at must be RFC 3339")
		}
		out.FireAt = &at
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{r.PlaybackInterval, &out.PlaybackInterval},
		{r.AutoDismissAfter, &out.AutoDismissAfter},
		{r.VolumeRamp, &out.VolumeRamp},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return out, err
		}
		*f.dst = d
	}
	return out, nil
}

func mountAlarms(g *gin.RouterGroup, a *alarm.Service) {
	lookup := func(c *gin.Context) (alarm.Clock, *apiError) {
		cl, ok := a.Find(c.Param("id"))
		if !ok {
			return cl, &apiError{http.StatusNotFound, "alarm not found"}
		}
		return cl, nil
	}

	g.GET("/alarms", resolve(func(*gin.Context) (any, *apiError) { return a.List(), nil }))
	g.GET("/alarms/:id", resolve(func(c *gin.Context) (any, *apiError) { return lookup(c) }))
	g.POST("/alarms", resolve(func(c *gin.Context) (any, *apiError) {
		var req alarmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, &apiError{http.StatusBadRequest, err.Error()}
		}
		cr, err := req.create()
		if err != nil {
			return nil, &apiError{http.StatusBadRequest, err.Error()}
		}
		cl, updated, err := a.Create(c.Request.Context(), cr)
		if err != nil {
			return nil, fromErr(err)
		}
		return gin.H{"alarm": cl, "updated": updated}, nil
	}))

	action := func(do func(c *gin.Context, id string) (alarm.Clock, error)) gin.HandlerFunc {
		return resolve(func(c *gin.Context) (any, *apiError) {
			cl, e := lookup(c)
			if e != nil {
				return nil, e
			}
			out, err := do(c, cl.ID)
			if err != nil {
				return nil, fromErr(err)
			}
			return out, nil
		})
	}
	g.POST("/alarms/:id/dismiss", action(func(c *gin.Context, id string) (alarm.Clock, error) {
		return a.Dismiss(c.Request.Context(), id)
	}))
	g.POST("/alarms/:id/snooze", action(func(c *gin.Context, id string) (alarm.Clock, error) {
		minutes, _ := strconv.Atoi(c.Query("minutes"))
		return a.Snooze(c.Request.Context(), id, minutes)
	}))
	g.POST("/alarms/:id/enable", action(func(c *gin.Context, id string) (alarm.Clock, error) {
		return a.Enable(c.Request.Context(), id)
	}))
	g.POST("/alarms/:id/disable", action(func(c *gin.Context, id string) (alarm.Clock, error) {
		return a.Disable(c.Request.Context(), id)
	}))
	g.DELETE("/alarms/:id", resolve(func(c *gin.Context) (any, *apiError) {
		cl, e := lookup(c)
		if e != nil {
			return nil, e
		}
		if err := a.Delete(c.Request.Context(), cl.ID); err != nil {
			return nil, fromErr(err)
		}
		return gin.H{"deleted": cl.ID}, nil
	}))

	g.GET("/sounds", resolve(func(*gin.Context) (any, *apiError) { return a.ListSounds(), nil }))
	g.POST("/sounds", resolve(func(c *gin.Context) (any, *apiError) {
		var req soundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, &apiError{http.StatusBadRequest, err.Error()}
		}
		snd, err := a.AddSound(c.Request.Context(), req.Name, req.MediaURI, req.Uploaded, req.Default)
		if err != nil {
			return nil, fromErr(err)
		}
		return snd, nil
	}))
	g.PUT("/sounds/:id/default", resolve(func(c *gin.Context) (any, *apiError) {
		snd, err := a.SetDefaultSound(c.Request.Context(), c.Param("id"))
		if err != nil {
			return nil, fromErr(err)
		}
		return snd, nil
	}))
	g.DELETE("/sounds/:id", resolve(func(c *gin.Context) (any, *apiError) {
		res, err := a.DeleteSound(c.Request.Context(), c.Param("id"))
		if err != nil {
			return nil, fromErr(err)
		}
		return res, nil
	}))
}
