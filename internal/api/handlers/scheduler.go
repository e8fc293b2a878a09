// Package handlers holds the scheduler endpoints of the API.
package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/shelfgrab/shelfgrab/internal/scheduler"
)

// SchedulerHandler handles scheduler-related API requests.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(sched *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
	}
}

// SortedStatus returns every pipeline's status ordered by id.
func SortedStatus(sched *scheduler.Scheduler) []scheduler.RunStatus {
	status := sched.Status()
	out := make([]scheduler.RunStatus, 0, len(status))
	for _, st := range status {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b scheduler.RunStatus) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// ListPipelines returns the status of all pipelines.
// GET /api/v1/pipelines
func (h *SchedulerHandler) ListPipelines(c echo.Context) error {
	return c.JSON(http.StatusOK, SortedStatus(h.scheduler))
}

// RunPipeline wakes a pipeline. Requests made while a run is pending
// coalesce into that run.
// POST /api/v1/pipelines/:id/run
func (h *SchedulerHandler) RunPipeline(c echo.Context) error {
	id := c.Param("id")
	if err := h.scheduler.Trigger(id); err != nil {
		if errors.Is(err, scheduler.ErrPipelineNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": err.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message":    "Pipeline triggered",
		"pipelineId": id,
	})
}

// ListTasks returns all scheduled tasks.
// GET /api/v1/tasks
func (h *SchedulerHandler) ListTasks(c echo.Context) error {
	tasks := h.scheduler.ListTasks()
	return c.JSON(http.StatusOK, tasks)
}

// GetTask returns information about a specific task.
// GET /api/v1/tasks/:id
func (h *SchedulerHandler) GetTask(c echo.Context) error {
	taskID := c.Param("id")
	task, err := h.scheduler.GetTask(taskID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, task)
}

// RunTask manually triggers a task to run.
// POST /api/v1/tasks/:id/run
func (h *SchedulerHandler) RunTask(c echo.Context) error {
	taskID := c.Param("id")
	if err := h.scheduler.RunNow(taskID); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Task started",
		"taskId":  taskID,
	})
}
