package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"hujra/internal/backup"
	"hujra/internal/core"
	"hujra/pkg/domain"

	"github.com/labstack/echo/v4"
)

type handlers struct {
	svc *core.Service
}

func bindJSON(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body").SetInternal(err)
	}
	return nil
}

func confirmed(c echo.Context) bool {
	ok, _ := strconv.ParseBool(c.QueryParam("confirm"))
	return ok
}

// GET /api/students?q=term
func (h *handlers) listStudents(c echo.Context) error {
	if q := c.QueryParam("q"); q != "" {
		return c.JSON(http.StatusOK, h.svc.Search(q))
	}
	return c.JSON(http.StatusOK, h.svc.Students())
}

func (h *handlers) getStudent(c echo.Context) error {
	st, err := h.svc.Student(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *handlers) createStudent(c echo.Context) error {
	var st domain.Student
	if err := bindJSON(c, &st); err != nil {
		return err
	}
	saved, err := h.svc.SaveStudent(c.Request().Context(), st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *handlers) updateStudent(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.svc.Student(id); err != nil {
		return err
	}
	var st domain.Student
	if err := bindJSON(c, &st); err != nil {
		return err
	}
	st.ID = id
	saved, err := h.svc.SaveStudent(c.Request().Context(), st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *handlers) deleteStudent(c echo.Context) error {
	n, err := h.svc.DeleteStudent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"deletedVisits": n})
}

func (h *handlers) studentVisits(c echo.Context) error {
	visits, err := h.svc.VisitsFor(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *handlers) analyzeStudent(c echo.Context) error {
	text, err := h.svc.Analyze(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"analysis": text})
}

// GET /api/visits?studentId=id
func (h *handlers) listVisits(c echo.Context) error {
	if id := c.QueryParam("studentId"); id != "" {
		visits, err := h.svc.VisitsFor(id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, visits)
	}
	return c.JSON(http.StatusOK, h.svc.Visits())
}

func (h *handlers) createVisit(c echo.Context) error {
	var v domain.VisitEvent
	if err := bindJSON(c, &v); err != nil {
		return err
	}
	saved, err := h.svc.SaveVisit(c.Request().Context(), v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *handlers) updateVisit(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.svc.Visit(id); err != nil {
		return err
	}
	var v domain.VisitEvent
	if err := bindJSON(c, &v); err != nil {
		return err
	}
	v.ID = id
	saved, err := h.svc.SaveVisit(c.Request().Context(), v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *handlers) deleteVisit(c echo.Context) error {
	if err := h.svc.DeleteVisit(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) recordVisit(c echo.Context) error {
	var in core.RecordVisitInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	res, err := h.svc.RecordVisit(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *handlers) exportBackup(c echo.Context) error {
	doc, err := h.svc.ExportBackup(c.Request().Context())
	if err != nil {
		return err
	}
	data, err := backup.EncodeBytes(doc)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", backup.FileName(time.Now())))
	return c.JSONBlob(http.StatusOK, data)
}

// POST /api/backup/import?confirm=true
func (h *handlers) importBackup(c echo.Context) error {
	if !confirmed(c) {
		return errConfirmRequired
	}
	doc, err := backup.Decode(c.Request().Body)
	if err != nil {
		return err
	}
	if err := h.svc.ImportBackup(c.Request().Context(), doc); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"students": len(doc.Students), "visits": len(doc.Visits)})
}

func (h *handlers) archiveBackup(c echo.Context) error {
	info, err := h.svc.ArchiveBackup(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}

func (h *handlers) listArchives(c echo.Context) error {
	infos, err := h.svc.ListArchives(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, infos)
}

type restoreRequest struct {
	Key string `json:"key"`
}

// POST /api/backup/archives/restore?confirm=true {"key": "..."}
func (h *handlers) restoreArchive(c echo.Context) error {
	if !confirmed(c) {
		return errConfirmRequired
	}
	var req restoreRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	if err := h.svc.RestoreArchive(c.Request().Context(), req.Key); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) report(c echo.Context) error {
	rep, err := h.svc.Report(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}
