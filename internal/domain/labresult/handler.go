package labresult

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pethealth/pethealth/internal/platform/apperr"
	"github.com/pethealth/pethealth/internal/platform/auth"
	"github.com/pethealth/pethealth/pkg/pagination"
	"github.com/pethealth/pethealth/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireUser())
	g.POST("/records", h.Ingest)
	g.GET("/records", h.ListRecords)
	g.GET("/records/:id", h.GetRecord)
	g.DELETE("/records/:id", h.DeleteRecord)

	g.POST("/results", h.CreateResult)
	g.GET("/results/export", h.Export)
	g.PATCH("/results/:id", h.UpdateResult)
	g.DELETE("/results/:id", h.DeleteResult)
}

func userID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.Validation("parse id", "invalid id"))
	}
	return id, nil
}

func (h *Handler) Ingest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.Validation("ingest", "invalid request body"))
	}
	out, err := h.svc.Ingest(c.Request().Context(), userID(c), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusCreated, out)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.ListRecords(c.Request().Context(), userID(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), userID(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRecord(c.Request().Context(), userID(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateResult(c echo.Context) error {
	var in ResultInput
	if err := c.Bind(&in); err != nil {
		return apperr.HTTPError(apperr.Validation("create result", "invalid request body"))
	}
	res, err := h.svc.CreateResult(c.Request().Context(), userID(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusCreated, res)
}

func (h *Handler) UpdateResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p ResultPatch
	if err := c.Bind(&p); err != nil {
		return apperr.HTTPError(apperr.Validation("update result", "invalid request body"))
	}
	res, err := h.svc.UpdateResult(c.Request().Context(), userID(c), id, p)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, res)
}

func (h *Handler) DeleteResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteResult(c.Request().Context(), userID(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Export(c echo.Context) error {
	out, err := h.svc.Export(c.Request().Context(), userID(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+out.Filename)
	return c.Blob(http.StatusOK, xlsxContentType, out.Data)
}
