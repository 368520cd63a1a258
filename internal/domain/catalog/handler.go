package catalog

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pethealth/pethealth/internal/platform/apperr"
	"github.com/pethealth/pethealth/internal/platform/auth"
	"github.com/pethealth/pethealth/pkg/pagination"
	"github.com/pethealth/pethealth/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	user := api.Group("/catalog", auth.RequireUser())
	user.GET("/items", h.ListItems)
	user.GET("/items/:id", h.GetResolvedItem)
	user.POST("/resolve", h.ResolveItems)
	user.GET("/lookup", h.Lookup)
	user.PUT("/items/:id/override", h.UpsertOverride)
	user.DELETE("/items/:id/override", h.DeleteOverride)
	user.GET("/custom-items", h.ListCustomItems)
	user.POST("/custom-items", h.CreateCustomItem)
	user.DELETE("/custom-items/:id", h.DeleteCustomItem)
	user.GET("/aliases", h.ListUserAliases)
	user.POST("/aliases", h.CreateUserAlias)
	user.DELETE("/aliases/:id", h.DeleteUserAlias)
	user.POST("/reset", h.ResetMine)

	admin := api.Group("/admin/catalog", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/items", h.CreateItem)
	admin.GET("/items/unmapped", h.ListUnmapped)
	admin.GET("/items/:id", h.GetItem)
	admin.PUT("/items/:id", h.UpdateItem)
	admin.DELETE("/items/:id", h.DeleteItem)
	admin.GET("/aliases", h.ListAliases)
	admin.POST("/aliases", h.CreateAlias)
	admin.DELETE("/aliases/:id", h.DeleteAlias)
	admin.POST("/remap", h.Remap)
	admin.POST("/cleanup", h.Cleanup)
	admin.POST("/users/:user_id/reset", h.ResetUser)
}

func userID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.Validation("parse "+name, "invalid %s", name))
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.HTTPError(apperr.Validation("bind request", "invalid request body"))
	}
	return nil
}

// -- User-facing catalog --

func (h *Handler) ListItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ItemFilter{Category: c.QueryParam("category"), Search: c.QueryParam("q")}
	items, total, err := h.svc.ListItems(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetResolvedItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	item, err := h.svc.ResolveItem(c.Request().Context(), id, userID(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, item)
}

type resolveRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *Handler) ResolveItems(c echo.Context) error {
	var req resolveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	items, err := h.svc.ResolveItems(c.Request().Context(), req.IDs, userID(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, items)
}

func (h *Handler) Lookup(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return apperr.HTTPError(apperr.Validation("lookup", "name is required"))
	}
	id, err := h.svc.Lookup(c.Request().Context(), name, userID(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, map[string]interface{}{"standard_item_id": id})
}

func (h *Handler) UpsertOverride(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var o UserItemOverride
	if err := bind(c, &o); err != nil {
		return err
	}
	o.UserID = userID(c)
	o.StandardItemID = id
	if err := h.svc.UpsertOverride(c.Request().Context(), &o); err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, o)
}

func (h *Handler) DeleteOverride(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteOverride(c.Request().Context(), userID(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListCustomItems(c echo.Context) error {
	items, err := h.svc.ListCustomItems(c.Request().Context(), userID(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, items)
}

func (h *Handler) CreateCustomItem(c echo.Context) error {
	var item UserCustomItem
	if err := bind(c, &item); err != nil {
		return err
	}
	item.UserID = userID(c)
	if err := h.svc.CreateCustomItem(c.Request().Context(), &item); err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusCreated, item)
}

func (h *Handler) DeleteCustomItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCustomItem(c.Request().Context(), userID(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUserAliases(c echo.Context) error {
	uid := userID(c)
	return h.listAliases(c, &uid)
}

func (h *Handler) CreateUserAlias(c echo.Context) error {
	var in AliasInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.UserID = userID(c)
	return h.createAlias(c, in)
}

func (h *Handler) DeleteUserAlias(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAlias(c.Request().Context(), TierUser, id, userID(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResetMine(c echo.Context) error {
	counts, err := h.svc.ResetUserOverrides(c.Request().Context(), userID(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, counts)
}

// -- Admin curation --

func (h *Handler) CreateItem(c echo.Context) error {
	var item StandardItem
	if err := bind(c, &item); err != nil {
		return err
	}
	if err := h.svc.CreateItem(c.Request().Context(), &item); err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusCreated, item)
}

func (h *Handler) GetItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	item, err := h.svc.GetItem(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, item)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var item StandardItem
	if err := bind(c, &item); err != nil {
		return err
	}
	item.ID = id
	if err := h.svc.UpdateItem(c.Request().Context(), &item); err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, item)
}

func (h *Handler) DeleteItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteItem(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUnmapped(c echo.Context) error {
	items, err := h.svc.ListUnmapped(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, items)
}

func (h *Handler) ListAliases(c echo.Context) error {
	var uid *string
	if v := c.QueryParam("user_id"); v != "" {
		uid = &v
	}
	return h.listAliases(c, uid)
}

func (h *Handler) listAliases(c echo.Context, uid *string) error {
	pg := pagination.FromContext(c)
	f := AliasFilter{UserID: uid}
	if v := c.QueryParam("standard_item_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.HTTPError(apperr.Validation("list aliases", "invalid standard_item_id"))
		}
		f.StandardItemID = &id
	}
	items, total, err := h.svc.ListAliases(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CreateAlias(c echo.Context) error {
	var in AliasInput
	if err := bind(c, &in); err != nil {
		return err
	}
	// UserID is not bound from JSON; admins create master aliases here.
	in.UserID = ""
	return h.createAlias(c, in)
}

func (h *Handler) createAlias(c echo.Context, in AliasInput) error {
	a, err := h.svc.CreateAlias(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusCreated, a)
}

func (h *Handler) DeleteAlias(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	tier := TierMaster
	if strings.EqualFold(c.QueryParam("tier"), string(TierUser)) {
		tier = TierUser
	}
	if err := h.svc.DeleteAlias(c.Request().Context(), tier, id, ""); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type remapRequest struct {
	OldItemID        uuid.UUID `json:"old_item_id"`
	NewItemID        uuid.UUID `json:"new_item_id"`
	DeleteAfterRemap *bool     `json:"delete_after_remap"`
	AddOldNameAlias  bool      `json:"add_old_name_alias"`
}

func (h *Handler) Remap(c echo.Context) error {
	var req remapRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.OldItemID == uuid.Nil || req.NewItemID == uuid.Nil {
		return apperr.HTTPError(apperr.Validation("remap", "old_item_id and new_item_id are required"))
	}
	opts := RemapOptions{DeleteAfterRemap: true, AddOldNameAlias: req.AddOldNameAlias}
	if req.DeleteAfterRemap != nil {
		opts.DeleteAfterRemap = *req.DeleteAfterRemap
	}
	res, err := h.svc.Remap(c.Request().Context(), req.OldItemID, req.NewItemID, opts)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, res)
}

type cleanupRequest struct {
	Actions []CleanupAction `json:"actions"`
	DryRun  bool            `json:"dry_run"`
}

func (h *Handler) Cleanup(c echo.Context) error {
	var req cleanupRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if len(req.Actions) == 0 {
		return apperr.HTTPError(apperr.Validation("cleanup", "actions are required"))
	}
	return c.JSON(http.StatusOK, h.svc.CleanupUnmapped(c.Request().Context(), req.Actions, req.DryRun))
}

func (h *Handler) ResetUser(c echo.Context) error {
	counts, err := h.svc.ResetUserOverrides(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return response.JSON(c, http.StatusOK, counts)
}
