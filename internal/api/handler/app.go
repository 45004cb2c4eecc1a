package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/jmrl23/keygate/internal/api/middleware"
	"github.com/jmrl23/keygate/internal/api/response"
	"github.com/jmrl23/keygate/internal/apperr"
	"github.com/jmrl23/keygate/internal/service"
	"github.com/jmrl23/keygate/pkg/models"
)

// Applications defines the registry operations the handlers depend on.
type Applications interface {
	CreateApp(ctx context.Context, user *models.User, name string, origins []string) (*models.Application, error)
	GetAppByIDOrThrow(ctx context.Context, id uuid.UUID, opts service.GetOptions) (*models.Application, error)
	SetOriginsByID(ctx context.Context, id uuid.UUID, origins []string) (*models.Application, error)
	GetAppList(ctx context.Context, q service.AppListQuery) ([]*models.Application, error)
	DeleteAppByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
}

// NewAppCreateHandler returns the handler for POST /api/application/create.
func NewAppCreateHandler(svc Applications) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			Name    string   `json:"name"`
			Origins []string `json:"origins"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Name == "" {
			response.ErrorStatus(w, http.StatusBadRequest, "name is required")
			return
		}

		app, err := svc.CreateApp(r.Context(), user, req.Name, req.Origins)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, app)
	}
}

// NewAppListHandler returns the handler for GET /api/application/list.
func NewAppListHandler(svc Applications) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseAppListQuery(r)
		if err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, err.Error())
			return
		}

		apps, err := svc.GetAppList(r.Context(), q)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, apps)
	}
}

// NewAppOriginsHandler returns the handler for
// PATCH /api/application/update/origins. Only the author or an admin
// may replace the allow-list.
func NewAppOriginsHandler(svc Applications) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			ID      uuid.UUID `json:"id"`
			Origins []string  `json:"origins"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.ID == uuid.Nil {
			response.ErrorStatus(w, http.StatusBadRequest, "id is required")
			return
		}

		if err := requireAppAccess(r.Context(), svc, user, req.ID); err != nil {
			response.Error(w, err)
			return
		}

		app, err := svc.SetOriginsByID(r.Context(), req.ID, req.Origins)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, app)
	}
}

// NewAppDeleteHandler returns the handler for
// DELETE /api/application/delete/{id}. Only the author or an admin may
// delete.
func NewAppDeleteHandler(svc Applications) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid application id")
			return
		}

		if err := requireAppAccess(r.Context(), svc, user, id); err != nil {
			response.Error(w, err)
			return
		}

		app, err := svc.DeleteAppByID(r.Context(), id)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, app)
	}
}

func requireAppAccess(ctx context.Context, svc Applications, user *models.User, id uuid.UUID) error {
	app, err := svc.GetAppByIDOrThrow(ctx, id, service.GetOptions{})
	if err != nil {
		return err
	}
	if app.AuthorID != user.ID && user.Role != models.RoleAdmin {
		return apperr.Forbidden("API application not owned")
	}
	return nil
}

func parseAppListQuery(r *http.Request) (service.AppListQuery, error) {
	var q service.AppListQuery
	values := r.URL.Query()

	var err error
	if q.CreatedAtFrom, err = queryTime(values, "createdAtFrom"); err != nil {
		return q, err
	}
	if q.CreatedAtTo, err = queryTime(values, "createdAtTo"); err != nil {
		return q, err
	}
	if q.UpdatedAtFrom, err = queryTime(values, "updatedAtFrom"); err != nil {
		return q, err
	}
	if q.UpdatedAtTo, err = queryTime(values, "updatedAtTo"); err != nil {
		return q, err
	}
	q.NamePrefix = values.Get("name")
	if q.AuthorID, err = queryUUID(values, "authorId"); err != nil {
		return q, err
	}
	if q.Skip, err = queryInt(values, "skip"); err != nil {
		return q, err
	}
	if q.Take, err = queryInt(values, "take"); err != nil {
		return q, err
	}
	if q.Order, err = queryOrder(values, "order"); err != nil {
		return q, err
	}
	revalidate, err := queryBool(values, "revalidate")
	if err != nil {
		return q, err
	}
	q.Revalidate = revalidate != nil && *revalidate
	return q, nil
}
