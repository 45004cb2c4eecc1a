package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/jmrl23/keygate/internal/api/middleware"
	"github.com/jmrl23/keygate/internal/api/response"
	"github.com/jmrl23/keygate/internal/service"
	"github.com/jmrl23/keygate/pkg/models"
)

// Keys defines the API key operations the handlers depend on.
type Keys interface {
	CreateKey(ctx context.Context, user *models.User, opts service.CreateKeyOptions) (*models.APIKey, error)
	GetKeyList(ctx context.Context, user *models.User, q service.KeyListQuery) ([]*models.APIKey, error)
	GetKeyStatus(ctx context.Context, rawKey, origin string) (*models.KeyStatus, error)
	ToggleKeyByID(ctx context.Context, user *models.User, id uuid.UUID, enable *bool) (*models.APIKey, error)
	DeleteKeyByID(ctx context.Context, user *models.User, id uuid.UUID) (*models.APIKey, error)
}

// RequestValidator is the admission decision slice of the key service.
type RequestValidator interface {
	ValidateRequest(ctx context.Context, rawKey, origin string) error
}

// NewKeyCreateHandler returns the handler for POST /api/key/create.
func NewKeyCreateHandler(svc Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			ExpiresDays  *int        `json:"expiresDays"`
			Applications []uuid.UUID `json:"applications"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.ExpiresDays != nil && *req.ExpiresDays <= 0 {
			response.ErrorStatus(w, http.StatusBadRequest, "expiresDays must be a positive integer")
			return
		}

		key, err := svc.CreateKey(r.Context(), user, service.CreateKeyOptions{
			ExpiresDays:  req.ExpiresDays,
			Applications: req.Applications,
		})
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, key)
	}
}

// NewKeyListHandler returns the handler for GET /api/key/list. The
// list is always scoped to the requesting user.
func NewKeyListHandler(svc Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		q, err := parseKeyListQuery(r)
		if err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, err.Error())
			return
		}

		keys, err := svc.GetKeyList(r.Context(), user, q)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, keys)
	}
}

// NewKeyStatusHandler returns the handler for the public
// GET /api/key?key=. The Origin request header participates in the
// decision.
func NewKeyStatusHandler(svc Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.GetKeyStatus(r.Context(), r.URL.Query().Get("key"), r.Header.Get("Origin"))
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, status)
	}
}

// NewKeyToggleHandler returns the handler for PATCH /api/key/update/enable.
// A nil enable flips the current state.
func NewKeyToggleHandler(svc Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			ID     uuid.UUID `json:"id"`
			Enable *bool     `json:"enable"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.ID == uuid.Nil {
			response.ErrorStatus(w, http.StatusBadRequest, "id is required")
			return
		}

		key, err := svc.ToggleKeyByID(r.Context(), user, req.ID, req.Enable)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, key)
	}
}

// NewKeyDeleteHandler returns the handler for DELETE /api/key/delete/{id}.
func NewKeyDeleteHandler(svc Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid key id")
			return
		}

		key, err := svc.DeleteKeyByID(r.Context(), user, id)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, key)
	}
}

// NewProbeHandler returns the handler for the public GET /api?key=
// admission probe: an empty 200 when the key is admitted, the error
// envelope otherwise.
func NewProbeHandler(svc RequestValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.ValidateRequest(r.Context(), r.URL.Query().Get("key"), r.Header.Get("Origin"))
		if err != nil {
			response.Error(w, err)
			return
		}
		response.NoContent(w)
	}
}

func parseKeyListQuery(r *http.Request) (service.KeyListQuery, error) {
	var q service.KeyListQuery
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
	if q.Expired, err = queryBool(values, "expired"); err != nil {
		return q, err
	}
	if q.Enable, err = queryBool(values, "enable"); err != nil {
		return q, err
	}
	if q.Applications, err = queryUUIDList(values, "applications"); err != nil {
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
