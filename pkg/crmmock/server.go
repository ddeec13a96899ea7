package crmmock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Server exposes a Store over the CRM HTTP API.
type Server struct {
	echo   *echo.Echo
	store  *Store
	logger ectologger.Logger
}

// NewServer creates the mock API. Requests must carry key in x-api-key unless key is empty.
func NewServer(store *Store, key string, serviceName string, logger ectologger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(otelecho.Middleware(serviceName))
	e.Use(accessLog(logger))
	e.Use(apiKey(key))

	s := &Server{echo: e, store: store, logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.GET("/prospects", s.listProspects)
	api.PUT("/prospects/:id", s.updateProspect)
	api.DELETE("/prospects/:id", s.deleteProspect)
	api.POST("/prospects/:id/contacts", s.createContact)

	api.GET("/directory/contacts", s.listContacts)
	api.PUT("/directory/contacts/:id", s.updateContact)
	api.DELETE("/directory/contacts/:id", s.deleteContact)

	api.GET("/activities", s.listActivities)
	api.POST("/activities", s.createActivity)
	api.PUT("/activities/:id", s.updateActivity)
	api.DELETE("/activities/:id", s.deleteActivity)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Infof("CRM mock listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) listProspects(c echo.Context) error {
	prospects, err := s.store.ListProspects(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prospects)
}

func (s *Server) listContacts(c echo.Context) error {
	contacts, err := s.store.ListContacts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, contacts)
}

func (s *Server) listActivities(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid limit %q", raw)
		}
		limit = n
	}

	activities, err := s.store.ListActivities(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, activities)
}

func (s *Server) updateProspect(c echo.Context) error {
	id, fields, err := idAndFields(c)
	if err != nil {
		return err
	}
	if err := s.store.UpdateProspect(c.Request().Context(), id, fields); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.store.prospect(id))
}

func (s *Server) deleteProspect(c echo.Context) error {
	return s.deleteByID(c, s.store.DeleteProspect)
}

func (s *Server) createContact(c echo.Context) error {
	prospectID, err := pathID(c)
	if err != nil {
		return err
	}
	var fields models.ContactFields
	if err := json.NewDecoder(c.Request().Body).Decode(&fields); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid body: %v", err)
	}

	created, err := s.store.CreateContact(c.Request().Context(), prospectID, fields)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) updateContact(c echo.Context) error {
	id, fields, err := idAndFields(c)
	if err != nil {
		return err
	}
	if err := s.store.UpdateContact(c.Request().Context(), id, fields); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "updated": true})
}

func (s *Server) deleteContact(c echo.Context) error {
	return s.deleteByID(c, s.store.DeleteContact)
}

func (s *Server) createActivity(c echo.Context) error {
	var fields models.ActivityFields
	if err := json.NewDecoder(c.Request().Body).Decode(&fields); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid body: %v", err)
	}
	if fields.ProspectID == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "prospect_id is required")
	}

	created, err := s.store.CreateActivity(c.Request().Context(), fields)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) updateActivity(c echo.Context) error {
	id, fields, err := idAndFields(c)
	if err != nil {
		return err
	}
	if err := s.store.UpdateActivity(c.Request().Context(), id, fields); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "updated": true})
}

func (s *Server) deleteActivity(c echo.Context) error {
	return s.deleteByID(c, s.store.DeleteActivity)
}

func (s *Server) deleteByID(c echo.Context, del func(context.Context, int64) error) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := del(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid id %q", c.Param("id"))
	}
	return id, nil
}

func idAndFields(c echo.Context) (int64, map[string]any, error) {
	id, err := pathID(c)
	if err != nil {
		return 0, nil, err
	}

	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return 0, nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid body: %v", err)
	}
	return id, normalizeNumbers(fields), nil
}

// normalizeNumbers converts json.Number values to int64 or float64 so stored attributes match
// what a JSON API would echo back.
func normalizeNumbers(fields map[string]any) map[string]any {
	for key, value := range fields {
		n, ok := value.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			fields[key] = i
		} else if f, err := n.Float64(); err == nil {
			fields[key] = f
		}
	}
	return fields
}

// prospect returns the current record for id, used for update echoes.
func (s *Store) prospect(id int64) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prospects[id]
	if !ok {
		return map[string]any{"id": id}
	}
	return p.Clone()
}
