package crm

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Store is the remote CRM record store. Every call is an independent request; there are no
// transactions across calls.
type Store interface {
	ListProspects(ctx context.Context) ([]models.Prospect, error)
	ListActivities(ctx context.Context, limit int) ([]models.Activity, error)
	ListContacts(ctx context.Context) ([]models.Contact, error)

	UpdateProspect(ctx context.Context, id int64, fields map[string]any) error
	DeleteProspect(ctx context.Context, id int64) error

	UpdateContact(ctx context.Context, id int64, fields map[string]any) error
	CreateContact(ctx context.Context, prospectID int64, fields models.ContactFields) (models.Contact, error)
	DeleteContact(ctx context.Context, id int64) error

	UpdateActivity(ctx context.Context, id int64, fields map[string]any) error
	CreateActivity(ctx context.Context, fields models.ActivityFields) (models.Activity, error)
	DeleteActivity(ctx context.Context, id int64) error
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, 0 when err did not come from a response.
func StatusCode(err error) int {
	if err == nil || !httperror.IsHTTPError(err) {
		return 0
	}
	return httperror.GetStatusCode(err)
}
