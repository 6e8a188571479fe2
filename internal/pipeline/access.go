package pipeline

import (
	"fmt"

	"github.com/garnizeh/cvpipe/internal/models"
)

// Authorize checks that r may act on d. The owning user wins over the owning
// session; a draft with neither is open.
func Authorize(d *models.Draft, r models.Requester) error {
	switch {
	case d.OwnerUserID != nil && *d.OwnerUserID != "":
		if r.UserID != *d.OwnerUserID {
			return fmt.Errorf("draft %s: %w", d.ID, ErrUnauthorized)
		}
	case d.OwnerSessionID != nil && *d.OwnerSessionID != "":
		if r.SessionID != *d.OwnerSessionID {
			return fmt.Errorf("draft %s: %w", d.ID, ErrUnauthorized)
		}
	}
	return nil
}
