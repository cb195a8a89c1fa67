package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ledlocator/internal/inventory"
)

type createLocationRequest struct {
	Name        string             `json:"name"`
	ParentID    string             `json:"parent_id,omitempty"`
	Description string             `json:"description,omitempty"`
	Metadata    inventory.Metadata `json:"metadata,omitempty"`
}

// handleListLocations returns all stock locations ordered by path.
// ?has_led=true limits the list to locations with an LED binding.
func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	var (
		locs []inventory.Location
		err  error
	)
	if r.URL.Query().Get("has_led") == "true" {
		locs, err = s.locations.ListWithMetadataKey(r.Context(), inventory.LEDMetadataKey)
	} else {
		locs, err = s.locations.List(r.Context())
	}
	if err != nil {
		s.logger.Error("list locations failed", "error", err)
		writeInternalError(w, "failed to list locations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locs, "count": len(locs)})
}

// handleCreateLocation adds a stock location.
func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loc := &inventory.Location{
		Name:        req.Name,
		ParentID:    req.ParentID,
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	if err := s.locations.Create(r.Context(), loc); err != nil {
		switch {
		case errors.Is(err, inventory.ErrInvalidName),
			errors.Is(err, inventory.ErrInvalidMetadata),
			errors.Is(err, inventory.ErrParentNotFound):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("create location failed", "error", err)
			writeInternalError(w, "failed to create location")
		}
		return
	}

	p := principal(r)
	s.logger.Info("location created", "location_id", loc.ID, "path", loc.PathString, "user_id", p.UserID)
	s.auditLog("create", "location", loc.ID, p.UserID, map[string]any{"path": loc.PathString})

	writeJSON(w, http.StatusCreated, loc)
}

// handleGetLocation returns a single location by ID.
func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	loc, err := s.locations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, inventory.ErrLocationNotFound) {
			writeNotFound(w, "location not found")
			return
		}
		s.logger.Error("get location failed", "location_id", id, "error", err)
		writeInternalError(w, "failed to get location")
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// handleDeleteLocation removes a location and its children.
func (s *Server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.locations.Delete(r.Context(), id); err != nil {
		if errors.Is(err, inventory.ErrLocationNotFound) {
			writeNotFound(w, "location not found")
			return
		}
		s.logger.Error("delete location failed", "location_id", id, "error", err)
		writeInternalError(w, "failed to delete location")
		return
	}

	p := principal(r)
	s.logger.Info("location deleted", "location_id", id, "user_id", p.UserID)
	s.auditLog("delete", "location", id, p.UserID, nil)

	w.WriteHeader(http.StatusNoContent)
}
