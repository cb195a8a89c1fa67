package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// registerFields lists the body fields POST /leds/register accepts.
var registerFields = []string{"stocklocation", "led"}

// flexString accepts a JSON string or number and keeps its literal text.
// Clients send LED numbers and location IDs both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("expected a string or a number")
	}
	*f = flexString(n.String())
	return nil
}

type registerRequest struct {
	StockLocation flexString `json:"stocklocation"`
	LED           flexString `json:"led"`
}

type registerResponse struct {
	LocationID string `json:"location_id"`
	LED        int    `json:"led"`
	Previous   *int   `json:"previous,omitempty"`
	Overwrote  bool   `json:"overwrote"`
	Message    string `json:"message"`
}

// handleLocate lights the LED for a location. Unlocatable locations are
// not an error: the response carries outcome "unlocatable".
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.locator.Locate(r.Context(), id)
	if err != nil {
		s.writeLocatorError(w, r, err, "failed to locate")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleLEDsOff turns every LED off.
func (s *Server) handleLEDsOff(w http.ResponseWriter, r *http.Request) {
	if err := s.locator.TurnOff(r.Context(), principal(r)); err != nil {
		s.writeLocatorError(w, r, err, "failed to turn LEDs off")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "off"})
}

// handleListLEDs returns every location with an LED binding.
func (s *Server) handleListLEDs(w http.ResponseWriter, r *http.Request) {
	regs, err := s.locator.Registrations(r.Context())
	if err != nil {
		s.writeLocatorError(w, r, err, "failed to list LED registrations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": regs, "count": len(regs)})
}

// handleRegisterMetadata describes the fields the register form posts.
func (s *Server) handleRegisterMetadata(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": map[string][]string{
			http.MethodPost: registerFields,
		},
	})
}

// handleRegister binds an LED from a JSON body.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body: "+err.Error())
		return
	}

	locationID := strings.TrimSpace(string(req.StockLocation))
	if locationID == "" {
		writeValidationError(w, "stocklocation is required")
		return
	}

	s.register(w, r, locationID, string(req.LED))
}

// handleRegisterPath binds an LED from the URL.
func (s *Server) handleRegisterPath(w http.ResponseWriter, r *http.Request) {
	s.register(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "led"))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, locationID, led string) {
	out, err := s.locator.Register(r.Context(), principal(r), locationID, led)
	if err != nil {
		s.writeLocatorError(w, r, err, "failed to register LED")
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		LocationID: out.LocationID,
		LED:        out.Current,
		Previous:   out.Previous,
		Overwrote:  out.Overwrote(),
		Message:    out.Message(),
	})
}

// handleUnregister removes a location's LED binding. Unbound locations
// succeed too.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.locator.Unregister(r.Context(), principal(r), id); err != nil {
		s.writeLocatorError(w, r, err, "failed to unregister LED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "unregistered",
		"location_id": id,
		"message":     "Allocation removed",
	})
}
