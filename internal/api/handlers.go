package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tablebook/internal/export"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createReservationRequest struct {
	RestaurantID    string            `json:"restaurant_id"`
	UserID          string            `json:"user_id,omitempty"`
	Name            string            `json:"name,omitempty"`
	Email           string            `json:"email,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Date            string            `json:"date"`
	TimeSlot        string            `json:"time_slot"`
	PartySize       int               `json:"party_size"`
	DurationMinutes int               `json:"duration_minutes,omitempty"`
	Channel         string            `json:"channel,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type availabilityResponse struct {
	RestaurantID string                `json:"restaurant_id"`
	Date         string                `json:"date"`
	PartySize    int                   `json:"party_size"`
	Slots        []model.AvailableSlot `json:"slots"`
}

type reservationsResponse struct {
	Reservations []model.Reservation `json:"reservations"`
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	const handler = "create_reservation"

	var body createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		s.respondError(w, handler, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	slot, err := model.ParseTimeSlot(body.TimeSlot)
	if err != nil {
		s.respondError(w, handler, http.StatusBadRequest, "validation", err.Error())
		return
	}

	res, err := s.svc.CreateReservation(r.Context(), model.ReservationRequest{
		RestaurantID: strings.TrimSpace(body.RestaurantID),
		User: model.UserRef{
			ID:    strings.TrimSpace(body.UserID),
			Name:  body.Name,
			Email: body.Email,
			Phone: body.Phone,
		},
		Date:            strings.TrimSpace(body.Date),
		TimeSlot:        slot,
		PartySize:       body.PartySize,
		DurationMinutes: body.DurationMinutes,
		Channel:         model.Channel(body.Channel),
		Notes:           body.Notes,
		Metadata:        body.Metadata,
	})
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}
	s.respond(w, handler, http.StatusCreated, res)
}

var transitions = map[string]func(ReservationAPI, context.Context, string, string) (*model.Reservation, error){
	"confirm":  ReservationAPI.ConfirmReservation,
	"cancel":   ReservationAPI.CancelReservation,
	"check-in": ReservationAPI.CheckInReservation,
	"complete": ReservationAPI.CompleteReservation,
	"no-show":  ReservationAPI.MarkNoShow,
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	handler := "reservation_" + strings.ReplaceAll(action, "-", "_")

	apply, ok := transitions[action]
	if !ok {
		s.respondError(w, "reservation_transition", http.StatusNotFound, "not_found", fmt.Sprintf("unknown action %q", action))
		return
	}

	res, err := apply(s.svc, r.Context(), r.PathValue("id"), r.URL.Query().Get("date"))
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}
	s.respond(w, handler, http.StatusOK, res)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	const handler = "availability"

	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		s.respondError(w, handler, http.StatusBadRequest, "validation", "date is required")
		return
	}
	party, err := strconv.Atoi(q.Get("party_size"))
	if err != nil {
		s.respondError(w, handler, http.StatusBadRequest, "validation", "party_size must be a number")
		return
	}

	restaurantID := r.PathValue("id")
	slots, err := s.svc.GetAvailability(r.Context(), restaurantID, date, party)
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}
	s.respond(w, handler, http.StatusOK, availabilityResponse{
		RestaurantID: restaurantID,
		Date:         date,
		PartySize:    party,
		Slots:        slots,
	})
}

func (s *HTTPServer) handleRestaurantReservations(w http.ResponseWriter, r *http.Request) {
	const handler = "restaurant_reservations"

	filter, err := parseFilter(r)
	if err != nil {
		s.respondError(w, handler, http.StatusBadRequest, "validation", err.Error())
		return
	}
	list, err := s.svc.GetRestaurantReservations(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}
	s.respond(w, handler, http.StatusOK, reservationsResponse{Reservations: nonNil(list)})
}

func (s *HTTPServer) handleUserReservations(w http.ResponseWriter, r *http.Request) {
	const handler = "user_reservations"

	filter, err := parseFilter(r)
	if err != nil {
		s.respondError(w, handler, http.StatusBadRequest, "validation", err.Error())
		return
	}
	list, err := s.svc.GetUserReservations(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}
	s.respond(w, handler, http.StatusOK, reservationsResponse{Reservations: nonNil(list)})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	const handler = "export"

	date := r.URL.Query().Get("date")
	if _, err := model.ParseDate(date); err != nil {
		s.respondError(w, handler, http.StatusBadRequest, "validation", "date is required as YYYY-MM-DD")
		return
	}

	rest, err := s.svc.GetRestaurant(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}
	list, err := s.svc.GetRestaurantReservations(r.Context(), rest.ID, model.ReservationFilter{From: date, To: date})
	if err != nil {
		s.respondKind(w, handler, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteRestaurantDay(&buf, rest, date, list); err != nil {
		s.logger.Error().Err(err).Str("restaurant_id", rest.ID).Str("date", date).Msg("Export failed")
		s.respondError(w, handler, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(rest.Slug, date)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	metrics.HTTPRequest(handler, strconv.Itoa(http.StatusOK))
}

// parseFilter reads date, from, to, status (comma separated or repeated) and limit.
func parseFilter(r *http.Request) (model.ReservationFilter, error) {
	q := r.URL.Query()
	f := model.ReservationFilter{From: q.Get("from"), To: q.Get("to")}
	if date := q.Get("date"); date != "" {
		f.From, f.To = date, date
	}
	for _, raw := range q["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, model.ReservationStatus(st))
			}
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative number")
		}
		f.Limit = n
	}
	return f, nil
}

func nonNil(list []model.Reservation) []model.Reservation {
	if list == nil {
		return []model.Reservation{}
	}
	return list
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindLockAcquisition:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) respondKind(w http.ResponseWriter, handler string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug().Err(err).Str("handler", handler).Msg("Request abandoned")
		s.respondError(w, handler, http.StatusServiceUnavailable, "cancelled", "request cancelled before completion")
		return
	}
	kind := model.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("handler", handler).Msg("Request failed")
		msg = "internal error, retry later"
	}
	s.respondError(w, handler, status, kind.String(), msg)
}

func (s *HTTPServer) respondError(w http.ResponseWriter, handler string, status int, code, message string) {
	metrics.HTTPRequest(handler, strconv.Itoa(status))
	writeError(w, status, code, message)
}

func (s *HTTPServer) respond(w http.ResponseWriter, handler string, status int, payload any) {
	metrics.HTTPRequest(handler, strconv.Itoa(status))
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
