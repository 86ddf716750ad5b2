package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/appointment"
	"github.com/hackgods/caresync-appointments/internal/auth"
	"github.com/hackgods/caresync-appointments/internal/otp"
	"github.com/hackgods/caresync-appointments/internal/patient"
	"github.com/hackgods/caresync-appointments/internal/schedule"
)

type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) ([]appointment.Appointment, error)
	RescheduleUpdates(ctx context.Context, patientID string, updates []appointment.SessionUpdate) ([]appointment.Appointment, error)
	ListMine(ctx context.Context, patientID string) ([]appointment.Appointment, error)
	CancelAll(ctx context.Context, patientID string) (int64, error)
	CancelOne(ctx context.Context, patientID, id string) error
	Availability(ctx context.Context, from, to schedule.Date, excludePatientID string) (*appointment.Availability, error)
	PreviewPlan(date, slot string) ([]schedule.Session, error)
	Today() schedule.Date
}

type ProfileStore interface {
	Upsert(ctx context.Context, p patient.Patient) (*patient.Patient, error)
	GetByID(ctx context.Context, id string) (*patient.Patient, error)
}

type PasswordResetService interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (string, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}

var appointmentErrorCodes = []struct {
	err  error
	code string
}{
	{appointment.ErrInvalidTimeSlot, "invalid_time_slot"},
	{appointment.ErrInvalidDate, "invalid_date"},
	{appointment.ErrIneligibleDate, "ineligible_date"},
	{appointment.ErrPastDate, "past_date"},
	{appointment.ErrInvalidRange, "invalid_range"},
	{appointment.ErrInvalidSessionNumber, "invalid_session_number"},
	{appointment.ErrInvalidAppointmentID, "invalid_appointment_id"},
	{appointment.ErrMissingAppointmentID, "missing_appointment_id"},
	{appointment.ErrNoUpdates, "invalid_updates"},
	{appointment.ErrActivePlanExists, "active_plan_exists"},
	{appointment.ErrSlotTaken, "slot_taken"},
	{appointment.ErrDateUnavailable, "date_unavailable"},
	{appointment.ErrPlanIncomplete, "plan_incomplete"},
	{appointment.ErrOperationInProgress, "operation_in_progress"},
	{appointment.ErrConcurrentUpdate, "concurrent_update"},
	{appointment.ErrNotOwner, "not_owner"},
	{appointment.ErrAppointmentNotFound, "appointment_not_found"},
	{appointment.ErrNoAppointments, "no_appointments"},
}

// handleAppointmentError maps service errors to status codes by category.
func handleAppointmentError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := ""
	for _, c := range appointmentErrorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}

	switch {
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, orDefault(code, "invalid_input"), err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, orDefault(code, "forbidden"), err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, orDefault(code, "not_found"), err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, orDefault(code, "conflict"), err.Error())
	default:
		logger.Error("appointment request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong, please try again")
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func bookAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		plan, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID: auth.UserIDFromContext(r.Context()),
			Date:      req.SelectedDate,
			TimeSlot:  req.TimeSlot,
		})
		if err != nil {
			handleAppointmentError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, PlanResponse{
			Message:  "Appointments booked successfully",
			Sessions: toAppointmentResponses(plan),
		})
	}
}

func myAppointmentsHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListMine(r.Context(), auth.UserIDFromContext(r.Context()))
		if err != nil {
			handleAppointmentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func cancelAllHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.CancelAll(r.Context(), auth.UserIDFromContext(r.Context()))
		if err != nil {
			handleAppointmentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelAllResponse{Message: "All appointments cancelled", Cancelled: n})
	}
}

func cancelOneHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.CancelOne(r.Context(), auth.UserIDFromContext(r.Context()), id); err != nil {
			handleAppointmentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment cancelled"})
	}
}

func rescheduleHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_updates", appointment.ErrNoUpdates.Error())
			return
		}

		updates := make([]appointment.SessionUpdate, len(req.Updates))
		for i, u := range req.Updates {
			updates[i] = appointment.SessionUpdate{
				ID:            u.ID,
				Date:          u.Date,
				TimeSlot:      u.TimeSlot,
				SessionNumber: u.SessionNumber,
			}
		}

		plan, err := svc.RescheduleUpdates(r.Context(), auth.UserIDFromContext(r.Context()), updates)
		if err != nil {
			handleAppointmentError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, PlanResponse{
			Message:  "Appointments rescheduled successfully",
			Sessions: toAppointmentResponses(plan),
		})
	}
}

func availabilityHandler(svc AppointmentService, windowDays int, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		from := svc.Today()
		if raw := q.Get("from"); raw != "" {
			d, err := schedule.ParseDate(raw)
			if err != nil {
				handleAppointmentError(w, logger, appointment.ErrInvalidDate)
				return
			}
			from = d
		}

		to := from.AddDays(windowDays)
		if raw := q.Get("to"); raw != "" {
			d, err := schedule.ParseDate(raw)
			if err != nil {
				handleAppointmentError(w, logger, appointment.ErrInvalidDate)
				return
			}
			to = d
		}

		exclude := ""
		if raw := q.Get("excludeSelf"); raw != "" {
			self, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_input", "excludeSelf must be true or false")
				return
			}
			if self {
				exclude = auth.UserIDFromContext(r.Context())
			}
		}

		av, err := svc.Availability(r.Context(), from, to, exclude)
		if err != nil {
			handleAppointmentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(av))
	}
}

func planPreviewHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sessions, err := svc.PreviewPlan(q.Get("date"), q.Get("timeSlot"))
		if err != nil {
			handleAppointmentError(w, logger, err)
			return
		}

		resp := PlanPreviewResponse{Sessions: make([]SessionPreview, len(sessions))}
		for i, s := range sessions {
			resp.Sessions[i] = SessionPreview{
				SessionNumber: s.Number,
				Date:          s.Date,
				TimeSlot:      string(s.Slot),
				Timestamp:     s.Slot.At(s.Date),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getProfileHandler(store ProfileStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.GetByID(r.Context(), auth.UserIDFromContext(r.Context()))
		switch {
		case errors.Is(err, patient.ErrNotFound):
			writeError(w, http.StatusNotFound, "profile_not_found", err.Error())
			return
		case err != nil:
			logger.Error("load profile failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong, please try again")
			return
		}
		writeJSON(w, http.StatusOK, ProfileResponse{ID: p.ID, Name: p.Name, Email: p.Email})
	}
}

func putProfileHandler(store ProfileStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		email := req.Email
		if strings.TrimSpace(email) == "" {
			if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
				email = claims.Email
			}
		}
		email, err := patient.NormalizeEmail(email)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_email", err.Error())
			return
		}

		p, err := store.Upsert(r.Context(), patient.Patient{
			ID:    auth.UserIDFromContext(r.Context()),
			Name:  strings.TrimSpace(req.Name),
			Email: email,
		})
		switch {
		case errors.Is(err, patient.ErrEmailInUse):
			writeError(w, http.StatusConflict, "email_in_use", err.Error())
			return
		case err != nil:
			logger.Error("save profile failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong, please try again")
			return
		}
		writeJSON(w, http.StatusOK, ProfileResponse{ID: p.ID, Name: p.Name, Email: p.Email})
	}
}

func handleOTPError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, patient.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email", err.Error())
	case errors.Is(err, otp.ErrEmailNotRegistered):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, otp.ErrInvalidCode), errors.Is(err, otp.ErrCodeMismatch):
		writeError(w, http.StatusBadRequest, "invalid_otp", err.Error())
	case errors.Is(err, otp.ErrCodeExpired):
		writeError(w, http.StatusBadRequest, "otp_expired", err.Error())
	case errors.Is(err, otp.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", err.Error())
	default:
		logger.Error("password reset request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process request")
	}
}

func sendOTPHandler(svc PasswordResetService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendOTPRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := svc.SendOTP(r.Context(), req.Email); err != nil {
			handleOTPError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "OTP sent successfully"})
	}
}

func verifyOTPHandler(svc PasswordResetService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyOTPRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		token, err := svc.VerifyOTP(r.Context(), req.Email, req.OTP)
		if err != nil {
			handleOTPError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, VerifyOTPResponse{Message: "OTP verified", ResetToken: token})
	}
}
