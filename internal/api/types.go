package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/caresync-appointments/internal/appointment"
	"github.com/hackgods/caresync-appointments/internal/schedule"
)

type BookAppointmentRequest struct {
	SelectedDate string `json:"selectedDate"`
	TimeSlot     string `json:"timeSlot"`
}

type RescheduleRequest struct {
	Updates []SessionUpdate `json:"updates"`
}

type SessionUpdate struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	TimeSlot      string `json:"timeSlot"`
	SessionNumber int    `json:"sessionNumber"`
}

type AppointmentResponse struct {
	ID            uuid.UUID     `json:"id"`
	PatientID     string        `json:"patientId"`
	SessionNumber int           `json:"sessionNumber"`
	Timestamp     time.Time     `json:"timestamp"`
	Date          schedule.Date `json:"date"`
	TimeSlot      string        `json:"timeSlot"`
}

type PlanResponse struct {
	Message  string                `json:"message"`
	Sessions []AppointmentResponse `json:"sessions"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CancelAllResponse struct {
	Message   string `json:"message"`
	Cancelled int64  `json:"cancelled"`
}

type AvailabilityResponse struct {
	From              schedule.Date       `json:"from"`
	To                schedule.Date       `json:"to"`
	SaturatedDates    []schedule.Date     `json:"saturatedDates"`
	BlockedStartDates []schedule.Date     `json:"blockedStartDates"`
	TakenSlots        map[string][]string `json:"takenSlots"`
	TimeSlots         []string            `json:"timeSlots"`
}

type SessionPreview struct {
	SessionNumber int           `json:"sessionNumber"`
	Date          schedule.Date `json:"date"`
	TimeSlot      string        `json:"timeSlot"`
	Timestamp     time.Time     `json:"timestamp"`
}

type PlanPreviewResponse struct {
	Sessions []SessionPreview `json:"sessions"`
}

type ProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ProfileResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SendOTPRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type VerifyOTPResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"resetToken"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		SessionNumber: a.SessionNumber,
		Timestamp:     a.ScheduledAt.In(schedule.Location),
		Date:          a.Date(),
		TimeSlot:      string(a.TimeSlot),
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(appts))
	for i, a := range appts {
		out[i] = toAppointmentResponse(a)
	}
	return out
}

func toAvailabilityResponse(av *appointment.Availability) AvailabilityResponse {
	taken := make(map[string][]string, len(av.TakenSlots))
	for d, slots := range av.TakenSlots {
		names := make([]string, len(slots))
		for i, s := range slots {
			names[i] = string(s)
		}
		taken[d.String()] = names
	}

	slots := make([]string, len(schedule.Slots))
	for i, s := range schedule.Slots {
		slots[i] = string(s)
	}

	return AvailabilityResponse{
		From:              av.From,
		To:                av.To,
		SaturatedDates:    av.SaturatedDates,
		BlockedStartDates: av.BlockedStartDates,
		TakenSlots:        taken,
		TimeSlots:         slots,
	}
}
