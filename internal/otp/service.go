package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/auth"
	"github.com/hackgods/caresync-appointments/internal/config"
	"github.com/hackgods/caresync-appointments/internal/metrics"
	"github.com/hackgods/caresync-appointments/internal/patient"
)

const codeDigits = 6

var (
	ErrEmailNotRegistered = errors.New("user not found")
	ErrInvalidCode        = errors.New("otp must be a 6 digit code")
	ErrCodeExpired        = errors.New("otp expired or not found")
	ErrCodeMismatch       = errors.New("invalid otp")
	ErrTooManyAttempts    = errors.New("too many attempts, request a new otp")
)

type PatientLookup interface {
	GetByEmail(ctx context.Context, email string) (*patient.Patient, error)
}

// Service issues password-reset codes and exchanges a valid code for a
// short-lived reset token.
type Service struct {
	patients PatientLookup
	store    Store
	sender   EmailSender
	signer   *auth.Signer
	cfg      config.OTPConfig
	logger   *zap.Logger
	metrics  *metrics.Scheduling
	generate func() (string, error)
}

func NewService(patients PatientLookup, store Store, sender EmailSender, signer *auth.Signer, cfg config.OTPConfig, logger *zap.Logger, m *metrics.Scheduling) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Service{
		patients: patients,
		store:    store,
		sender:   sender,
		signer:   signer,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		generate: generateCode,
	}
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func (s *Service) SendOTP(ctx context.Context, rawEmail string) error {
	err := s.sendOTP(ctx, rawEmail)
	s.metrics.ObserveOTP("send", outcome(err))
	return err
}

func (s *Service) sendOTP(ctx context.Context, rawEmail string) error {
	email, err := patient.NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	p, err := s.patients.GetByEmail(ctx, email)
	if errors.Is(err, patient.ErrNotFound) {
		return ErrEmailNotRegistered
	}
	if err != nil {
		return fmt.Errorf("lookup patient: %w", err)
	}

	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.store.Save(ctx, email, code, s.cfg.TTL); err != nil {
		return err
	}

	msg := EmailMessage{
		To:      email,
		ToName:  p.Name,
		Subject: "Your password reset code",
		Body: fmt.Sprintf("Your one-time code is %s. It expires in %d minutes.",
			code, int(s.cfg.TTL.Minutes())),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver otp: %w", err)
	}

	s.logger.Info("password reset code sent", zap.String("patient_id", p.ID))
	return nil
}

// VerifyOTP consumes a matching code and returns a signed reset token.
func (s *Service) VerifyOTP(ctx context.Context, rawEmail, code string) (string, error) {
	token, err := s.verifyOTP(ctx, rawEmail, code)
	s.metrics.ObserveOTP("verify", outcome(err))
	return token, err
}

func (s *Service) verifyOTP(ctx context.Context, rawEmail, code string) (string, error) {
	email, err := patient.NormalizeEmail(rawEmail)
	if err != nil {
		return "", err
	}
	code = strings.TrimSpace(code)
	if !validCode(code) {
		return "", ErrInvalidCode
	}

	if err := s.store.Check(ctx, email, code, s.cfg.MaxAttempts); err != nil {
		if errors.Is(err, ErrCodeMismatch) || errors.Is(err, ErrTooManyAttempts) {
			s.logger.Warn("password reset code rejected", zap.String("email", email), zap.Error(err))
		}
		return "", err
	}

	p, err := s.patients.GetByEmail(ctx, email)
	if errors.Is(err, patient.ErrNotFound) {
		return "", ErrEmailNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("lookup patient: %w", err)
	}

	token, err := s.signer.Mint(p.ID, email, auth.PurposePasswordReset, s.cfg.ResetTokenTTL)
	if err != nil {
		return "", err
	}
	return token, nil
}

func validCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmailNotRegistered):
		return "not_found"
	case errors.Is(err, patient.ErrInvalidEmail), errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrCodeExpired), errors.Is(err, ErrCodeMismatch), errors.Is(err, ErrTooManyAttempts):
		return "invalid"
	default:
		return "error"
	}
}
