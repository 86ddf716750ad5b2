package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/auth"
	"github.com/hackgods/caresync-appointments/internal/config"
	"github.com/hackgods/caresync-appointments/internal/patient"
)

type fakePatients map[string]*patient.Patient

func (f fakePatients) GetByEmail(_ context.Context, email string) (*patient.Patient, error) {
	if p, ok := f[email]; ok {
		return p, nil
	}
	return nil, patient.ErrNotFound
}

type recordingSender struct {
	mu   sync.Mutex
	sent []EmailMessage
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *recordingSender, *auth.Verifier) {
	t.Helper()
	mr, client := setupRedis(t)

	authCfg := config.AuthConfig{JWTSecret: "otp-secret"}
	signer, err := auth.NewSigner(authCfg)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(authCfg)
	require.NoError(t, err)

	sender := &recordingSender{}
	patients := fakePatients{
		"asha@example.com": {ID: "uid-1", Name: "Asha", Email: "asha@example.com"},
	}
	cfg := config.OTPConfig{TTL: 10 * time.Minute, ResetTokenTTL: 15 * time.Minute, MaxAttempts: 3}

	svc := NewService(patients, NewRedisStore(client), sender, signer, cfg, zap.NewNop(), nil)
	svc.generate = func() (string, error) { return "123456", nil }
	return svc, mr, sender, verifier
}

func TestSendAndVerify(t *testing.T) {
	svc, mr, sender, verifier := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendOTP(ctx, " Asha@Example.com "))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "asha@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Body, "123456")
	assert.True(t, mr.Exists("otp:asha@example.com"))
	assert.Equal(t, 10*time.Minute, mr.TTL("otp:asha@example.com"))

	token, err := svc.VerifyOTP(ctx, "asha@example.com", "123456")
	require.NoError(t, err)

	claims, err := verifier.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.Subject)
	assert.Equal(t, auth.PurposePasswordReset, claims.Purpose)

	// Codes are single use.
	_, err = svc.VerifyOTP(ctx, "asha@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestSendUnknownEmail(t *testing.T) {
	svc, _, sender, _ := newTestService(t)

	err := svc.SendOTP(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ErrEmailNotRegistered)
	assert.Empty(t, sender.sent)

	err = svc.SendOTP(context.Background(), "nope")
	require.ErrorIs(t, err, patient.ErrInvalidEmail)
}

func TestVerifyExpiredCode(t *testing.T) {
	svc, mr, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	mr.FastForward(11 * time.Minute)

	_, err := svc.VerifyOTP(ctx, "asha@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyLimitsAttempts(t *testing.T) {
	svc, mr, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))

	_, err := svc.VerifyOTP(ctx, "asha@example.com", "000000")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	_, err = svc.VerifyOTP(ctx, "asha@example.com", "000001")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	_, err = svc.VerifyOTP(ctx, "asha@example.com", "000002")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	assert.False(t, mr.Exists("otp:asha@example.com"))
	_, err = svc.VerifyOTP(ctx, "asha@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyConcurrentRedeemsOnce(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyOTP(ctx, "asha@example.com", "123456"); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestVerifyConcurrentGuessesRespectLimit(t *testing.T) {
	svc, mr, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))

	var mismatches atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyOTP(ctx, "asha@example.com", "000000")
			if errors.Is(err, ErrCodeMismatch) {
				mismatches.Add(1)
			}
		}()
	}
	wg.Wait()

	// MaxAttempts is 3: two misses are reported, the third discards the code.
	assert.Equal(t, int32(2), mismatches.Load())
	assert.False(t, mr.Exists("otp:asha@example.com"))
}

func TestRedisStoreCheck(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	assert.ErrorIs(t, store.Check(ctx, "nobody@example.com", "123456", 3), ErrCodeExpired)

	require.NoError(t, store.Save(ctx, "asha@example.com", "123456", time.Minute))
	assert.ErrorIs(t, store.Check(ctx, "asha@example.com", "654321", 3), ErrCodeMismatch)
	assert.NoError(t, store.Check(ctx, "asha@example.com", "123456", 3))
	assert.ErrorIs(t, store.Check(ctx, "asha@example.com", "123456", 3), ErrCodeExpired)
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	for _, code := range []string{"", "12345", "12345a", "1234567"} {
		_, err := svc.VerifyOTP(context.Background(), "asha@example.com", code)
		assert.ErrorIs(t, err, ErrInvalidCode, code)
	}
}

func TestResendReplacesCode(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	svc.generate = func() (string, error) { return "654321", nil }
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))

	_, err := svc.VerifyOTP(ctx, "asha@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	_, err = svc.VerifyOTP(ctx, "asha@example.com", "654321")
	assert.NoError(t, err)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.True(t, validCode(code), code)
	}
}
