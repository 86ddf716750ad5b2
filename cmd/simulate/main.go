package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/auth"
	"github.com/hackgods/caresync-appointments/internal/config"
	"github.com/hackgods/caresync-appointments/internal/logging"
	"github.com/hackgods/caresync-appointments/internal/schedule"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	HorizonDays     int
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	Booking      OperationMetrics
	Reschedule   OperationMetrics
	Cancel       OperationMetrics
	List         OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	signer  *auth.Signer
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

// simPatient is one simulated browser session.
type simPatient struct {
	id    string
	token string
	plan  []sessionRecord
}

type sessionRecord struct {
	ID            string        `json:"id"`
	SessionNumber int           `json:"sessionNumber"`
	Date          schedule.Date `json:"date"`
	TimeSlot      string        `json:"timeSlot"`
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	signer, err := auth.NewSigner(baseCfg.Auth)
	if err != nil {
		logger.Fatal("simulator needs AUTH_JWT_SECRET to mint patient tokens", zap.Error(err))
	}

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid simulator config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio))

	sim := &Simulator{
		config: cfg,
		signer: signer,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.4),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.2),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		HorizonDays:     getInt("SIM_HORIZON_DAYS", 30),
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) newPatient(ctx context.Context, faker *gofakeit.Faker) (*simPatient, error) {
	p := &simPatient{id: "sim-" + faker.UUID()}
	email := strings.ToLower(faker.Email())

	token, err := s.signer.Mint(p.id, email, "", s.config.Duration+time.Minute)
	if err != nil {
		return nil, err
	}
	p.token = token

	profile := map[string]string{"name": faker.Name(), "email": email}
	if _, err := s.call(ctx, p, http.MethodPut, "/api/profile", profile, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	p, err := s.newPatient(ctx, faker)
	if err != nil {
		s.logger.Warn("worker could not register patient", zap.Int("worker", workerID), zap.Error(err))
		return
	}

	for ctx.Err() == nil {
		r := faker.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, p, faker)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, p, faker)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, p)
		default:
			if faker.Bool() {
				s.doList(ctx, p)
			} else {
				s.doAvailability(ctx, p)
			}
		}
	}
}

func (s *Simulator) randomAnchor(faker *gofakeit.Faker) schedule.Date {
	today := schedule.Localize(time.Now())
	return schedule.NextEligibleDate(today.AddDays(faker.Number(1, s.config.HorizonDays)))
}

func (s *Simulator) doBooking(ctx context.Context, p *simPatient, faker *gofakeit.Faker) {
	req := map[string]string{
		"selectedDate": s.randomAnchor(faker).String(),
		"timeSlot":     string(schedule.Slots[faker.Number(0, len(schedule.Slots)-1)]),
	}

	var resp struct {
		Sessions []sessionRecord `json:"sessions"`
	}
	start := time.Now()
	status, err := s.call(ctx, p, http.MethodPost, "/api/book-appointment", req, &resp)
	s.metrics.Booking.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusOK {
		p.plan = resp.Sessions
	}
}

func (s *Simulator) doReschedule(ctx context.Context, p *simPatient, faker *gofakeit.Faker) {
	if len(p.plan) == 0 {
		return
	}

	target := p.plan[faker.Number(0, len(p.plan)-1)]
	update := map[string]any{
		"id":            target.ID,
		"date":          schedule.NextEligibleDate(target.Date.AddDays(faker.Number(1, 7))).String(),
		"timeSlot":      string(schedule.Slots[faker.Number(0, len(schedule.Slots)-1)]),
		"sessionNumber": target.SessionNumber,
	}

	var resp struct {
		Sessions []sessionRecord `json:"sessions"`
	}
	start := time.Now()
	status, err := s.call(ctx, p, http.MethodPost, "/api/reschedule", map[string]any{"updates": []any{update}}, &resp)
	s.metrics.Reschedule.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusOK {
		p.plan = resp.Sessions
	}
}

func (s *Simulator) doCancel(ctx context.Context, p *simPatient) {
	if len(p.plan) == 0 {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, p, http.MethodDelete, "/api/cancel-appointments", nil, nil)
	s.metrics.Cancel.Record(time.Since(start), status, err)

	if err == nil && (status == http.StatusOK || status == http.StatusNotFound) {
		p.plan = nil
	}
}

func (s *Simulator) doList(ctx context.Context, p *simPatient) {
	var plan []sessionRecord
	start := time.Now()
	status, err := s.call(ctx, p, http.MethodGet, "/api/my-appointments", nil, &plan)
	s.metrics.List.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusOK {
		p.plan = plan
	}
}

func (s *Simulator) doAvailability(ctx context.Context, p *simPatient) {
	path := "/api/availability?excludeSelf=" + strconv.FormatBool(len(p.plan) > 0)
	start := time.Now()
	status, err := s.call(ctx, p, http.MethodGet, path, nil, nil)
	s.metrics.Availability.Record(time.Since(start), status, err)
}

// call sends an authenticated JSON request and decodes a 2xx body into out.
func (s *Simulator) call(ctx context.Context, p *simPatient, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Book plan", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel plan", &s.metrics.Cancel)
	printOperationReport("My appointments", &s.metrics.List)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
