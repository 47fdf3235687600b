// README: Scenario cases: dependency pings, migrated schema, the trip flow, the concurrent accept race and presence load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

var (
	pickup   = map[string]float64{"lat": 31.2304, "lng": 121.4737}
	driverAt = map[string]float64{"lat": 31.2204, "lng": 121.4637}
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, tc.Name, res.Latency.Round(time.Millisecond))
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func pass(note string, args ...any) Result {
	return Result{Status: statusPass, Note: fmt.Sprintf(note, args...)}
}

func fail(note string, args ...any) Result {
	return Result{Status: statusFail, Note: fmt.Sprintf(note, args...)}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: API health", Run: func(ctx context.Context, r *Runner) Result {
			status, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
			if err != nil {
				return fail("%v", err)
			}
			if status != http.StatusOK {
				return fail("status=%d", status)
			}
			return pass("")
		}},
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "dsn not set"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not set"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "Auth: unauthenticated request rejected", Run: func(ctx context.Context, r *Runner) Result {
			status, _, err := r.call(ctx, http.MethodGet, "/api/orders", "", nil)
			if err != nil {
				return fail("%v", err)
			}
			if status != http.StatusUnauthorized {
				return fail("status=%d", status)
			}
			return pass("")
		}},
		{Name: "Scenario: full trip", Run: tripScenario},
		{Name: "Concurrency: many drivers accept one order", Run: acceptRace},
		{Name: "Perf: presence heartbeat throughput", Run: presenceLoad},
	}
}

// call sends body as JSON and decodes a JSON response into out when non-nil.
func (r *Runner) call(ctx context.Context, method, path, token string, body any, out ...any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	for _, o := range out {
		if err := json.Unmarshal(data, o); err != nil {
			return resp.StatusCode, data, err
		}
	}
	return resp.StatusCode, data, nil
}

func (r *Runner) signIn(ctx context.Context, role string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	status, body, err := r.call(ctx, http.MethodPost, "/api/auth/sign-in", "", map[string]string{"role": role}, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("sign-in %s: status=%d %s", role, status, body)
	}
	return resp.Token, nil
}

type orderView struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	DriverID *string `json:"driver_id"`
}

func (r *Runner) step(ctx context.Context, method, path, token string, body any, want int, out ...any) error {
	status, data, err := r.call(ctx, method, path, token, body, out...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if status != want {
		return fmt.Errorf("%s %s: want %d, got %d %s", method, path, want, status, data)
	}
	return nil
}

func tripScenario(ctx context.Context, r *Runner) Result {
	passenger, err := r.signIn(ctx, "passenger")
	if err != nil {
		return fail("%v", err)
	}
	driver, err := r.signIn(ctx, "driver")
	if err != nil {
		return fail("%v", err)
	}
	other, err := r.signIn(ctx, "driver")
	if err != nil {
		return fail("%v", err)
	}

	if err := r.step(ctx, http.MethodPut, "/api/drivers/me/presence", driver,
		map[string]any{"is_online": true, "location": driverAt}, http.StatusOK); err != nil {
		return fail("%v", err)
	}
	var o orderView
	if err := r.step(ctx, http.MethodPost, "/api/orders", passenger,
		map[string]any{"pickup": pickup}, http.StatusCreated, &o); err != nil {
		return fail("%v", err)
	}
	path := "/api/orders/" + o.ID
	steps := []struct {
		method, path, token string
		body                any
		want                int
	}{
		{http.MethodPost, "/api/orders", passenger, map[string]any{"pickup": pickup}, http.StatusConflict},
		{http.MethodPost, path + "/accept", driver, nil, http.StatusOK},
		{http.MethodPost, path + "/accept", other, nil, http.StatusConflict},
		{http.MethodPost, path + "/advance", driver, nil, http.StatusOK},
		{http.MethodPost, path + "/advance", driver, nil, http.StatusOK},
		{http.MethodPost, path + "/locations", driver, map[string]any{"position": driverAt}, http.StatusCreated},
		{http.MethodPost, path + "/locations", other, map[string]any{"position": driverAt}, http.StatusForbidden},
		{http.MethodPost, path + "/advance", driver, nil, http.StatusOK},
		{http.MethodPost, path + "/advance", driver, map[string]string{"to": "arrived"}, http.StatusConflict},
		{http.MethodPost, path + "/cancel", passenger, nil, http.StatusConflict},
	}
	for _, s := range steps {
		if err := r.step(ctx, s.method, s.path, s.token, s.body, s.want); err != nil {
			return fail("%v", err)
		}
	}
	if err := r.step(ctx, http.MethodGet, path, passenger, nil, http.StatusOK, &o); err != nil {
		return fail("%v", err)
	}
	if o.Status != "completed" {
		return fail("final status %s", o.Status)
	}
	_ = r.step(ctx, http.MethodPut, "/api/drivers/me/presence", driver, map[string]any{"is_online": false}, http.StatusOK)
	return pass("order=%s", o.ID)
}

// acceptRace signs in cfg.Concurrency drivers and fires their accepts at
// once; exactly one must win and every loser must see 409.
func acceptRace(ctx context.Context, r *Runner) Result {
	passenger, err := r.signIn(ctx, "passenger")
	if err != nil {
		return fail("%v", err)
	}
	drivers := make([]string, r.cfg.Concurrency)
	for i := range drivers {
		if drivers[i], err = r.signIn(ctx, "driver"); err != nil {
			return fail("%v", err)
		}
	}
	var o orderView
	if err := r.step(ctx, http.MethodPost, "/api/orders", passenger, map[string]any{"pickup": pickup}, http.StatusCreated, &o); err != nil {
		return fail("%v", err)
	}
	defer func() {
		_ = r.step(context.Background(), http.MethodPost, "/api/orders/"+o.ID+"/cancel", passenger, nil, http.StatusOK)
	}()

	var won, lost, other atomic.Int64
	start := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	for _, tok := range drivers {
		tok := tok
		g.Go(func() error {
			<-start
			status, _, err := r.call(gctx, http.MethodPost, "/api/orders/"+o.ID+"/accept", tok, nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				won.Add(1)
			case http.StatusConflict:
				lost.Add(1)
			default:
				other.Add(1)
			}
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		return fail("%v", err)
	}
	if won.Load() != 1 || other.Load() != 0 {
		return fail("won=%d lost=%d other=%d", won.Load(), lost.Load(), other.Load())
	}
	return pass("won=1 lost=%d", lost.Load())
}

func presenceLoad(ctx context.Context, r *Runner) Result {
	tokens := make([]string, r.cfg.Concurrency)
	for i := range tokens {
		var err error
		if tokens[i], err = r.signIn(ctx, "driver"); err != nil {
			return fail("%v", err)
		}
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			loc := map[string]float64{"lat": driverAt["lat"] + float64(i)*1e-4, "lng": driverAt["lng"]}
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, err := r.call(ctx, http.MethodPut, "/api/drivers/me/presence", tok,
					map[string]any{"is_online": true, "location": loc})
				if err != nil || status != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
			_, _, _ = r.call(context.Background(), http.MethodPut, "/api/drivers/me/presence", tok, map[string]any{"is_online": false})
		}(i, tok)
	}
	wg.Wait()

	if count.Load() == 0 {
		return fail("no requests completed")
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return pass("rps=%.1f errors=%d", rps, errCount.Load())
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not set"}
	}
	for _, t := range []string{"orders", "order_state_events", "order_locations"} {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return fail("%v", err)
		}
		if !exists {
			return fail("missing table: %s", t)
		}
	}
	return pass("")
}
