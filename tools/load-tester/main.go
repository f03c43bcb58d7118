package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/pkg/auth"
)

// Opens many websocket sessions for one tenant, publishes role-targeted
// events through the internal endpoint and reports how many arrived.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the server")
	tenant := flag.String("tenant", "alpha", "Tenant name embedded in the session tokens")
	secret := flag.String("jwt-secret", "dev-secret", "HMAC secret used to sign session tokens")
	serviceToken := flag.String("service-token", "dev-service-token", "Shared secret for /internal/events")
	sessions := flag.Int("sessions", 100, "Number of concurrent websocket sessions")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 50, "Published events per second")
	flag.Parse()

	base, err := url.Parse(*baseURL)
	if err != nil {
		log.Fatalf("invalid url: %v", err)
	}
	wsBase := *base
	wsBase.Scheme = "ws"
	if base.Scheme == "https" {
		wsBase.Scheme = "wss"
	}
	wsBase.Path = "/ws"

	log.Printf("Starting load test on %s", base)
	log.Printf("Sessions: %d, Duration: %s, RPS: %d", *sessions, *duration, *rps)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var wg sync.WaitGroup
	var connected, received, connectErrors atomic.Int64

	for i := 0; i < *sessions; i++ {
		id := domain.Identity{UserID: int64(i + 1), Role: domain.RoleParent, Tenant: domain.TenantByName(*tenant)}
		token, err := auth.Issue(id, *secret, "", *duration+time.Minute)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}

		u := wsBase
		u.RawQuery = url.Values{"token": {token}}.Encode()

		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				connectErrors.Add(1)
				return
			}
			resp.Body.Close()
			connected.Add(1)

			go func() {
				<-ctx.Done()
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				received.Add(1)
			}
		}()
	}

	// Give sessions a moment to register before publishing.
	time.Sleep(time.Second)

	var published, publishErrors atomic.Int64
	limiter := rate.NewLimiter(rate.Limit(*rps), 10)
	client := &http.Client{Timeout: 5 * time.Second}
	publishURL := base.JoinPath("/internal/events").String()

	for ctx.Err() == nil {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		body, _ := json.Marshal(map[string]any{
			"tenant":  *tenant,
			"target":  domain.Target{Kind: domain.TargetRole, Name: string(domain.RoleParent)},
			"event":   "load_test",
			"payload": map[string]string{"id": uuid.NewString(), "sent_at": time.Now().Format(time.RFC3339Nano)},
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, publishURL, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Service-Token", *serviceToken)

		resp, err := client.Do(req)
		if err != nil {
			publishErrors.Add(1)
			continue
		}
		if resp.StatusCode == http.StatusAccepted {
			published.Add(1)
		} else {
			publishErrors.Add(1)
		}
		resp.Body.Close()
	}

	wg.Wait()

	expected := published.Load() * connected.Load()
	log.Println("Load test finished.")
	log.Printf("Sessions connected: %d (errors: %d)", connected.Load(), connectErrors.Load())
	log.Printf("Events published: %d (errors: %d)", published.Load(), publishErrors.Load())
	log.Printf("Events received: %d of %d expected (%s)", received.Load(), expected, ratio(received.Load(), expected))
}

func ratio(got, want int64) string {
	if want == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(got)/float64(want))
}
