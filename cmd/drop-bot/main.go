package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"geodrop/internal/observability"

	"github.com/gorilla/websocket"
)

// drop-bot is a smoke client. It registers an account, logs in over the
// REST API, binds a websocket session to a block and periodically posts
// and retrieves messages there. Useful for exercising a running server
// and for seeding demo data.

type botConfig struct {
	serverURL string
	wsURL     string
	username  string
	password  string
	lat       float64
	long      float64
	interval  time.Duration
}

func loadBotConfig() botConfig {
	cfg := botConfig{
		serverURL: getEnv("SERVER_URL", "http://localhost:8080"),
		wsURL:     getEnv("WS_URL", "ws://localhost:8080/ws"),
		username:  getEnv("BOT_USERNAME", "drop_bot"),
		password:  getEnv("BOT_PASSWORD", "drop-bot-password"),
		lat:       getEnvFloat("BOT_LAT", 40.4168),
		long:      getEnvFloat("BOT_LONG", -3.7038),
		interval:  10 * time.Second,
	}
	if v := os.Getenv("BOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.interval = d
		}
	}
	return cfg
}

func main() {
	cfg := loadBotConfig()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "text"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting drop bot",
		slog.String("server", cfg.serverURL),
		slog.Float64("lat", cfg.lat),
		slog.Float64("long", cfg.long))

	token, err := login(cfg)
	if err != nil {
		slog.Error("login failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("logged in", slog.String("username", cfg.username))

	conn, _, err := websocket.DefaultDialer.Dial(cfg.wsURL, nil)
	if err != nil {
		slog.Error("websocket dial failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	bind := map[string]any{"lat": cfg.lat, "long": cfg.long, "token": token}
	if err := conn.WriteJSON(bind); err != nil {
		slog.Error("bind failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Log every frame the server pushes, notifications included.
	go func() {
		for {
			var frame struct {
				Category string          `json:"category"`
				Data     json.RawMessage `json:"data"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				slog.Info("connection closed", slog.String("error", err.Error()))
				cancel()
				return
			}
			slog.Info("server frame",
				slog.String("category", frame.Category),
				slog.String("data", string(frame.Data)))
		}
	}()

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			slog.Info("shutting down drop bot")
			_ = conn.WriteJSON(map[string]any{"category": 9})
			time.Sleep(500 * time.Millisecond)
			return
		case <-ctx.Done():
			slog.Info("drop bot stopped")
			return
		case <-ticker.C:
			var req map[string]any
			if rand.Intn(3) == 0 {
				req = map[string]any{"category": 2, "page": 1}
			} else {
				req = map[string]any{"category": 0, "data": randomDrop()}
			}
			if err := conn.WriteJSON(req); err != nil {
				slog.Error("write failed", slog.String("error", err.Error()))
				cancel()
			}
		}
	}
}

// login registers the bot account if needed and returns a session token.
func login(cfg botConfig) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	regBody, _ := json.Marshal(map[string]string{
		"username": cfg.username,
		"email":    cfg.username + "@geodrop.local",
		"password": cfg.password,
	})
	resp, err := client.Post(cfg.serverURL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
	if err != nil {
		return "", fmt.Errorf("register request: %w", err)
	}
	resp.Body.Close()
	// 409 means the account already exists, which is fine for a bot.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return "", fmt.Errorf("register returned status %d", resp.StatusCode)
	}

	loginBody, _ := json.Marshal(map[string]string{
		"username": cfg.username,
		"password": cfg.password,
	})
	resp, err = client.Post(cfg.serverURL+"/api/v1/auth/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if loginResp.Token == "" {
		return "", fmt.Errorf("login response missing token")
	}
	return loginResp.Token, nil
}

var dropPhrases = []string{
	"Best coffee on this street is the cart by the fountain.",
	"The bakery gives away day-old bread after 8pm.",
	"Someone plays cello in the underpass on Thursdays.",
	"Skip the main entrance, the side door has no queue.",
	"The rooftop bar here does not check for reservations before 6.",
	"Free wifi password at the corner cafe is the street name.",
	"The bench under the big oak has the best sunset view.",
	"Farmers market moves to the north lot when it rains.",
	"Ask for the off-menu lemonade at the kiosk.",
	"The mural in the alley changes every month.",
}

func randomDrop() string {
	phrase := dropPhrases[rand.Intn(len(dropPhrases))]
	return fmt.Sprintf("%s (drop %d)", phrase, rand.Intn(1000))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
