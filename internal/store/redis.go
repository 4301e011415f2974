package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"candle-scanner/internal/models"
)

// RedisConfig configures the summary mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisMirror copies every published summary into Redis so dashboards can
// read it without touching the data directory.
type RedisMirror struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror connects and pings the server.
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "scanner"
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// SummaryKey is the key holding the latest summary of iv.
func SummaryKey(prefix string, iv models.Interval) string {
	return prefix + ":summary:" + iv.String()
}

// SummaryChannel is the pub/sub channel announcing a new summary of iv.
func SummaryChannel(prefix string, iv models.Interval) string {
	return "pub:" + prefix + ":summary:" + iv.String()
}

type summaryJSON struct {
	Ticker     string    `json:"ticker"`
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	EMA10      float64   `json:"ema_10"`
	EMA20      float64   `json:"ema_20"`
	EMA50      float64   `json:"ema_50"`
	EMA200     float64   `json:"ema_200"`
	RSI14      float64   `json:"rsi_14"`
	MACD       float64   `json:"macd"`
	MACDHist   float64   `json:"macd_hist"`
	MACDSignal float64   `json:"macd_signal"`
	ATR14      float64   `json:"atr_14"`
}

// EncodeSummary renders rows as the JSON document stored in Redis.
func EncodeSummary(rows []models.SummaryRow) ([]byte, error) {
	out := make([]summaryJSON, len(rows))
	for i, r := range rows {
		out[i] = summaryJSON{
			Ticker:     r.Ticker,
			Time:       r.Time.UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			EMA10:      r.EMA10,
			EMA20:      r.EMA20,
			EMA50:      r.EMA50,
			EMA200:     r.EMA200,
			RSI14:      r.RSI14,
			MACD:       r.MACD,
			MACDHist:   r.MACDHist,
			MACDSignal: r.MACDSignal,
			ATR14:      r.ATR14,
		}
	}
	return json.Marshal(out)
}

// MirrorSummary stores the summary and announces it in one round trip.
func (m *RedisMirror) MirrorSummary(ctx context.Context, iv models.Interval, rows []models.SummaryRow) error {
	data, err := EncodeSummary(rows)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, SummaryKey(m.prefix, iv), data, m.ttl)
	pipe.Publish(ctx, SummaryChannel(m.prefix, iv), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror %s: %w", iv, err)
	}
	return nil
}

// Client returns the underlying client for health checks.
func (m *RedisMirror) Client() *goredis.Client { return m.client }

// Close closes the connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
