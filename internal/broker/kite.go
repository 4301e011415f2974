package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

// KiteConfig holds Kite Connect credentials.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	// TokenPath is read for an access token when AccessToken is empty.
	TokenPath string
	Exchange  models.Exchange
}

// Kite serves candles and instruments from Kite Connect.
type Kite struct {
	client   *kiteconnect.Client
	exchange models.Exchange

	mu          sync.RWMutex
	accessToken string
}

// sessionData is the session file written by the login tooling.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewKite creates a client. It fails when no access token is available.
func NewKite(cfg KiteConfig) (*Kite, error) {
	if cfg.APIKey == "" {
		return nil, errors.NewValidationError("kite.api_key", "", "must not be empty")
	}
	token := cfg.AccessToken
	if token == "" && cfg.TokenPath != "" {
		var err error
		if token, err = loadSession(cfg.TokenPath); err != nil {
			return nil, errors.Wrap(errors.ErrNotAuthenticated, err.Error())
		}
	}
	if token == "" {
		return nil, errors.ErrNotAuthenticated
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = models.NSE
	}

	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(token)
	return &Kite{client: client, exchange: exchange, accessToken: token}, nil
}

func loadSession(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return "", err
	}
	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		return "", fmt.Errorf("session expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	return session.AccessToken, nil
}

// AccessToken returns the token the client was created with.
func (k *Kite) AccessToken() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.accessToken
}

// kiteIntervals maps native intervals to the historical API's names.
// Weekly and monthly candles are resampled from daily ones.
var kiteIntervals = map[models.Interval]string{
	models.Interval1m:  "minute",
	models.Interval5m:  "5minute",
	models.Interval15m: "15minute",
	models.Interval30m: "30minute",
	models.Interval1h:  "60minute",
	models.Interval1d:  "day",
	models.Interval1w:  "day",
	models.Interval1mo: "day",
}

// maxSpan is the longest window the historical API serves in one request.
var maxSpan = map[string]time.Duration{
	"minute":   60 * 24 * time.Hour,
	"5minute":  100 * 24 * time.Hour,
	"15minute": 200 * 24 * time.Hour,
	"30minute": 200 * 24 * time.Hour,
	"60minute": 400 * 24 * time.Hour,
	"day":      2000 * 24 * time.Hour,
}

// Chunks splits [from, to] into spans the API accepts.
func Chunks(from, to time.Time, span time.Duration) [][2]time.Time {
	var out [][2]time.Time
	for start := from; start.Before(to); start = start.Add(span) {
		end := start.Add(span)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{start, end})
	}
	return out
}

// GetCandles fetches one window. Errors are classified for the fetcher.
func (k *Kite) GetCandles(ctx context.Context, inst models.Instrument, iv models.Interval, from, to time.Time) ([]models.Candle, error) {
	name, ok := kiteIntervals[iv]
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("%w: %s", errors.ErrUnknownInterval, iv))
	}
	if from.After(to) {
		return nil, nil
	}
	if iv == models.Interval1w || iv == models.Interval1mo {
		from = BucketStart(from, iv)
	}

	var candles []models.Candle
	for _, w := range Chunks(from, to, maxSpan[name]) {
		page, err := k.historical(ctx, inst.Token, name, w[0], w[1])
		if err != nil {
			return nil, err
		}
		candles = append(candles, page...)
	}
	sortCandles(candles)

	if iv == models.Interval1w || iv == models.Interval1mo {
		candles = Resample(candles, iv)
	}
	return candles, nil
}

func (k *Kite) historical(ctx context.Context, token uint32, interval string, from, to time.Time) ([]models.Candle, error) {
	type reply struct {
		data []kiteconnect.HistoricalData
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		data, err := k.client.GetHistoricalData(int(token), interval, from.In(ist), to.In(ist), false, false)
		done <- reply{data, err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, Classify(r.err)
	}

	candles := make([]models.Candle, 0, len(r.data))
	for _, d := range r.data {
		candles = append(candles, models.Candle{
			Time:   d.Date.Time.UTC(),
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: float64(d.Volume),
		})
	}
	return candles, nil
}

// Classify maps a Kite error to the engine's failure kinds.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		var perr *kiteconnect.Error
		if !errors.As(err, &perr) || perr == nil {
			return errors.Transient(err)
		}
		kerr = *perr
	}

	switch {
	case kerr.Code == 429 || strings.Contains(strings.ToLower(kerr.Message), "too many requests"):
		return errors.RateLimited(err)
	case kerr.ErrorType == "TokenException":
		return errors.Fatal(errors.Join(errors.ErrNotAuthenticated, err))
	case kerr.ErrorType == "PermissionException", kerr.ErrorType == "InputException":
		return errors.Fatal(err)
	}
	return errors.Transient(err)
}

// Instruments lists the instruments of the configured exchange.
func (k *Kite) Instruments(ctx context.Context) ([]models.Instrument, error) {
	type reply struct {
		data []kiteconnect.Instrument
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		data, err := k.client.GetInstruments()
		done <- reply{data, err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to get instruments: %w", Classify(r.err))
	}

	var out []models.Instrument
	for _, inst := range r.data {
		if inst.Exchange != string(k.exchange) {
			continue
		}
		out = append(out, models.Instrument{
			Ticker:   inst.Tradingsymbol,
			Token:    uint32(inst.InstrumentToken),
			Exchange: models.Exchange(inst.Exchange),
			Currency: "INR",
		})
	}
	return out, nil
}
