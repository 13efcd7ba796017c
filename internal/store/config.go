package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"marketsync/internal/candles"
	"marketsync/internal/market"

	"gopkg.in/yaml.v3"
)

const (
	ProviderREST = "REST"
	ProviderKite = "KITE"

	ReconnectFixed       = "FIXED"
	ReconnectExponential = "EXPONENTIAL"
)

type Subscription struct {
	Symbol     string `yaml:"symbol"`
	Resolution string `yaml:"resolution"`
}

type Sparkline struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
	Limit    int    `yaml:"limit"`
}

type Config struct {
	Provider string `yaml:"provider"`
	REST     struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		HistoryPath    string `yaml:"history_path"`
		LatestPath     string `yaml:"latest_path"`
		OHLCPath       string `yaml:"ohlc_path"`
	} `yaml:"rest"`
	Stream struct {
		URL       string `yaml:"url"`
		Reconnect struct {
			Strategy   string  `yaml:"strategy"`
			DelayMS    int     `yaml:"delay_ms"`
			MaxDelayMS int     `yaml:"max_delay_ms"`
			Jitter     float64 `yaml:"jitter"`
		} `yaml:"reconnect"`
	} `yaml:"stream"`
	Poll struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"poll"`
	MarketHours struct {
		UTCOffsetMinutes int    `yaml:"utc_offset_minutes"`
		Open             string `yaml:"open"`
		Close            string `yaml:"close"`
	} `yaml:"market_hours"`
	History struct {
		Limit      int `yaml:"limit"`
		LabelCount int `yaml:"label_count"`
	} `yaml:"history"`
	Comparison struct {
		Intervals []string `yaml:"intervals"`
	} `yaml:"comparison"`
	Watchlist  []Subscription `yaml:"watchlist"`
	Sparklines []Sparkline    `yaml:"sparklines"`
	Server     struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Kite struct {
		Exchange    string            `yaml:"exchange"`
		Instruments map[string]uint32 `yaml:"instruments"`
		APIKey      string            `yaml:"-"`
		AccessToken string            `yaml:"-"`
	} `yaml:"kite"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderREST
	}
	c.Provider = strings.ToUpper(c.Provider)
	if c.REST.TimeoutSeconds == 0 {
		c.REST.TimeoutSeconds = 10
	}
	if c.REST.HistoryPath == "" {
		c.REST.HistoryPath = "/history"
	}
	if c.REST.LatestPath == "" {
		c.REST.LatestPath = "/latest"
	}
	if c.REST.OHLCPath == "" {
		c.REST.OHLCPath = "/ohlc"
	}
	if c.Stream.Reconnect.Strategy == "" {
		c.Stream.Reconnect.Strategy = ReconnectFixed
	}
	c.Stream.Reconnect.Strategy = strings.ToUpper(c.Stream.Reconnect.Strategy)
	if c.Stream.Reconnect.DelayMS == 0 {
		c.Stream.Reconnect.DelayMS = 3000
	}
	if c.Stream.Reconnect.MaxDelayMS == 0 {
		c.Stream.Reconnect.MaxDelayMS = 30000
	}
	if c.Poll.IntervalSeconds == 0 {
		c.Poll.IntervalSeconds = 60
	}
	if c.MarketHours.UTCOffsetMinutes == 0 {
		c.MarketHours.UTCOffsetMinutes = 330
	}
	if c.MarketHours.Open == "" {
		c.MarketHours.Open = "09:15"
	}
	if c.MarketHours.Close == "" {
		c.MarketHours.Close = "15:30"
	}
	if c.History.Limit == 0 {
		c.History.Limit = 300
	}
	if c.History.LabelCount == 0 {
		c.History.LabelCount = candles.DefaultLabelCount
	}
	if len(c.Comparison.Intervals) == 0 {
		c.Comparison.Intervals = []string{"5m", "15m", "1H", "1D"}
	}
	for i := range c.Sparklines {
		if c.Sparklines[i].Limit == 0 {
			c.Sparklines[i].Limit = 30
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Kite.Exchange == "" {
		c.Kite.Exchange = "NSE"
	}
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MARKETSYNC_REST_BASE_URL"); v != "" {
		c.REST.BaseURL = v
	}
	if v := os.Getenv("MARKETSYNC_STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("MARKETSYNC_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	c.Kite.APIKey = os.Getenv("KITE_API_KEY")
	c.Kite.AccessToken = os.Getenv("KITE_ACCESS_TOKEN")
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderREST:
		if c.REST.BaseURL == "" {
			return errors.New("rest.base_url cannot be empty for provider REST")
		}
		if c.Stream.URL == "" {
			return errors.New("stream.url cannot be empty for provider REST")
		}
	case ProviderKite:
		if c.Kite.APIKey == "" || c.Kite.AccessToken == "" {
			return errors.New("KITE_API_KEY and KITE_ACCESS_TOKEN must be set for provider KITE")
		}
	default:
		return fmt.Errorf("invalid provider '%s': must be 'REST' or 'KITE'", c.Provider)
	}

	if c.Stream.Reconnect.Strategy != ReconnectFixed && c.Stream.Reconnect.Strategy != ReconnectExponential {
		return fmt.Errorf("stream.reconnect.strategy must be 'FIXED' or 'EXPONENTIAL', got '%s'", c.Stream.Reconnect.Strategy)
	}
	if c.Stream.Reconnect.Jitter < 0 || c.Stream.Reconnect.Jitter > 1 {
		return fmt.Errorf("stream.reconnect.jitter must be between 0-1, got %.2f", c.Stream.Reconnect.Jitter)
	}
	if c.Stream.Reconnect.MaxDelayMS < c.Stream.Reconnect.DelayMS {
		return fmt.Errorf("stream.reconnect.max_delay_ms (%d) is below delay_ms (%d)", c.Stream.Reconnect.MaxDelayMS, c.Stream.Reconnect.DelayMS)
	}
	if c.Poll.IntervalSeconds < 1 {
		return fmt.Errorf("poll.interval_seconds must be positive, got %d", c.Poll.IntervalSeconds)
	}
	if c.History.Limit < 2 {
		return fmt.Errorf("history.limit must be at least 2, got %d", c.History.Limit)
	}
	if _, err := c.Hours(); err != nil {
		return fmt.Errorf("market_hours: %w", err)
	}
	for _, iv := range c.Comparison.Intervals {
		if _, err := candles.LookupResolution(iv); err != nil {
			return fmt.Errorf("comparison.intervals: %w", err)
		}
	}
	for _, w := range c.Watchlist {
		if w.Symbol == "" {
			return errors.New("watchlist entries need a symbol")
		}
		if _, err := candles.LookupResolution(w.Resolution); err != nil {
			return fmt.Errorf("watchlist %s: %w", w.Symbol, err)
		}
	}
	for _, s := range c.Sparklines {
		if s.Symbol == "" {
			return errors.New("sparkline entries need a symbol")
		}
		if _, err := candles.LookupResolution(s.Interval); err != nil {
			return fmt.Errorf("sparkline %s: %w", s.Symbol, err)
		}
	}
	return nil
}

// Hours builds the market-hours predicate from the market_hours section.
func (c *Config) Hours() (market.Hours, error) {
	return market.NewHours(c.MarketHours.Open, c.MarketHours.Close, c.MarketHours.UTCOffsetMinutes)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.Reconnect.DelayMS) * time.Millisecond
}

func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Stream.Reconnect.MaxDelayMS) * time.Millisecond
}

func (c *Config) RESTTimeout() time.Duration {
	return time.Duration(c.REST.TimeoutSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, applies defaults and env overrides, and validates.
func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
