package config

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tychoscope/internal/chain"
	"tychoscope/internal/feed"
	"tychoscope/internal/quote"
)

const (
	DefaultURL      = "tycho-beta.propellerheads.xyz"
	DefaultExchange = "uniswap_v2"
)

// Default probe quotes mainnet USDC for WETH.
const (
	DefaultProbeTokenIn  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	DefaultProbeTokenOut = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	URL             string
	AuthToken       string
	Chain           string
	Exchanges       []string
	ComponentIDs    []string
	MinTVL          *float64
	MaxTVL          *float64
	ExchangeFilters map[string]feed.Filter
	QueueSize       int
	ProbeAmount     string
	ProbeTokenIn    string
	ProbeTokenOut   string
	FeeBps          uint64
	RPCURL          string
	Out             string
	PGDSN           string
	RedisAddr       string
	RedisChannel    string
	LogLevel        string
	LogFile         string
}

// ReplayConfig adds the recorded input to Config.
type ReplayConfig struct {
	Config
	In string
}

// Probe is the validated probe swap.
type Probe struct {
	TokenIn  string
	TokenOut string
	Amount   *uint256.Int
}

type fileFilter struct {
	IDs    []string `mapstructure:"ids"`
	MinTVL *float64 `mapstructure:"min_tvl"`
	MaxTVL *float64 `mapstructure:"max_tvl"`
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	return fromViper(v)
}

// LoadReplay is Load plus the replay input path.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ReplayConfig{}, err
	}
	cfg, err := fromViper(v)
	if err != nil {
		return ReplayConfig{}, err
	}
	return ReplayConfig{Config: cfg, In: v.GetString("in")}, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("TYCHO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("url", DefaultURL)
	v.SetDefault("chain", string(chain.Ethereum))
	v.SetDefault("exchange", []string{DefaultExchange})
	v.SetDefault("queue-size", 64)
	v.SetDefault("probe-amount", "1000000")
	v.SetDefault("probe-token-in", DefaultProbeTokenIn)
	v.SetDefault("probe-token-out", DefaultProbeTokenOut)
	v.SetDefault("fee-bps", uint64(30))
	v.SetDefault("redis-channel", "tychoscope:reports")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		URL:           v.GetString("url"),
		AuthToken:     v.GetString("auth-token"),
		Chain:         strings.ToLower(v.GetString("chain")),
		Exchanges:     getStringSlice(v, "exchange"),
		ComponentIDs:  getStringSlice(v, "component-id"),
		MinTVL:        getFloat(v, "min-tvl"),
		MaxTVL:        getFloat(v, "max-tvl"),
		QueueSize:     v.GetInt("queue-size"),
		ProbeAmount:   v.GetString("probe-amount"),
		ProbeTokenIn:  v.GetString("probe-token-in"),
		ProbeTokenOut: v.GetString("probe-token-out"),
		FeeBps:        v.GetUint64("fee-bps"),
		RPCURL:        v.GetString("rpc"),
		Out:           v.GetString("out"),
		PGDSN:         v.GetString("pg-dsn"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisChannel:  v.GetString("redis-channel"),
		LogLevel:      v.GetString("log-level"),
		LogFile:       v.GetString("log-file"),
	}

	if v.IsSet("exchanges") {
		var raw map[string]fileFilter
		if err := v.UnmarshalKey("exchanges", &raw); err != nil {
			return Config{}, fmt.Errorf("parse exchanges: %w", err)
		}
		cfg.ExchangeFilters = make(map[string]feed.Filter, len(raw))
		for name, f := range raw {
			cfg.ExchangeFilters[name] = feed.Filter{IDs: cleanStrings(f.IDs), MinTVL: f.MinTVL, MaxTVL: f.MaxTVL}
		}
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := chain.ParseChain(c.Chain); err != nil {
		return err
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be greater than zero")
	}
	if c.FeeBps >= quote.FeeDenominator {
		return fmt.Errorf("fee bps must be below %d, got %d", quote.FeeDenominator, c.FeeBps)
	}
	if _, err := c.Filters(); err != nil {
		return err
	}
	if _, err := c.Probe(); err != nil {
		return err
	}
	return nil
}

// Filters returns the subscription filter per exchange. An entry in the config file
// exchanges map overrides the command-line filter for that exchange.
func (c Config) Filters() (map[string]feed.Filter, error) {
	ids, err := ParseComponentIDs(c.ComponentIDs)
	if err != nil {
		return nil, err
	}
	global := feed.Filter{IDs: ids, MinTVL: c.MinTVL, MaxTVL: c.MaxTVL}

	filters := make(map[string]feed.Filter)
	for _, name := range c.Exchanges {
		filters[name] = global
	}
	for name, f := range c.ExchangeFilters {
		f.IDs, err = ParseComponentIDs(f.IDs)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", name, err)
		}
		filters[name] = f
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("at least one exchange is required")
	}

	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := filters[name].Validate(); err != nil {
			return nil, fmt.Errorf("exchange %s: %w", name, err)
		}
	}
	return filters, nil
}

// Probe parses the probe swap settings. An empty amount disables the probe.
func (c Config) Probe() (Probe, error) {
	if strings.TrimSpace(c.ProbeAmount) == "" {
		return Probe{}, nil
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(c.ProbeAmount))
	if err != nil {
		return Probe{}, fmt.Errorf("invalid probe amount %q: %w", c.ProbeAmount, err)
	}
	tokens, err := ParseAddresses([]string{c.ProbeTokenIn, c.ProbeTokenOut})
	if err != nil {
		return Probe{}, fmt.Errorf("probe token: %w", err)
	}
	if len(tokens) != 2 {
		return Probe{}, fmt.Errorf("probe token in and out are required")
	}
	if tokens[0] == tokens[1] {
		return Probe{}, fmt.Errorf("probe token in and out must differ")
	}
	return Probe{TokenIn: tokens[0], TokenOut: tokens[1], Amount: amount}, nil
}

// ParseComponentIDs trims and lowercases component ids. Ids are opaque: a pool may be
// keyed by a contract address or by a 32-byte pool id, so only blanks and embedded
// whitespace are rejected.
func ParseComponentIDs(inputs []string) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	for _, input := range cleanStrings(inputs) {
		if strings.IndexFunc(input, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("invalid component id: %q", input)
		}
		ids = append(ids, strings.ToLower(input))
	}
	return ids, nil
}

// ParseAddresses validates hex addresses and returns them lowercased.
func ParseAddresses(inputs []string) ([]string, error) {
	addresses := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, strings.ToLower(common.HexToAddress(input).Hex()))
	}
	return addresses, nil
}

func getFloat(v *viper.Viper, key string) *float64 {
	if !v.IsSet(key) {
		return nil
	}
	val := v.GetFloat64(key)
	return &val
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
