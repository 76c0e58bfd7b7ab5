package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/clydemeng/forksim/api"
	"github.com/clydemeng/forksim/session"
)

// Environment variables understood by the service. Empty values count as
// unset.
const (
	envPort           = "PORT"
	envForkURL        = "FORK_URL"
	envEtherscanKey   = "ETHERSCAN_KEY"
	envAPIKey         = "API_KEY"
	envMaxRequestSize = "MAX_REQUEST_SIZE"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "HTTP listening port",
		Value: defaultConfig.Port,
	}
	forkURLFlag = &cli.StringFlag{
		Name:  "fork.url",
		Usage: "Fork every chain from this RPC endpoint instead of the built-in table",
	}
	chainEndpointFlag = &cli.StringSliceFlag{
		Name:  "chain.endpoint",
		Usage: "Per-chain RPC endpoint as <chainid>=<url>; an empty url disables the chain",
	}
	etherscanKeyFlag = &cli.StringFlag{
		Name:  "etherscan.key",
		Usage: "Etherscan API key used to name contracts in formatted traces",
	}
	apiKeyFlag = &cli.StringFlag{
		Name:  "api.key",
		Usage: "Require this value in the X-API-KEY header",
	}
	maxRequestSizeFlag = &cli.Int64Flag{
		Name:  "http.maxrequestsize",
		Usage: "Maximum request body size in KiB",
		Value: defaultConfig.MaxRequestSize,
	}
	corsDomainFlag = &cli.StringFlag{
		Name:  "http.corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests",
	}
	metricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and the prometheus endpoint",
	}
	devFlag = &cli.BoolFlag{
		Name:  "dev",
		Usage: "Fork from a local pre-funded ledger instead of remote endpoints",
	}
	cacheFlag = &cli.IntFlag{
		Name:  "cache",
		Usage: "Megabytes of memory allocated to caching remote reads (0 disables)",
		Value: defaultConfig.CacheSize,
	}
	dialRetriesFlag = &cli.Uint64Flag{
		Name:  "fork.retries",
		Usage: "Number of retries when opening a fork fails",
		Value: defaultConfig.DialRetries,
	}
	sessionIdleFlag = &cli.DurationFlag{
		Name:  "session.idletimeout",
		Usage: "Destroy stateful sessions unused for this long (0 keeps them until deleted)",
	}
	sessionMaxFlag = &cli.IntFlag{
		Name:  "session.max",
		Usage: "Maximum number of live stateful sessions (0 is unbounded)",
	}

	configFlags = []cli.Flag{
		configFileFlag,
		portFlag,
		forkURLFlag,
		chainEndpointFlag,
		etherscanKeyFlag,
		apiKeyFlag,
		maxRequestSizeFlag,
		corsDomainFlag,
		metricsFlag,
		devFlag,
		cacheFlag,
		dialRetriesFlag,
		sessionIdleFlag,
		sessionMaxFlag,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type forksimConfig struct {
	Port         int
	ForkURL      string `toml:",omitempty"`
	EtherscanKey string `toml:",omitempty"`
	APIKey       string `toml:",omitempty"`
	// MaxRequestSize is in KiB.
	MaxRequestSize int64
	CorsDomains    []string `toml:",omitempty"`
	Metrics        bool
	Dev            bool
	// CacheSize is in MiB.
	CacheSize   int
	DialRetries uint64
	// Endpoints overrides the built-in chain table, keyed by decimal chain id.
	Endpoints map[string]string `toml:",omitempty"`
	Session   session.Config
}

var defaultConfig = forksimConfig{
	Port:           8080,
	MaxRequestSize: api.DefaultMaxRequestSize / 1024,
	CacheSize:      64,
	DialRetries:    3,
}

// loadConfig builds the configuration from defaults, the TOML file, the
// environment and the command line, in that order.
func loadConfig(ctx *cli.Context) (forksimConfig, error) {
	cfg := defaultConfig
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return cfg, err
		}
	}
	envVarsOverride(&cfg)
	if err := cmdLineOverride(ctx, &cfg); err != nil {
		return cfg, err
	}
	return cfg, validateConfig(&cfg)
}

func loadConfigFile(file string, cfg *forksimConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func getEnv(name string) (string, bool) {
	v := os.Getenv(name)
	return v, v != ""
}

// envVarsOverride applies the environment. Numeric values that do not parse
// are ignored.
func envVarsOverride(cfg *forksimConfig) {
	if v, ok := getEnv(envPort); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := getEnv(envForkURL); ok {
		cfg.ForkURL = v
	}
	if v, ok := getEnv(envEtherscanKey); ok {
		cfg.EtherscanKey = v
	}
	if v, ok := getEnv(envAPIKey); ok {
		cfg.APIKey = v
	}
	if v, ok := getEnv(envMaxRequestSize); ok {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxRequestSize = size
		}
	}
}

func cmdLineOverride(ctx *cli.Context, cfg *forksimConfig) error {
	if ctx.IsSet(portFlag.Name) {
		cfg.Port = ctx.Int(portFlag.Name)
	}
	if ctx.IsSet(forkURLFlag.Name) {
		cfg.ForkURL = ctx.String(forkURLFlag.Name)
	}
	if ctx.IsSet(etherscanKeyFlag.Name) {
		cfg.EtherscanKey = ctx.String(etherscanKeyFlag.Name)
	}
	if ctx.IsSet(apiKeyFlag.Name) {
		cfg.APIKey = ctx.String(apiKeyFlag.Name)
	}
	if ctx.IsSet(maxRequestSizeFlag.Name) {
		cfg.MaxRequestSize = ctx.Int64(maxRequestSizeFlag.Name)
	}
	if ctx.IsSet(corsDomainFlag.Name) {
		cfg.CorsDomains = splitAndTrim(ctx.String(corsDomainFlag.Name))
	}
	if ctx.IsSet(metricsFlag.Name) {
		cfg.Metrics = ctx.Bool(metricsFlag.Name)
	}
	if ctx.IsSet(devFlag.Name) {
		cfg.Dev = ctx.Bool(devFlag.Name)
	}
	if ctx.IsSet(cacheFlag.Name) {
		cfg.CacheSize = ctx.Int(cacheFlag.Name)
	}
	if ctx.IsSet(dialRetriesFlag.Name) {
		cfg.DialRetries = ctx.Uint64(dialRetriesFlag.Name)
	}
	if ctx.IsSet(sessionIdleFlag.Name) {
		cfg.Session.IdleTimeout = ctx.Duration(sessionIdleFlag.Name)
	}
	if ctx.IsSet(sessionMaxFlag.Name) {
		cfg.Session.MaxSessions = ctx.Int(sessionMaxFlag.Name)
	}
	for _, entry := range ctx.StringSlice(chainEndpointFlag.Name) {
		id, url, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid --%s entry %q, want <chainid>=<url>", chainEndpointFlag.Name, entry)
		}
		if cfg.Endpoints == nil {
			cfg.Endpoints = make(map[string]string)
		}
		cfg.Endpoints[strings.TrimSpace(id)] = strings.TrimSpace(url)
	}
	return nil
}

func validateConfig(cfg *forksimConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxRequestSize <= 0 {
		return fmt.Errorf("invalid max request size %d KiB", cfg.MaxRequestSize)
	}
	if cfg.Session.IdleTimeout < 0 {
		return fmt.Errorf("invalid session idle timeout %v", cfg.Session.IdleTimeout)
	}
	_, err := cfg.endpoints()
	return err
}

// endpoints parses the chain table overrides.
func (c *forksimConfig) endpoints() (map[uint64]string, error) {
	out := make(map[uint64]string, len(c.Endpoints))
	for key, url := range c.Endpoints {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q in endpoints", key)
		}
		out[id] = url
	}
	return out, nil
}

func splitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	_, err = dump.Write(out)
	return err
}
