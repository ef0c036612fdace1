package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tenderd/crypto"
	"tenderd/native/auction"
)

// Config captures the runtime configuration of a tenderd deployment: the RPC
// and gateway listen addresses, storage locations, collaborator endpoints,
// and the auction the instance is deployed with.
type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	GatewayAddress    string `toml:"GatewayAddress"`
	DataDir           string `toml:"DataDir"`
	MirrorDSN         string `toml:"MirrorDSN"`
	OwnerKeystorePath string `toml:"OwnerKeystorePath"`
	QualifierURL      string `toml:"QualifierURL"`
	QualifierAPIKey   string `toml:"QualifierAPIKey"`
	GatewayJWTSecret  string `toml:"GatewayJWTSecret"`

	Auction AuctionConfig `toml:"Auction"`
}

// AuctionConfig holds the deployment parameters of the procurement auction.
// Monetary values are decimal strings in the portal's fixed-point unit,
// durations are seconds.
type AuctionConfig struct {
	TotalBudget         string `toml:"TotalBudget"`
	MinimumBid          string `toml:"MinimumBid"`
	SafetyDepositAmount string `toml:"SafetyDepositAmount"`
	UnlockDuration      int64  `toml:"UnlockDuration"`
	GracePeriod         int64  `toml:"GracePeriod"`
	ContractDuration    int64  `toml:"ContractDuration"`
	MaxOfferors         uint64 `toml:"MaxOfferors"`
}

// PassphraseSource resolves the passphrase protecting the owner keystore.
type PassphraseSource func() (string, error)

// Option adjusts how Load resolves ancillary material such as keystores.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase PassphraseSource
}

// WithKeystorePassphraseSource supplies the passphrase used when generating
// or re-encrypting the owner keystore. Without it new keystores are written
// with an empty passphrase.
func WithKeystorePassphraseSource(source PassphraseSource) Option {
	return func(o *loadOptions) { o.passphrase = source }
}

func (o *loadOptions) resolvePassphrase() (string, error) {
	if o == nil || o.passphrase == nil {
		return "", nil
	}
	return o.passphrase()
}

// Load loads the configuration from the given path, creating a default file
// (and a fresh owner keystore) when none exists.
func Load(path string, opts ...Option) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine would refuse at deployment.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if cfg.Auction.UnlockDuration <= 0 {
		return fmt.Errorf("config: auction unlock duration must be positive")
	}
	if cfg.Auction.GracePeriod <= 0 || cfg.Auction.GracePeriod > auction.MaxGracePeriod {
		return fmt.Errorf("config: auction grace period must be in (0, 7 days]")
	}
	if cfg.Auction.ContractDuration <= 0 {
		return fmt.Errorf("config: auction contract duration must be positive")
	}
	for name, amount := range map[string]string{
		"TotalBudget":         cfg.Auction.TotalBudget,
		"MinimumBid":          cfg.Auction.MinimumBid,
		"SafetyDepositAmount": cfg.Auction.SafetyDepositAmount,
	} {
		if !validAmount(amount) {
			return fmt.Errorf("config: auction %s must be a non-negative integer string", name)
		}
	}
	return nil
}

func validAmount(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.GatewayAddress) == "" {
		cfg.GatewayAddress = ":8080"
	}
	if strings.TrimSpace(cfg.MirrorDSN) == "" {
		cfg.MirrorDSN = filepath.Join(cfg.DataDir, "mirror.db")
	}
}

func ensureKeystore(configPath string, cfg *Config, options *loadOptions) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		passphrase, passErr := options.resolvePassphrase()
		if passErr != nil {
			return passErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options *loadOptions) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	passphrase, err := options.resolvePassphrase()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        ":8545",
		GatewayAddress:    ":8080",
		DataDir:           "./tenderd-data",
		OwnerKeystorePath: keystorePath,
		Auction: AuctionConfig{
			TotalBudget:         "1000000000000000000000",
			MinimumBid:          "200000000000000000000",
			SafetyDepositAmount: "1000000000000000000",
			UnlockDuration:      7 * 24 * 60 * 60,
			GracePeriod:         24 * 60 * 60,
			ContractDuration:    90 * 24 * 60 * 60,
			MaxOfferors:         100,
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
