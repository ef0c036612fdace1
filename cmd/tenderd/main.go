package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tenderd/cmd/internal/passphrase"
	"tenderd/config"
	"tenderd/core/events"
	"tenderd/crypto"
	"tenderd/gateway"
	gwmiddleware "tenderd/gateway/middleware"
	"tenderd/native/auction"
	"tenderd/observability/logging"
	"tenderd/rpc"
	"tenderd/services/mirror"
	"tenderd/services/qualifier"
	"tenderd/state"
	"tenderd/storage"
)

const ownerPassEnv = "TENDERD_OWNER_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TENDERD_ENV"))
	logger := logging.Setup("tenderd", env)

	passSource := passphrase.NewSource(ownerPassEnv)

	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	auctionState, err := state.NewAuctionState(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to open auction state: %v", err))
	}

	ownerKey, err := loadOwnerKey(cfg, passSource.Get)
	if err != nil {
		panic(fmt.Sprintf("Failed to load owner key: %v", err))
	}
	ownerAddr := ownerKey.PubKey().Address()

	mirrorDB, err := mirror.Open(cfg.MirrorDSN)
	if err != nil {
		panic(fmt.Sprintf("Failed to open mirror store: %v", err))
	}

	vault, err := auctionState.VaultAddress()
	if err != nil {
		panic(fmt.Sprintf("Failed to derive vault address: %v", err))
	}
	auctionAddr := crypto.NewAddress(crypto.TNDPrefix, vault[:]).String()

	recorder := mirror.NewRecorder(mirrorDB, auctionAddr, logger)

	engine := auction.NewEngine()
	engine.SetState(auctionState)
	engine.SetEmitter(events.MultiEmitter{recorder, logEmitter{logger: logger}})

	params, err := auctionParams(cfg, ownerAddr)
	if err != nil {
		panic(fmt.Sprintf("Invalid auction parameters: %v", err))
	}
	deployed, err := engine.Deploy(params)
	if err != nil {
		panic(fmt.Sprintf("Failed to deploy auction: %v", err))
	}

	logger.Info("auction ready",
		slog.String("address", auctionAddr),
		slog.String("owner", ownerAddr.String()),
		slog.Int64("unlockTime", deployed.UnlockTime),
		slog.Int64("gracePeriodEnd", deployed.GracePeriodEnd),
	)

	var qual *qualifier.Client
	if strings.TrimSpace(cfg.QualifierURL) != "" {
		qual, err = qualifier.NewClient(qualifier.Config{
			BaseURL: cfg.QualifierURL,
			APIKey:  cfg.QualifierAPIKey,
			Timeout: 30 * time.Second,
		})
		if err != nil {
			panic(fmt.Sprintf("Failed to configure qualifier client: %v", err))
		}
	}

	gatewaySrv := gateway.NewServer(gateway.Config{
		Address: cfg.GatewayAddress,
		Auth: gwmiddleware.AuthConfig{
			Enabled:    strings.TrimSpace(cfg.GatewayJWTSecret) != "",
			HMACSecret: cfg.GatewayJWTSecret,
			Issuer:     "tenderd",
		},
		RateLimit: gwmiddleware.RateLimitConfig{
			Enabled: true,
		},
	}, mirror.NewStore(mirrorDB), qual, log.Default())

	go func() {
		logger.Info("gateway listening", slog.String("address", cfg.GatewayAddress))
		if err := gatewaySrv.Start(); err != nil {
			logger.Error("gateway server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	rpcSrv := rpc.NewServer(engine)
	logger.Info("rpc listening", slog.String("address", cfg.RPCAddress))
	if err := rpcSrv.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadOwnerKey(cfg *config.Config, pass func() (string, error)) (*crypto.PrivateKey, error) {
	passphraseValue, err := pass()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(cfg.OwnerKeystorePath, passphraseValue)
}

func auctionParams(cfg *config.Config, owner crypto.Address) (auction.Params, error) {
	totalBudget, err := parseAmount(cfg.Auction.TotalBudget)
	if err != nil {
		return auction.Params{}, fmt.Errorf("total budget: %w", err)
	}
	minimumBid, err := parseAmount(cfg.Auction.MinimumBid)
	if err != nil {
		return auction.Params{}, fmt.Errorf("minimum bid: %w", err)
	}
	deposit, err := parseAmount(cfg.Auction.SafetyDepositAmount)
	if err != nil {
		return auction.Params{}, fmt.Errorf("safety deposit: %w", err)
	}
	params := auction.Params{
		TotalBudget:         totalBudget,
		MinimumBid:          minimumBid,
		SafetyDepositAmount: deposit,
		UnlockDuration:      cfg.Auction.UnlockDuration,
		GracePeriod:         cfg.Auction.GracePeriod,
		ContractDuration:    cfg.Auction.ContractDuration,
		MaxOfferors:         cfg.Auction.MaxOfferors,
	}
	copy(params.Owner[:], owner.Bytes())
	return params, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// logEmitter writes every engine event to the structured log alongside the
// mirror recorder.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	l.logger.Info("auction event", slog.String("type", evt.EventType()))
}
