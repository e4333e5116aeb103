package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/config"
	"github.com/basin-labs/vase/internal/engine"
	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/manager"
	"github.com/basin-labs/vase/internal/oracle"
	"github.com/basin-labs/vase/internal/risk"
	"github.com/basin-labs/vase/internal/state"
	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/web"
)

const (
	PARAMS_CONFIG_NAME = "default"
	CYCLE_TIMEOUT      = 5 * time.Minute
)

// main is the entry point for the vault engine daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel, config.LogFormat)
	log.Info().Str("mode", config.EngineMode).Msg("Vault engine starting...")

	// Initialize database connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load engine parameters, seeding defaults on first boot.
	activeID, err := state.GetActiveEngineParametersID(PARAMS_CONFIG_NAME)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query active engine parameters")
	}
	var params *types.EngineParameters
	if activeID == nil {
		log.Warn().Msg("No active engine parameters found, seeding defaults.")
		defaultParams := config.DefaultEngineParameters
		paramsID, err := state.SaveEngineParameters(defaultParams, PARAMS_CONFIG_NAME, defaultParams.Version, true)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default engine parameters.")
		}
		defaultParams.ParamsID = paramsID
		params = &defaultParams
	} else {
		params, err = state.LoadActiveEngineParameters(PARAMS_CONFIG_NAME)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load active engine parameters")
		}
	}
	log.Info().Int64("params_id", params.ParamsID).Msg("Engine parameters loaded successfully.")

	// Load the strategy roster.
	manifest, err := config.LoadManifest(config.StrategyManifest)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy manifest")
	}
	log.Info().Int("slots", len(manifest.Slots)).Msg("Strategy manifest loaded.")

	// --- 2. Adapter and Oracle Initialization (with Safety Switch) ---
	registry := adapter.NewRegistry()
	var priceOracle oracle.PriceOracle

	if config.EngineMode == config.EngineModeLive {
		feed, err := oracle.NewHTTPFeed(config.PriceFeedURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize price feed")
		}
		priceOracle = feed

		if registry.BoundCount() == 0 {
			// Live adapters are bound out-of-tree; refusing to start beats
			// silently simulating with real capital expectations.
			log.Fatal().Msg("ENGINE_MODE is 'live' but no live adapters are registered. Halting to prevent accidental execution.")
		}
	} else {
		log.Warn().Msg("Initializing in SIM mode. All strategy adapters are simulated.")
		if err := registry.RegisterKind(adapter.SimKind, adapter.SimFactory); err != nil {
			log.Fatal().Err(err).Msg("Failed to register simulated adapter factory")
		}

		fixed := oracle.NewFixed()
		for _, slot := range manifest.Slots {
			if slot.Denom != "" && slot.Denom != config.BaseDenom {
				fixed.SetRate(slot.Denom, config.BaseDenom, sdkmath.LegacyOneDec())
			}
		}
		priceOracle = fixed
	}

	// --- 3. Engine Assembly ---
	mgr, err := manager.New(registry, priceOracle, config.BaseDenom, *params)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create strategy manager")
	}

	breaker, err := risk.NewBreaker(params.AggregateRiskCeilingBps, params.RiskReleaseBps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create risk breaker")
	}

	store := state.NewPostgresStore(PARAMS_CONFIG_NAME)
	hub := web.NewHub()

	eng, err := engine.New(engine.Config{
		BaseDenom:   config.BaseDenom,
		Params:      *params,
		ParamsID:    params.ParamsID,
		Manager:     mgr,
		Breaker:     breaker,
		Registry:    registry,
		Store:       store,
		ParamsStore: store,
		Sink:        hub,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault engine")
	}

	if err := restoreOrSeed(eng, mgr, registry, manifest); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore vault state")
	}

	proposals, err := state.LoadProposals()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load governance proposals")
	}
	eng.RestoreProposals(proposals)

	// --- 4. Web Server ---
	webServer := web.NewWebServer(strconv.Itoa(config.WebPort), eng, hub, config.OperatorToken)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Rebalance Cycle Schedule ---
	scheduler := cron.New()
	_, err = scheduler.AddFunc(config.RebalanceSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), CYCLE_TIMEOUT)
		defer cancel()
		if err := eng.RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("Rebalance cycle failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", config.RebalanceSchedule).Msg("Invalid rebalance schedule")
	}
	scheduler.Start()
	cycleNumber, err := state.GetCurrentCycleNumber()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read cycle counter")
	}
	log.Info().
		Str("schedule", config.RebalanceSchedule).
		Int("next_cycle", cycleNumber+1).
		Msg("Rebalance cycles scheduled")

	// --- 6. Wait for Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutdown signal received, stopping...")
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
}

// restoreOrSeed rehydrates the engine from the database, or registers the
// manifest roster on a fresh installation.
func restoreOrSeed(eng *engine.Engine, mgr *manager.Manager, registry *adapter.Registry, manifest *config.Manifest) error {
	vault, err := state.LoadVault()
	if err != nil {
		if err != sql.ErrNoRows {
			return err
		}

		// First boot: seed slots from the manifest.
		log.Info().Msg("No persisted vault state found, seeding from manifest.")
		for _, entry := range manifest.Slots {
			slot := entry.ToStrategySlot(config.BaseDenom)
			if err := registry.Bind(slot); err != nil {
				return err
			}
			if err := mgr.AddSlot(slot); err != nil {
				return err
			}
			if err := mgr.Activate(slot.StrategyID); err != nil {
				return err
			}
		}
		return nil
	}

	balances, err := state.LoadShareBalances()
	if err != nil {
		return err
	}
	slots, err := state.LoadSlots()
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if err := registry.Bind(slot); err != nil {
			return err
		}
	}
	if err := eng.Restore(*vault, balances, slots); err != nil {
		return err
	}
	log.Info().Int("slots", len(slots)).Int("holders", len(balances)).Msg("Vault state restored from database.")
	return nil
}
