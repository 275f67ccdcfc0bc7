// worker es el proceso de fondo del ciclo de cumplimiento fiscal: barre los
// reintentos de validación vencidos, purga registros antiguos y emite el
// reporte agregado diario. No expone HTTP; se opera por señales y logs.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/fiscal-api/internal/application/compliance"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	"github.com/jhoicas/fiscal-api/internal/domain/tax"
	infradian "github.com/jhoicas/fiscal-api/internal/infrastructure/dian"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/memorystore"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/postgres"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/redisstore"
	"github.com/jhoicas/fiscal-api/pkg/config"
	"github.com/jhoicas/fiscal-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.Store.Driver).
		Str("dian_env", cfg.DIAN.AppEnv).
		Msg("iniciando worker de cumplimiento fiscal")

	// Tabla de reglas: archivo de vigencia alternativa o la DIAN 2025 embebida.
	rules, err := loadRules(cfg.Rules.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("cargar reglas tributarias")
	}
	log.Info().Str("version", rules.Version).Str("uvt", rules.UVTValue.String()).Msg("reglas tributarias cargadas")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, backups, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar almacén de registros")
	}
	defer cleanup()

	gateway, err := buildGateway(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar pasarela de validación")
	}

	manager := compliance.NewResilienceManager(records, backups, gateway, nil, compliance.Config{
		MaxRetries:     cfg.Compliance.MaxRetries,
		BaseRetryDelay: cfg.Compliance.BaseRetryDelay,
		GatewayTimeout: cfg.Compliance.GatewayTimeout,
	}, log.Component("manager"))

	scheduler := compliance.NewScheduler(manager, compliance.SchedulerConfig{
		SweepInterval: cfg.Compliance.SweepInterval,
		PurgeInterval: cfg.Compliance.PurgeInterval,
		PurgeAge:      time.Duration(cfg.Compliance.PurgeAgeDays) * 24 * time.Hour,
	}, log.Component("scheduler"))

	scheduler.Run(ctx)
	log.Info().Msg("worker detenido")
}

func loadRules(path string) (*tax.RuleConfig, error) {
	if path != "" {
		return tax.LoadFromFile(path)
	}
	rules := tax.DefaultConfig()
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// buildStores selecciona el backend de persistencia según configuración.
func buildStores(ctx context.Context, cfg *config.Config) (repository.ComplianceRecordStore, repository.FactsBackupStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, nil, nil, err
		}
		return postgres.NewComplianceRecordRepository(pool),
			postgres.NewFactsBackupRepository(pool),
			pool.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		records, err := redisstore.NewRecordStore(ctx, client)
		if err != nil {
			return nil, nil, nil, err
		}
		return records, redisstore.NewBackupStore(client),
			func() { _ = client.Close() }, nil

	default: // memory (validado en config)
		return memorystore.NewStore(), memorystore.NewBackupStore(), func() {}, nil
	}
}

// buildGateway selecciona la pasarela: simulada en dev, WS real en test/prod.
func buildGateway(cfg *config.Config) (compliance.ValidationGateway, error) {
	if cfg.DIAN.AppEnv == infradian.AppEnvDev {
		return infradian.NewSimulatedGateway(cfg.DIAN.SoftwareID), nil
	}
	return infradian.NewSOAPGateway(cfg.DIAN.AppEnv, cfg.DIAN.SoftwareID)
}
