package stator

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/statorhq/stator/internal/config"
	"github.com/statorhq/stator/internal/controllers"
	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/migrations"
	"github.com/statorhq/stator/internal/repository"
	"github.com/statorhq/stator/internal/steps"
	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

// StepRegistry maps state types to step factories. Callers register their
// own step implementations before invoking Start; the built-in delegates are
// pre-registered.
var StepRegistry = core.NewStepRegistry()

// Resolver evaluates repeat element expressions. Replaceable before Start.
var Resolver core.ElementResolver = steps.ParamsElementResolver{}

// Advisor may override status transitions. This is the process-wide default;
// an advisor handed to an individual run takes precedence. Optional, nil
// keeps every natural transition.
var Advisor core.Advisor

func init() {
	StepRegistry.Register("HTTP_PROBE", func() core.Step { return &steps.HttpProbeStep{} })
	StepRegistry.Register("WAIT", func() core.Step { return steps.WaitStep{} })
}

// Start boots the execution engine and HTTP server.
// It expects StepRegistry to cover every state type the persisted machines
// use. This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("STATOR_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := core.NewRealClock()
	executionRepo := repository.NewExecutionRepository(db, clock)
	instanceRepo := repository.NewStateExecutionRepository(db, clock)
	machineRepo := repository.NewStateMachineRepository(db, clock)
	interruptRepo := repository.NewInterruptRepository(db, clock)
	executorRepo := repository.NewExecutorRepository(db)
	userRepo := repository.NewUserRepository(db, clock)

	bootstrapAdminUser(userRepo)

	executor := engine.NewStateMachineExecutor(
		executionRepo, instanceRepo, machineRepo, StepRegistry, Resolver, Advisor, clock)
	executor.SetManualInterventionNotifier(logManualIntervention{})
	manager := engine.NewExecutionManager(executionRepo, executorRepo, executor, clock)
	interruptManager := engine.NewExecutionInterruptManager(
		interruptRepo, executionRepo, instanceRepo, executor, clock)

	dur, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_CHECK_DB_INTERVAL))
	go manager.StartEngine(context.Background(), dur)

	if mux == nil {
		mux = http.NewServeMux()
	}
	authController := controllers.NewAuthController(userRepo)
	authController.RegisterRoutes(mux)
	machinesController := controllers.NewMachinesController(machineRepo, executor, userRepo)
	machinesController.RegisterRoutes(mux)
	executionsController := controllers.NewExecutionsController(executionRepo, instanceRepo, machineRepo, manager, userRepo)
	executionsController.RegisterRoutes(mux)
	interruptsController := controllers.NewInterruptsController(interruptManager, executionRepo, userRepo)
	interruptsController.RegisterRoutes(mux)
	notifyController := controllers.NewNotifyController(executor, userRepo)
	notifyController.RegisterRoutes(mux)
	executorsController := controllers.NewExecutorsController(manager, userRepo)
	executorsController.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

// logManualIntervention is the default operator attention hook: a structured
// log line an alerting pipeline can match on.
type logManualIntervention struct{}

func (logManualIntervention) OnManualIntervention(executionUUID, instanceUUID, reason string) {
	slog.Warn("Execution requires manual intervention",
		"execution_uuid", executionUUID,
		"instance_uuid", instanceUUID,
		"reason", reason)
}

// bootstrapAdminUser creates the initial admin account on an empty database.
// The generated password is printed once; rotate it after first login.
func bootstrapAdminUser(userRepo *repository.UserRepository) {
	existing, err := userRepo.FindByUsername("admin")
	if err != nil {
		slog.Error("Admin user lookup failed", "error", err)
		return
	}
	if existing != nil {
		return
	}
	password := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Could not hash admin password", "error", err)
		return
	}
	apiKey := uuid.NewString()
	user := &domain.User{
		Username: "admin",
		Password: string(hash),
		ApiKey:   sql.NullString{String: apiKey, Valid: true},
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
	if _, err := userRepo.Save(user); err != nil {
		slog.Error("Could not create admin user", "error", err)
		return
	}
	slog.Warn("Created initial admin user", "username", "admin", "password", password, "api_key", apiKey)
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("STATOR_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("STATOR_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("STATOR_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("STATOR_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("STATOR_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	_ = slog.New(tint.NewHandler(w, nil))
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
