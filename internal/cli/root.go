// Package cli provides the command-line entrypoint shared by all three
// terminals: a cobra root command with one subcommand per terminal plus a
// convenience command that runs all three in one process.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/albaraazain/ald-control-plane/internal/config"
	"github.com/albaraazain/ald-control-plane/internal/deadletter"
	"github.com/albaraazain/ald-control-plane/internal/dedupe"
	"github.com/albaraazain/ald-control-plane/internal/health"
	"github.com/albaraazain/ald-control-plane/internal/lock"
	"github.com/albaraazain/ald-control-plane/internal/obs"
	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/paramwriter"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/recipe"
	"github.com/albaraazain/ald-control-plane/internal/sampler"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

const commandNotifyChannel = "ald_parameter_commands"

var cfgFile string

// RootCmd is the ald-control-plane binary's root command.
var RootCmd = &cobra.Command{
	Use:   "ald-control-plane",
	Short: "three-terminal control plane for an ALD machine",
	Long: `ald-control-plane runs the three terminals that jointly operate an
Atomic Layer Deposition machine over a shared Postgres database and a
shared Modbus-style PLC connection:

  sampler  (T1) samples every parameter once a second and reconciles setpoints
  executor (T2) claims and runs recipe commands against the PLC
  writer   (T3) ingests parameter-control commands and performs typed writes

Run a single terminal with its own subcommand, or all three together with
"run". Each mode acquires its own exclusive single-instance lock keyed by
the machine ID and its role before doing anything else.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, environment variables only)")

	RootCmd.AddCommand(samplerCmd)
	RootCmd.AddCommand(executorCmd)
	RootCmd.AddCommand(writerCmd)
	RootCmd.AddCommand(runCmd)
}

// initConfig loads an optional config file into the environment so
// config.Env's os.Getenv-based loaders pick the values up unchanged,
// without introducing a second source of truth for configuration.
func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "config: failed to read", cfgFile, err)
		return
	}
	fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	for _, k := range viper.AllKeys() {
		env := upperSnake(k)
		if os.Getenv(env) == "" {
			os.Setenv(env, viper.GetString(k))
		}
	}
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r == '.' || r == '-' {
			r = '_'
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

// shared is the infrastructure every terminal builds identically: logger,
// database pool, PLC adapter, the parameter cache loaded once from the
// catalog, and the health/metrics HTTP surface.
type shared struct {
	machine config.MachineConfig
	db      *store.DB
	cache   *paramcache.Cache
	adapter plc.Adapter
	health  *health.Server
}

func buildShared(ctx context.Context, role string) (*shared, *logrus.Entry, error) {
	machine, err := config.LoadMachineConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	logger := obs.New(obs.Config{Level: machine.LogLevel, Format: machine.LogFormat, Machine: machine.MachineID, Role: role})
	log := logger.Base()

	db, err := store.Open(ctx, machine.DatabaseDSN)
	if err != nil {
		return nil, log, fmt.Errorf("store: %w", err)
	}

	cat, err := store.OpenCatalog(machine.DatabaseDSN)
	if err != nil {
		db.Close()
		return nil, log, fmt.Errorf("catalog: %w", err)
	}
	defer cat.Close()

	params, err := cat.LoadParameters()
	if err != nil {
		db.Close()
		return nil, log, fmt.Errorf("load parameters: %w", err)
	}
	cache := paramcache.New()
	cache.Load(params)
	log.WithField("parameter_count", cache.Len()).Info("loaded parameter metadata cache")

	var adapter plc.Adapter
	if machine.PLCType == "real" {
		adapter = plc.NewRealBackend(machine.PLCHost, machine.PLCPort)
	} else {
		adapter = plc.NewSimulationBackend()
	}
	if err := adapter.Connect(ctx); err != nil {
		log.WithError(err).Warn("initial PLC connect failed, will retry on next poll")
	}

	h := health.New(log)
	h.RegisterCheck("database", func() error {
		var one int
		return db.QueryRow(context.Background(), "SELECT 1").Scan(&one)
	})
	h.Start(fmt.Sprintf(":%d", machine.HealthPort))

	return &shared{machine: machine, db: db, cache: cache, adapter: adapter, health: h}, log, nil
}

func (s *shared) close(ctx context.Context) {
	_ = s.adapter.Disconnect(ctx)
	_ = s.health.Shutdown(ctx)
	s.db.Close()
}

func acquireLock(machine config.MachineConfig, role string) (*lock.Lock, error) {
	return lock.Acquire(machine.LockDir, machine.MachineID+"-"+role, 2*time.Second)
}

func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

var samplerCmd = &cobra.Command{
	Use:   "sampler",
	Short: "run T1, the 1Hz parameter sampler and setpoint reconciler",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := rootContext()
		defer cancel()

		s, log, err := buildShared(ctx, "sampler")
		if err != nil {
			fmt.Fprintln(os.Stderr, "sampler: startup failed:", err)
			os.Exit(1)
		}
		defer s.close(context.Background())

		l, err := acquireLock(s.machine, "sampler")
		if err != nil {
			log.WithError(err).Fatal("sampler: could not acquire single-instance lock")
		}
		defer l.Release()

		dlq, err := deadletter.Open(config.LoadSamplerConfig().DeadLetterDir)
		if err != nil {
			log.WithError(err).Fatal("sampler: failed to open dead-letter queue")
		}
		defer dlq.Close()

		samp := sampler.New(s.machine.MachineID, s.adapter, s.cache, s.db, dlq, log, config.LoadSamplerConfig())
		s.health.RegisterCheck("plc", func() error {
			if !s.adapter.IsConnected() {
				return fmt.Errorf("plc not connected")
			}
			return nil
		})
		log.Info("sampler: starting")
		samp.Run(ctx)
		log.Info("sampler: stopped")
	},
}

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "run T2, the recipe command claimer and step executor",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := rootContext()
		defer cancel()

		s, log, err := buildShared(ctx, "executor")
		if err != nil {
			fmt.Fprintln(os.Stderr, "executor: startup failed:", err)
			os.Exit(1)
		}
		defer s.close(context.Background())

		l, err := acquireLock(s.machine, "executor")
		if err != nil {
			log.WithError(err).Fatal("executor: could not acquire single-instance lock")
		}
		defer l.Release()

		cat, err := store.OpenCatalog(s.machine.DatabaseDSN)
		if err != nil {
			log.WithError(err).Fatal("executor: failed to open recipe catalog")
		}
		defer cat.Close()

		exec := recipe.New(s.machine.MachineID, s.adapter, s.cache, s.db, cat, log, config.LoadExecutorConfig())
		exec.Reconcile(ctx)
		log.Info("executor: starting")
		exec.Run(ctx)
		log.Info("executor: stopped")
	},
}

var writerCmd = &cobra.Command{
	Use:   "writer",
	Short: "run T3, the parameter-write ingestion and typed-write pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := rootContext()
		defer cancel()

		s, log, err := buildShared(ctx, "writer")
		if err != nil {
			fmt.Fprintln(os.Stderr, "writer: startup failed:", err)
			os.Exit(1)
		}
		defer s.close(context.Background())

		l, err := acquireLock(s.machine, "writer")
		if err != nil {
			log.WithError(err).Fatal("writer: could not acquire single-instance lock")
		}
		defer l.Release()

		redisSeen := openRedisDedupe(s.machine, log)
		if redisSeen != nil {
			defer redisSeen.Close()
		}

		listener := store.NewListener(s.db.Pool(), commandNotifyChannel, log)
		w := paramwriter.New(s.machine.MachineID, s.adapter, s.cache, s.db, listener, redisSeen, log, config.LoadWriterConfig())
		log.Info("writer: starting")
		w.Run(ctx)
		log.Info("writer: stopped")
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run all three terminals in one process, sharing one PLC adapter and one DB pool",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := rootContext()
		defer cancel()

		s, log, err := buildShared(ctx, "combined")
		if err != nil {
			fmt.Fprintln(os.Stderr, "run: startup failed:", err)
			os.Exit(1)
		}
		defer s.close(context.Background())

		locks := make([]*lock.Lock, 0, 3)
		for _, role := range []string{"sampler", "executor", "writer"} {
			l, err := acquireLock(s.machine, role)
			if err != nil {
				for _, held := range locks {
					held.Release()
				}
				log.WithError(err).Fatalf("run: could not acquire single-instance lock for role %s", role)
			}
			locks = append(locks, l)
		}
		defer func() {
			for _, l := range locks {
				l.Release()
			}
		}()

		dlq, err := deadletter.Open(config.LoadSamplerConfig().DeadLetterDir)
		if err != nil {
			log.WithError(err).Fatal("run: failed to open dead-letter queue")
		}
		defer dlq.Close()

		cat, err := store.OpenCatalog(s.machine.DatabaseDSN)
		if err != nil {
			log.WithError(err).Fatal("run: failed to open recipe catalog")
		}
		defer cat.Close()

		redisSeen := openRedisDedupe(s.machine, log)
		if redisSeen != nil {
			defer redisSeen.Close()
		}

		s.health.RegisterCheck("plc", func() error {
			if !s.adapter.IsConnected() {
				return fmt.Errorf("plc not connected")
			}
			return nil
		})

		samp := sampler.New(s.machine.MachineID, s.adapter, s.cache, s.db, dlq, log.WithField("terminal", "sampler"), config.LoadSamplerConfig())
		exec := recipe.New(s.machine.MachineID, s.adapter, s.cache, s.db, cat, log.WithField("terminal", "executor"), config.LoadExecutorConfig())
		listener := store.NewListener(s.db.Pool(), commandNotifyChannel, log.WithField("terminal", "writer"))
		writer := paramwriter.New(s.machine.MachineID, s.adapter, s.cache, s.db, listener, redisSeen, log.WithField("terminal", "writer"), config.LoadWriterConfig())

		exec.Reconcile(ctx)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); samp.Run(ctx) }()
		go func() { defer wg.Done(); exec.Run(ctx) }()
		go func() { defer wg.Done(); writer.Run(ctx) }()

		log.Info("run: all three terminals started")
		wg.Wait()
		log.Info("run: all three terminals stopped")
	},
}

func openRedisDedupe(machine config.MachineConfig, log *logrus.Entry) *dedupe.RedisSet {
	if machine.RedisURL == "" {
		return nil
	}
	rs, err := dedupe.NewRedisSet(machine.RedisURL, 10*time.Minute)
	if err != nil {
		log.WithError(err).Warn("redis dedupe unavailable, falling back to in-process set only")
		return nil
	}
	return rs
}
