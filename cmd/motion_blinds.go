package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/bt"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/config"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/control"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/logging"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/metrics"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/simulator"
)

const (
	uiLogBuffer            = 256
	metricsShutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stdout, "Usage of motion-blinds:\n%s", config.Usage())
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "motion-blinds: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "motion-blinds: %v\n", err)
		return 2
	}

	// The control panel shows the log; a one-shot command keeps it in the file
	uiLogWriter := logging.NewChannelWriter()
	var extra io.Writer
	if cfg.Command == "" {
		extra = uiLogWriter
	}
	logger, logCloser := logging.New(cfg.Logging, extra)
	defer logCloser.Close()

	if cfg.ConfigFile != "" {
		logger.Printf("Main: Using configuration %s", cfg.ConfigFile)
	}

	svc, err := newServices(cfg, logger)
	if err != nil {
		logger.Printf("Main: %v", err)
		fmt.Fprintf(os.Stderr, "motion-blinds: %v\n", err)
		return 1
	}
	defer svc.shutdown()

	if cfg.Command != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := control.RunCommand(ctx, svc.session, cfg.Command, os.Stdout); err != nil {
			logger.Printf("Main: Command %q failed: %v", cfg.Command, err)
			fmt.Fprintf(os.Stderr, "motion-blinds: %v\n", err)
			return 1
		}
		return 0
	}

	uiLogChan := make(chan string, uiLogBuffer)
	unregisterLog := uiLogWriter.Listen(uiLogChan)
	defer unregisterLog()

	if err := runControlPanel(svc.session, logger, uiLogChan); err != nil {
		fmt.Fprintf(os.Stderr, "motion-blinds: %v\n", err)
		return 1
	}
	return 0
}

// services owns everything that outlives a single command or UI session
type services struct {
	logger      *log.Logger
	session     *blind.Session
	shutdownFns []func()
}

func newServices(cfg *config.Config, logger *log.Logger) (*services, error) {
	a := &services{logger: logger}

	cipher, err := motion.NewCipher(cfg.Codec.Key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	clock, err := motion.NewClock(cfg.Codec.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}

	sessionCfg, err := cfg.BlindSessionConfig()
	if err != nil {
		return nil, err
	}

	transport, err := a.newTransport(cfg, cipher)
	if err != nil {
		a.shutdown()
		return nil, err
	}

	var blindMetrics *metrics.BlindMetrics
	if cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		blindMetrics = metrics.NewBlindMetrics(reg)
		sessionCfg.Observer = blindMetrics
		a.startMetricsServer(cfg.Metrics, reg)
	}

	session, err := blind.NewSession(sessionCfg, transport, motion.NewEncoder(cipher, clock), motion.NewDecoder(cipher), logger)
	if err != nil {
		a.shutdown()
		return nil, fmt.Errorf("session: %w", err)
	}
	a.session = session
	a.onShutdown(func() {
		if err := session.Close(); err != nil {
			logger.Printf("Main: Error closing session: %v", err)
		}
	})

	if blindMetrics != nil {
		a.onShutdown(session.Listen(blindMetrics.UpdateState))
	}
	return a, nil
}

func (a *services) newTransport(cfg *config.Config, cipher *motion.Cipher) (blind.Transport, error) {
	if cfg.Simulator.Enable {
		sim := cfg.Simulator
		motor := simulator.NewMotor(a.logger, cipher, simulator.Config{
			ID:              cfg.Blind.ID,
			Position:        uint8(sim.Position),
			Tilt:            uint8(sim.Tilt),
			Battery:         uint8(sim.Battery),
			EndPositionUp:   sim.EndPositionUp,
			EndPositionDown: sim.EndPositionDown,
			Favorite:        sim.Favorite,
			FavoritePercent: uint8(sim.FavoritePercent),
			AutoCalibrate:   sim.AutoCalibrate,
			ServerPort:      sim.Port,
		})
		if err := motor.Start(); err != nil {
			return nil, fmt.Errorf("simulator: %w", err)
		}
		a.onShutdown(motor.Shutdown)
		return motor, nil
	}

	manager := bt.NewBTManager(bluetooth.DefaultAdapter, a.logger)
	if err := manager.Enable(); err != nil {
		return nil, fmt.Errorf("enable BLE stack: %w", err)
	}
	a.onShutdown(manager.Shutdown)
	return manager, nil
}

func (a *services) startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) {
	server := metrics.NewServer(cfg.Addr, cfg.Path, reg)
	var wg sync.WaitGroup
	go_func_utils.SafeGoGroup(a.logger, &wg, func() {
		a.logger.Printf("Main: Serving metrics on %s%s", cfg.Addr, cfg.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("Main: Metrics server error: %v", err)
		}
	})
	a.onShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			a.logger.Printf("Main: Error shutting down metrics server: %v", err)
		}
		wg.Wait()
	})
}

func (a *services) onShutdown(fn func()) {
	a.shutdownFns = append(a.shutdownFns, fn)
}

// shutdown runs the registered cleanups in reverse order
func (a *services) shutdown() {
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		a.shutdownFns[i]()
	}
	a.shutdownFns = nil
}

func runControlPanel(session *blind.Session, logger *log.Logger, uiLogChan <-chan string) error {
	model := control.NewUIModel(session, logger, uiLogChan, control.DefaultStatePath())
	controller := control.NewUIController(model, session, logger)
	view := control.NewCursesUIView(logger, tview.NewApplication(), model)
	base := control.NewBaseUIView(control.NewBaseUIViewArg{
		UIViewImpl:   view,
		UIModel:      model,
		UIController: controller,
		Logger:       logger,
	})

	logger.Printf("Main: Control panel ready for %s - press 'c' to connect", session.State().ID)
	err := base.Run()

	controller.Shutdown()
	base.Shutdown()
	model.Shutdown()
	return err
}
