// Command dosing-station reads pH and TDS probes, drives the dosing pumps and
// executes commands received over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sweeney/dosing-station/internal/adc"
	"github.com/sweeney/dosing-station/internal/config"
	"github.com/sweeney/dosing-station/internal/gpio"
	"github.com/sweeney/dosing-station/internal/logging"
	"github.com/sweeney/dosing-station/internal/metrics"
	"github.com/sweeney/dosing-station/internal/mqtt"
	"github.com/sweeney/dosing-station/internal/sensor"
	"github.com/sweeney/dosing-station/internal/store"
	"github.com/sweeney/dosing-station/internal/web"
)

// errRestart is returned by runLoop when a reset_system command asks for a
// restart. The process exits with restartExitCode and the supervisor
// starts it again.
var errRestart = errors.New("restart requested")

const restartExitCode = 3

func main() {
	configPath := flag.String("config", "/etc/dosing-station/config.yaml", "path to config file (empty for built-in defaults)")
	printState := flag.Bool("print-state", false, "Print one reading per sensor and exit")
	flag.Parse()

	err := run(*configPath, *printState, os.Stdout)
	switch {
	case errors.Is(err, errRestart):
		os.Exit(restartExitCode)
	case err != nil:
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.OverrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(configPath string, printState bool, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var remote *logging.MQTTWriter
	if cfg.Logging.MQTT {
		remote = logging.NewMQTTWriter()
	}
	logger, err := logging.New(cfg.Logging, cfg.Device.ID, out, remote)
	if err != nil {
		return err
	}
	logger.Info().Str("config", cfg.String()).Msg("configuration loaded")

	reader, err := adc.NewRealADS1115(cfg.Hardware.ADCAddress)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer reader.Close()

	if printState {
		return printReadings(out, cfg, reader)
	}

	chip, err := gpio.NewRealChip(cfg.Hardware.GPIOChip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	var calStore calibrationSource
	if db, err := store.Open(cfg.Storage.Path); err != nil {
		logger.Warn().Err(err).Str("path", cfg.Storage.Path).Msg("calibration store unavailable, calibrations will not persist")
	} else {
		defer db.Close()
		calStore = db
	}

	cmds := make(chan []byte, cfg.Commands.QueueSize)
	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		DeviceID:   cfg.Device.ID,
		BufferSize: cfg.MQTT.BufferSize,
		Commands:   cmds,
	}, logger)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()
	if remote != nil {
		remote.Attach(client)
		defer remote.Attach(nil)
	}

	m := metrics.New()
	st, err := newStation(cfg, chip, reader, client, calStore, m, time.Now(), logger)
	if err != nil {
		return err
	}
	defer st.actuators.Close()

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, st.tracker, m)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	logger.Info().
		Dur("tick", cfg.System.Tick).
		Dur("heartbeat", cfg.System.Heartbeat).
		Str("broker", cfg.MQTT.Broker).
		Msg("started")

	ticker := time.NewTicker(cfg.System.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// no-ops outside systemd
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn().Err(err).Msg("sd_notify ready failed")
	}
	defer daemon.SdNotify(false, daemon.SdNotifyStopping)

	return runLoop(st, time.Now, ticker.C, sigCh, cmds)
}

// runLoop is the only goroutine that touches the managers. MQTT callbacks
// reach it through cmds.
func runLoop(st *station, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, cmds <-chan []byte) error {
	for {
		select {
		case s := <-sig:
			st.log.Info().Str("signal", s.String()).Msg("shutting down")
			st.shutdown(now())
			return nil

		case data := <-cmds:
			st.submit(data, now())

		case <-tick:
			t := now()
			st.tick(t)
			if st.proc.RestartRequested() {
				st.log.Warn().Msg("restart requested, exiting")
				st.shutdown(t)
				return errRestart
			}
		}
	}
}

// printReadings takes one reading from each enabled sensor.
func printReadings(w io.Writer, cfg *config.Config, reader adc.Reader) error {
	for _, def := range sensorDefs(cfg) {
		s, err := sensor.New(def.id, def.kind, def.cfg, reader)
		if err != nil {
			return err
		}
		r := s.Read(time.Now())
		fmt.Fprintf(w, "%s: raw=%.0f value=%.2f %s quality=%s\n", def.id, r.Raw, r.Calibrated, def.kind.Unit(), r.Quality)
	}
	return nil
}
