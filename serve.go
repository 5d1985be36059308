package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"

	"i4.energy/across/modemchat/modem"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Run the SMS gateway (HTTP and MQTT)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind-address",
			Usage:   "Bind address for the HTTP server",
			Aliases: []string{"l"},
		},
		&cli.StringFlag{
			Name:  "http-token",
			Usage: "Bearer token required by the HTTP API",
		},
		&cli.StringFlag{
			Name:  "mqtt-broker",
			Usage: "MQTT broker URL (e.g. tcp://localhost:1883), enables MQTT",
		},
		&cli.StringFlag{
			Name:  "mqtt-client-id",
			Usage: "MQTT client ID (derived from the machine ID when empty)",
		},
		&cli.StringFlag{
			Name:  "mqtt-topic",
			Usage: "MQTT topic receiving send requests",
		},
		&cli.StringFlag{
			Name:  "mqtt-urc-topic",
			Usage: "MQTT topic receiving unsolicited result codes",
		},
		&cli.IntFlag{
			Name:  "rate-per-min",
			Usage: "Maximum messages sent per minute",
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Retries after a failed submission",
		},
	},
	Action: serveAction,
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return cli.Exit(err, 1)
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(config.ATTimeout.Duration).
		WithSMSTimeout(config.SMSTimeout.Duration).
		WithMinSendInterval(config.MinSendInterval.Duration).
		WithSimPIN(config.SimPIN).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithLogger(logger.With("component", "modem")).
		Build()
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to create modem config: %w", err), 1)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to create modem: %w", err), 1)
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	info := m.Info()
	logger.Info("Starting SMS gateway",
		"port", config.SerialPort,
		"model", info.Model,
		"imei", info.IMEI,
		"registration", m.Registration(),
	)

	gw, err := NewGateway(GatewayConfig{
		Sender:          m,
		Logger:          logger.With("component", "gateway"),
		RatePerMinute:   config.RatePerMinute,
		MinSendInterval: modemConfig.MinSendInterval,
		MaxRetries:      config.MaxRetries,
		QueueSize:       config.QueueSize,
	})
	if err != nil {
		return cli.Exit(err, 1)
	}

	server := &Server{
		Logger: logger.With("component", "server"),
		Queue:  gw,
		Modem:  m,
		Token:  config.HTTPToken,
	}

	// Create a list of runnables to manage, order is important
	runnables := []supervisor.Runnable{
		gw,
		newHTTPRunner(logger.With("component", "http"), config.BindAddress, server),
	}
	if config.MQTTBroker != "" {
		runnables = append(runnables, newMQTTRunner(logger.With("component", "mqtt"), config, gw, m.URC()))
	} else {
		runnables = append(runnables, newURCLogger(logger.With("component", "urc"), m.URC()))
	}

	super, err := supervisor.New(
		supervisor.WithRunnables(runnables...),
		supervisor.WithLogHandler(logger.Handler()),
		supervisor.WithContext(ctx),
	)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to create supervisor: %w", err), 1)
	}
	if err := super.Run(); err != nil {
		return cli.Exit(fmt.Errorf("failed to run gateway: %w", err), 1)
	}

	logger.Info("Gateway shutdown complete")
	return nil
}

// Interface guard: ensure urcLogger implements supervisor.Runnable
var _ supervisor.Runnable = (*urcLogger)(nil)

// urcLogger drains the URC channel of the modem when nothing publishes it.
type urcLogger struct {
	logger *slog.Logger
	urcs   <-chan string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newURCLogger(logger *slog.Logger, urcs <-chan string) *urcLogger {
	return &urcLogger{logger: logger, urcs: urcs}
}

func (u *urcLogger) String() string {
	return "URCLogger"
}

// Run implements the Runnable interface
func (u *urcLogger) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case urc, ok := <-u.urcs:
			if !ok {
				<-ctx.Done()
				return nil
			}
			u.logger.Info("Unsolicited result code", "urc", urc)
		}
	}
}

// Stop implements the Runnable interface
func (u *urcLogger) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
	}
}
