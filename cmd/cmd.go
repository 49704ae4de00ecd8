// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TheThingsNetwork/go-utils/handlers/cli"
	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/log/apex"
	"github.com/TheThingsNetwork/udp-gateway-bridge/auth"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend/udp"
	"github.com/TheThingsNetwork/udp-gateway-bridge/exchange"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware/blocklist"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware/deduplicate"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware/ratelimit"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware/sourcelock"
	"github.com/TheThingsNetwork/udp-gateway-bridge/status/statusserver"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	redis "gopkg.in/redis.v5"
)

// BridgeCmd is the main command that is executed when running gateway-bridge
var BridgeCmd = &cobra.Command{
	Use:   "gateway-bridge",
	Short: "UDP gateway bridge for the cloud IoT MQTT broker",
	Long:  `gateway-bridge attaches UDP devices to the cloud IoT MQTT broker through a single gateway connection`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logHandlers []log.Handler

		logHandlers = append(logHandlers, cli.New(os.Stdout))

		if logFileLocation := config.GetString("log-file"); logFileLocation != "" {
			absLogFileLocation, err := filepath.Abs(logFileLocation)
			if err != nil {
				panic(err)
			}
			logFile, err = os.OpenFile(absLogFileLocation, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
			if err != nil {
				panic(err)
			}
			logHandlers = append(logHandlers, json.New(logFile))
		}

		level := log.InfoLevel
		if config.GetBool("debug") {
			level = log.DebugLevel
		}
		ctx = &log.Logger{
			Level:   level,
			Handler: multi.New(logHandlers...),
		}
		ttnlog.Set(apex.Wrap(ctx))
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runBridge(); err != nil {
			ctx.WithError(err).Fatal("Bridge stopped")
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			time.Sleep(100 * time.Millisecond)
			logFile.Close()
		}
	},
}

func requireFlags(names ...string) error {
	for _, name := range names {
		if config.GetString(name) == "" {
			return errors.Wrapf(types.ErrConfig, "missing --%s", name)
		}
	}
	return nil
}

func mqttServer() (string, error) {
	port := config.GetInt("mqtt-bridge-port")
	if port != 8883 && port != 443 {
		return "", errors.Wrapf(types.ErrConfig, "unsupported MQTT bridge port %d", port)
	}
	return fmt.Sprintf("ssl://%s:%d", config.GetString("mqtt-bridge-hostname"), port), nil
}

func newMiddleware(client *redis.Client) (middleware.Chain, error) {
	var chain middleware.Chain

	if lists := config.GetStringSlice("blocklist"); len(lists) > 0 {
		ctx.WithField("Lists", lists).Info("Initializing blocklist")
		list, err := blocklist.NewBlocklist(lists...)
		if err != nil {
			return nil, errors.Wrap(types.ErrConfig, err.Error())
		}
		chain = append(chain, list)
	}

	if cacheTime := config.GetDuration("source-lock"); cacheTime > 0 {
		ctx.WithField("CacheTime", cacheTime).Info("Initializing source lock")
		chain = append(chain, sourcelock.NewSourceLock(config.GetBool("source-lock-port"), cacheTime))
	}

	limits := ratelimit.Limits{
		Requests: config.GetInt("ratelimit-requests"),
		Events:   config.GetInt("ratelimit-events"),
		Downlink: config.GetInt("ratelimit-downlink"),
	}
	if limits.Enabled() {
		ctx.WithFields(log.Fields{
			"Requests": limits.Requests,
			"Events":   limits.Events,
			"Downlink": limits.Downlink,
		}).Info("Initializing rate limits")
		if client != nil {
			chain = append(chain, ratelimit.NewRedisRateLimit(client, limits))
		} else {
			chain = append(chain, ratelimit.NewRateLimit(limits))
		}
	}

	if window := config.GetDuration("deduplicate"); window > 0 {
		ctx.WithField("Window", window).Info("Initializing deduplication")
		chain = append(chain, deduplicate.NewDeduplicate(window))
	}

	return chain, nil
}

func runBridge() error {
	if err := requireFlags("project-id", "registry-id", "gateway-id", "private-key-file", "algorithm"); err != nil {
		return err
	}
	gatewayID := config.GetString("gateway-id")
	expiry := time.Duration(config.GetInt("jwt-expires-minutes")) * time.Minute

	issuer, err := auth.NewJWTIssuer(ctx,
		config.GetString("project-id"),
		config.GetString("private-key-file"),
		config.GetString("algorithm"),
		expiry,
	)
	if err != nil {
		return err
	}

	// Set up Redis
	var client *redis.Client
	var authBackend auth.Interface
	if config.GetBool("redis") {
		client = redis.NewClient(&redis.Options{
			Addr:     config.GetString("redis-address"),
			Password: config.GetString("redis-password"),
			DB:       config.GetInt("redis-db"),
		})
		ctx.Info("Initializing Redis auth backend")
		authBackend = auth.NewRedis(ctx, client, "")
	} else {
		ctx.Info("Initializing Memory auth backend")
		authBackend = auth.NewMemory()
	}
	authBackend.SetIssuer(issuer)

	server, err := mqttServer()
	if err != nil {
		return err
	}
	tlsConfig, err := mqtt.NewTLSConfig(config.GetString("ca-certs"))
	if err != nil {
		return err
	}
	session := mqtt.New(mqtt.Config{
		Server:     server,
		TLSConfig:  tlsConfig,
		ProjectID:  config.GetString("project-id"),
		Region:     config.GetString("cloud-region"),
		RegistryID: config.GetString("registry-id"),
		GatewayID:  gatewayID,
	}, func() (*auth.Credential, error) {
		return authBackend.GetToken(gatewayID)
	}, ctx)

	relay, err := udp.New(udp.Config{Bind: config.GetString("udp-address")}, apex.Wrap(ctx))
	if err != nil {
		return err
	}

	chain, err := newMiddleware(client)
	if err != nil {
		relay.Close()
		return err
	}
	defer chain.Close()

	bridge := exchange.New(exchange.Config{
		GatewayID:        gatewayID,
		Tick:             config.GetDuration("tick"),
		CredentialWindow: issuer.Expiry(),
		ErrorReplies:     config.GetBool("error-replies"),
	}, session, relay, ctx)
	bridge.SetMiddleware(chain)
	defer bridge.Stop()

	if httpAddress := config.GetString("http-address"); httpAddress != "" {
		for _, key := range config.GetStringSlice("status-key") {
			statusserver.AddAccessKey(key)
		}
		srv := &http.Server{Addr: httpAddress, Handler: statusserver.Handler()}
		go func() {
			ctx.WithField("Address", httpAddress).Info("Starting status server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				ctx.WithError(err).Warn("Status server stopped")
			}
		}()
		defer srv.Close()
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx.WithField("ID", config.GetString("id")).WithField("GatewayID", gatewayID).Info("Starting bridge")
	if err := bridge.Run(runCtx); err != nil {
		return err
	}
	ctx.Info("Signal received")
	return nil
}

func init() {
	BridgeCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Location of the config file")

	BridgeCmd.Flags().String("log-file", "", "Location of the log file")
	BridgeCmd.Flags().Bool("debug", false, "Print debug logs")

	BridgeCmd.Flags().String("project-id", "", "Cloud project name (defaults to $GOOGLE_CLOUD_PROJECT)")
	BridgeCmd.Flags().String("registry-id", "", "Cloud IoT registry ID")
	BridgeCmd.Flags().String("gateway-id", "", "Cloud IoT gateway ID")
	BridgeCmd.Flags().String("private-key-file", "", "Location of the private key of the gateway")
	BridgeCmd.Flags().String("algorithm", "", "Signing algorithm of the credential (RS256 or ES256)")
	BridgeCmd.Flags().Int("jwt-expires-minutes", int(auth.DefaultExpiry/time.Minute), "Expiration time of the credential in minutes")
	BridgeCmd.Flags().String("cloud-region", "us-central1", "Cloud region")
	BridgeCmd.Flags().String("ca-certs", "roots.pem", "Location of the file containing Root CA certificates")
	BridgeCmd.Flags().String("mqtt-bridge-hostname", "mqtt.googleapis.com", "MQTT bridge hostname")
	BridgeCmd.Flags().Int("mqtt-bridge-port", 8883, "MQTT bridge port (8883 or 443)")

	BridgeCmd.Flags().String("udp-address", ":10000", "UDP address to listen on for devices")
	BridgeCmd.Flags().Duration("tick", exchange.DefaultTick, "Interval of the bridge loop")
	BridgeCmd.Flags().Bool("error-replies", false, "Reply to failed requests with an error")

	BridgeCmd.Flags().Bool("redis", false, "Use Redis auth backend")
	BridgeCmd.Flags().String("redis-address", "localhost:6379", "Redis host and port")
	BridgeCmd.Flags().String("redis-password", "", "Redis password")
	BridgeCmd.Flags().Int("redis-db", 0, "Redis database")

	BridgeCmd.Flags().StringSlice("blocklist", nil, "Blocklist files or URLs")
	BridgeCmd.Flags().Duration("source-lock", 0, "Lock devices to their source address for this time (0 to disable)")
	BridgeCmd.Flags().Bool("source-lock-port", false, "Include the source port in the source lock")
	BridgeCmd.Flags().Int("ratelimit-requests", 0, "Requests per device per minute (0 to disable)")
	BridgeCmd.Flags().Int("ratelimit-events", 0, "Events per device per minute (0 to disable)")
	BridgeCmd.Flags().Int("ratelimit-downlink", 0, "Downlink messages per device per minute (0 to disable)")
	BridgeCmd.Flags().Duration("deduplicate", 0, "Drop repeated requests within this window (0 to disable)")

	BridgeCmd.Flags().String("http-address", "", "Address of the status server (disabled when empty)")
	BridgeCmd.Flags().StringSlice("status-key", nil, "Access keys for the status server")

	viper.BindPFlags(BridgeCmd.Flags())
}
