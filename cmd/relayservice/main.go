package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-smsrelay/config"
	"go-smsrelay/messaging"
	"go-smsrelay/payment/blockchain"
	"go-smsrelay/payment/db"
	"go-smsrelay/payment/lock"
	"go-smsrelay/payment/qrcode"
	"go-smsrelay/payment/relay"
	"go-smsrelay/service"
	"go-smsrelay/utils"
	"go-smsrelay/web"
	"go-smsrelay/web/controllers"
	"go-smsrelay/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	lockTTL  = 30 * time.Second
	lockWait = 10 * time.Second
)

type app struct {
	cfg *config.Config
	log *logrus.Logger
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "relayservice",
		Short:         "Relay text messages paid for in cryptocurrency",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.LoadEnv(); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := cfg.Logger()
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP service",
			RunE:  func(cmd *cobra.Command, args []string) error { return a.serve(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE:  func(cmd *cobra.Command, args []string) error { return a.migrate() },
		},
		a.addressCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	locker, closeLocker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	base, err := utils.PublicBaseURL(ctx, a.cfg.PublicURL, a.cfg.Port)
	if err != nil {
		return fmt.Errorf("resolve public url: %w", err)
	}

	rl, err := relay.New(relay.Options{
		Currency:         a.cfg.Currency,
		Chain:            a.blockchain(),
		Carrier:          a.carrier(),
		Store:            store,
		Locker:           locker,
		MinConfirmations: a.cfg.MinConfirmations,
		CallbackBase:     base,
		GatewayTimeout:   a.cfg.GatewayTimeout,
		Logger:           a.log,
	})
	if err != nil {
		return err
	}

	var signatures *blockchain.SignatureVerifier
	if a.cfg.BlockCypherPubKey != "" {
		if signatures, err = blockchain.NewSignatureVerifier(a.cfg.BlockCypherPubKey); err != nil {
			return err
		}
	}
	carrierToken := ""
	if a.cfg.TwilioVerify {
		carrierToken = a.cfg.TwilioToken
	}

	if a.log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	sessions := middleware.NewSessions(a.cfg.SessionSecret, a.cfg.SessionTTL)
	router := web.NewRouter(ctx, web.RouterOptions{
		Handler: controllers.New(controllers.Options{
			Relay:        rl,
			Sessions:     sessions,
			Signatures:   signatures,
			CarrierToken: carrierToken,
			PublicBase:   base,
			Logger:       a.log,
		}),
		Sessions:       sessions,
		AdminKeyHash:   a.cfg.AdminKeyHash,
		RateLimit:      a.cfg.RateLimit,
		AllowedOrigins: a.cfg.AllowedOrigins,
		Logger:         a.log,
	})

	a.log.WithFields(logrus.Fields{
		"currency":          a.cfg.Currency.Name(),
		"min_confirmations": a.cfg.MinConfirmations,
		"store":             a.cfg.Store,
		"callback_base":     base,
	}).Info("starting relay")

	done, err := service.Start(ctx, "", a.cfg.Port, router, a.log)
	if err != nil {
		return err
	}
	<-done.Done()
	return nil
}

func (a *app) migrate() error {
	if a.cfg.Store != config.StoreMySQL {
		return fmt.Errorf("nothing to migrate for the %s store", a.cfg.Store)
	}
	conn, err := db.Connect(a.cfg.DBDSN, a.log)
	if err != nil {
		return err
	}
	if err := db.Sync(conn); err != nil {
		return err
	}
	a.log.Info("schema up to date")
	return nil
}

func (a *app) addressCommand() *cobra.Command {
	var qrFile string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Request a fresh payment address and print its payment uri",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.GatewayTimeout)
			defer cancel()

			address, err := a.blockchain().NewAddress(ctx)
			if err != nil {
				return err
			}
			uri := a.cfg.Currency.URIScheme(address, a.cfg.Currency.Price())
			fmt.Fprintln(cmd.OutOrStdout(), address)
			fmt.Fprintln(cmd.OutOrStdout(), uri)

			if qrFile == "" {
				return nil
			}
			png, err := qrcode.PNG(uri, 0)
			if err != nil {
				return err
			}
			return os.WriteFile(qrFile, png, 0o644)
		},
	}
	cmd.Flags().StringVar(&qrFile, "qr", "", "also write the payment uri as a QR code PNG to this file")
	return cmd
}

func (a *app) store() (db.Store, error) {
	if a.cfg.Store == config.StoreMemory {
		a.log.Warn("using the in-memory store, records are lost on restart")
		return db.NewMemoryStore(), nil
	}
	conn, err := db.Connect(a.cfg.DBDSN, a.log)
	if err != nil {
		return nil, err
	}
	if err := db.Sync(conn); err != nil {
		return nil, err
	}
	return db.NewGormStore(conn), nil
}

// locker returns a redis backed lock when redis is configured so several
// instances can share one store.
func (a *app) locker(ctx context.Context) (lock.Locker, func(), error) {
	if a.cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return lock.NewRedisLocker(client, lockTTL, lockWait, a.log), func() { client.Close() }, nil
}

func (a *app) blockchain() *blockchain.BlockCypher {
	return blockchain.NewBlockCypher(a.cfg.Currency, blockchain.Config{
		BaseURL: a.cfg.BlockCypherURL,
		Token:   a.cfg.BlockCypherToken,
		RPS:     a.cfg.BlockCypherRPS,
		Timeout: a.cfg.GatewayTimeout,
	}, a.log)
}

func (a *app) carrier() *messaging.Twilio {
	return messaging.NewTwilio(messaging.TwilioConfig{
		BaseURL:    a.cfg.TwilioURL,
		AccountSID: a.cfg.TwilioSID,
		AuthToken:  a.cfg.TwilioToken,
		From:       a.cfg.TwilioFrom,
		Timeout:    a.cfg.GatewayTimeout,
	}, a.log)
}
