package main

import (
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	clilog "github.com/apex/log/handlers/cli"
	"github.com/go-chi/jwtauth/v5"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"networkteam.com/lab/pipelinecore/api"
	"networkteam.com/lab/pipelinecore/cache"
	"networkteam.com/lab/pipelinecore/core"
	"networkteam.com/lab/pipelinecore/dispatch"
	"networkteam.com/lab/pipelinecore/mailer"
	"networkteam.com/lab/pipelinecore/param"
	"networkteam.com/lab/pipelinecore/store"
)

func main() {
	log.SetHandler(clilog.Default)

	app := &cli.App{
		Name:  "pipelinecore",
		Usage: "DAG-driven pipeline execution core",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "pipelinecore.toml", Usage: "path to the TOML config file"},
			&cli.StringFlag{Name: "address", Value: "", Usage: "overrides the config's HTTP listen address"},
		},
		Commands: []*cli.Command{
			newDebugCmd(),
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}

func newDebugCmd() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Get authorization information for debugging",
		Action: func(c *cli.Context) error {
			conf, err := loadOrCreateConfig(c.String("config"))
			if err != nil {
				return err
			}

			tokenAuth := jwtauth.New("HS256", []byte(conf.JWTSecret), nil)

			claims := make(map[string]interface{})
			jwtauth.SetIssuedNow(claims)
			_, tokenString, _ := tokenAuth.Encode(claims)
			log.Infof("Send the following HTTP header for JWT authorization:\n    Authorization: Bearer %s", tokenString)

			return nil
		},
	}
}

func run(c *cli.Context) error {
	conf, err := loadOrCreateConfig(c.String("config"))
	if err != nil {
		return err
	}

	address := conf.Address
	if c.String("address") != "" {
		address = c.String("address")
	}

	tokenAuth := jwtauth.New("HS256", []byte(conf.JWTSecret), nil)

	db, err := openDB(conf)
	if err != nil {
		return err
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: conf.RedisAddress})
	c3 := cache.NewRedisCache(rdb, 0)
	queue := &dispatch.RedisQueue{Client: rdb}

	var notifier core.Mailer
	if conf.SMTPHost != "" {
		notifier = mailer.NewSMTPMailer(conf.SMTPHost, conf.SMTPPort, conf.SMTPUser, conf.SMTPPass, conf.SMTPFrom)
	} else {
		notifier = mailer.NoopMailer{}
	}

	audit, err := dispatch.NewAuditLog(conf.DataDir)
	if err != nil {
		return err
	}

	resolver := param.Resolver{Source: st}
	engine := core.NewEngine(st, c3, queue, resolver, notifier)
	bridge := &dispatch.Bridge{Store: st, Engine: engine, Audit: audit}

	requeuer := &dispatch.DelayedRequeuer{Client: rdb}
	go requeuer.Run(c.Context, time.Second)

	srv := api.NewRouter(&api.Server{Store: st, Engine: engine, Bridge: bridge}, tokenAuth)

	log.WithField("component", "cli").Infof("HTTP API listening on %s", address)
	return http.ListenAndServe(address, srv)
}

func openDB(conf config) (*gorm.DB, error) {
	switch conf.DatabaseDriver {
	case "postgres":
		return gorm.Open(postgres.Open(conf.DatabaseDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(conf.DatabaseDSN), &gorm.Config{})
	}
}
