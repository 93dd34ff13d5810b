package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/friendsofgo/errors"
	"github.com/gofrs/uuid"
)

// config holds the process-wide settings loaded from a TOML file: if the
// file is missing, a fresh one is written with a random JWT secret so a
// first run never starts with an empty signing key.
type config struct {
	JWTSecret string `toml:"jwt_secret"`
	Address   string `toml:"address"`
	DataDir   string `toml:"data_dir"`

	DatabaseDriver string `toml:"database_driver"`
	DatabaseDSN    string `toml:"database_dsn"`

	RedisAddress string `toml:"redis_address"`

	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	SMTPFrom string `toml:"smtp_from"`
}

func defaultConfig() (config, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return config{}, errors.Wrap(err, "generating jwt secret")
	}
	return config{
		JWTSecret:      id.String(),
		Address:        ":9009",
		DataDir:        "./data",
		DatabaseDriver: "sqlite",
		DatabaseDSN:    "pipelinecore.db",
		RedisAddress:   "127.0.0.1:6379",
	}, nil
}

// loadOrCreateConfig reads path, writing a freshly generated default config
// if it doesn't exist yet.
func loadOrCreateConfig(path string) (config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		conf, err := defaultConfig()
		if err != nil {
			return config{}, err
		}
		f, err := os.Create(path)
		if err != nil {
			return config{}, errors.Wrap(err, "creating config file")
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(conf); err != nil {
			return config{}, errors.Wrap(err, "writing default config")
		}
		return conf, nil
	}

	var conf config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return config{}, errors.Wrap(err, "decoding config file")
	}
	return conf, nil
}
