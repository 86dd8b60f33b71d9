package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dax/api"
	"dax/storage"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("log-level", "info", "")
	pflag.String("log-dir", "logs", "")

	// auth config
	pflag.String("auth-private-key-seed", "", "")
	pflag.String("auth-issuer", "dax", "")
	pflag.String("auth-audience", "dax", "")
	pflag.Duration("auth-expire-duration", 24*time.Hour, "")

	// escrow config
	pflag.String("escrow-account", "dax-escrow", "")
	pflag.String("escrow-admin", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.String("db-sqlite-path", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "dax:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "auction-events", "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DAX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  viper.GetString("log-level"),
		LogDir:    viper.GetString("log-dir"),
		ServerConfig: api.ServerConfig{
			Auth: api.AuthConfig{
				PrivateKeySeed: viper.GetString("auth-private-key-seed"),
				Issuer:         viper.GetString("auth-issuer"),
				Audience:       viper.GetString("auth-audience"),
				ExpireDuration: viper.GetDuration("auth-expire-duration"),
			},
			Escrow: api.EscrowConfig{
				Account: viper.GetString("escrow-account"),
				Admin:   viper.GetString("escrow-admin"),
			},
			DB: storage.Config{
				User:       viper.GetString("db-user"),
				Password:   viper.GetString("db-password"),
				Host:       viper.GetString("db-host"),
				Port:       viper.GetInt("db-port"),
				Database:   viper.GetString("db-database"),
				Schema:     viper.GetString("db-schema"),
				SQLitePath: viper.GetString("db-sqlite-path"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					AuctionEvents: viper.GetString("redis-stream-key-for-events"),
				},
			},
		},
	}
}

type Args struct {
	ServerURL    string
	LogLevel     string
	LogDir       string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.Auth.PrivateKeySeed != "" &&
		args.ServerConfig.Escrow.Account != ""
}
