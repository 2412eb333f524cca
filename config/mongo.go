package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/world-in-progress/canopy/core/logger"
)

// MongoConfig locates the database mirrors are written to. Timeout is in seconds.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  int
}

func LoadMongoConfig() MongoConfig {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // enable overwrite envs

	// default
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "canopy")
	viper.SetDefault("mongo.timeout", 10)

	if err := viper.ReadInConfig(); err != nil {
		logger.Debug("no config file found, use default mongo configuration: %v", err)
	}

	return MongoConfig{
		URI:      viper.GetString("mongo.uri"),
		Database: viper.GetString("mongo.database"),
		Timeout:  viper.GetInt("mongo.timeout"),
	}
}

func (c MongoConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
