package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bloomnetwork/bloombridge/bloomtoken"
	"github.com/bloomnetwork/bloombridge/bridge"
	"github.com/bloomnetwork/bloombridge/log"
	"github.com/bloomnetwork/bloombridge/relayer"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	// FlagCfg is the flag for cfg.
	FlagCfg = "cfg"
	// FlagSaveConfigPath is the flag to save the final configuration file
	FlagSaveConfigPath = "save-config-path"

	// EnvVarPrefix prefix of the environment variables overriding config values
	EnvVarPrefix = "BLOOMBRIDGE"
	// ConfigType format of the config files
	ConfigType = "toml"
	// SaveConfigFileName name of the rendered configuration file
	SaveConfigFileName = "bloombridge_config.toml"

	// DefaultCreationFilePermissions is the permission of the rendered config file
	DefaultCreationFilePermissions = os.FileMode(0600)
)

// Config holds the configuration of the whole bloombridge node.
type Config struct {
	// Log is the configuration of the logger
	Log log.Config `mapstructure:"Log"`
	// Token is the configuration of the peg mint controller
	Token bloomtoken.Config `mapstructure:"Token"`
	// Bridge is the configuration of the bridge ledger
	Bridge bridge.Config `mapstructure:"Bridge"`
	// Relayer is the configuration of the relayer service
	Relayer relayer.Config `mapstructure:"Relayer"`
}

// Default parses the default configuration values.
func Default() (*Config, error) {
	var cfg Config
	viper.SetConfigType(ConfigType)

	err := viper.ReadConfig(bytes.NewBuffer([]byte(DefaultValues)))
	if err != nil {
		return nil, err
	}
	err = viper.Unmarshal(&cfg, viper.DecodeHook(decodeHooks()))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads the configuration: defaults first, then the config file given
// by the cli context, then environment variable overrides.
func Load(ctx *cli.Context) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	configFilePath := ctx.String(FlagCfg)
	if configFilePath != "" {
		dirName, fileName := filepath.Split(configFilePath)

		fileExtension := strings.TrimPrefix(filepath.Ext(fileName), ".")
		fileNameWithoutExtension := strings.TrimSuffix(fileName, "."+fileExtension)

		viper.AddConfigPath(dirName)
		viper.SetConfigName(fileNameWithoutExtension)
		viper.SetConfigType(fileExtension)
	}
	viper.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix(EnvVarPrefix)

	if configFilePath != "" {
		if err := viper.ReadInConfig(); err != nil {
			var notFoundErr viper.ConfigFileNotFoundError
			if errors.As(err, &notFoundErr) {
				return nil, fmt.Errorf("config file %s not found: %w", configFilePath, err)
			}
			return nil, err
		}
	}
	if err := viper.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, err
	}

	if savePath := ctx.String(FlagSaveConfigPath); savePath != "" {
		if err := Save(cfg, savePath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save renders the effective configuration into path/SaveConfigFileName.
func Save(cfg *Config, path string) error {
	rendered, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(path, SaveConfigFileName)
	log.Infof("saving used config to %s", fullPath)
	return os.WriteFile(fullPath, rendered, DefaultCreationFilePermissions)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
