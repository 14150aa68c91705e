package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognised by Resolve.
const (
	EnvConfig          = "PERSONA_CONFIG"
	EnvEnvFile         = "PERSONA_ENV_FILE"
	EnvRoot            = "PERSONA_ROOT"
	EnvPayloadDir      = "PERSONA_PAYLOAD_DIR"
	EnvUnitDir         = "PERSONA_UNIT_DIR"
	EnvUser            = "PERSONA_USER"
	EnvModel           = "PERSONA_MODEL"
	EnvSettleSeconds   = "PERSONA_SETTLE_SECONDS"
	EnvRestartSeconds  = "PERSONA_RESTART_SECONDS"
	EnvDriverVersion   = "PERSONA_DRIVER_VERSION"
	EnvPostInstallTest = "PERSONA_POST_INSTALL_TEST"
	EnvMetricsTextfile = "PERSONA_METRICS_TEXTFILE"
	EnvPython          = "PERSONA_PYTHON"
	EnvLogLevel        = "PERSONA_LOG_LEVEL"
	EnvDryRun          = "PERSONA_DRY_RUN"
)

// DefaultEnvFile is read when present and PERSONA_ENV_FILE is unset.
const DefaultEnvFile = "/etc/persona/persona.env"

// Defaults returns the built-in configuration.
func Defaults() Config {
	return defaults(os.LookupEnv)
}

func defaults(lookup Lookup) Config {
	return Config{
		Root:           "/opt/persona",
		PayloadDir:     "src",
		UnitDir:        "/etc/systemd/system",
		User:           invokingUser(lookup),
		SettleSeconds:  5,
		RestartSeconds: 10,
		Python:         "python3",
		LogLevel:       "info",
	}
}

// Lookup resolves a variable name; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Resolve layers defaults, the config file, the env file and the
// environment, later layers winning. An empty file argument falls back to
// PERSONA_CONFIG.
func Resolve(file string, lookup Lookup) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := defaults(lookup)

	if file == "" {
		file, _ = lookup(EnvConfig)
	}
	if file != "" {
		fc, err := Load(expandHome(file, lookup))
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		overlay(&cfg, fc)
	}

	envFile, explicit := lookup(EnvEnvFile)
	if !explicit {
		envFile = DefaultEnvFile
	}
	envFile = expandHome(envFile, lookup)
	fileVals, err := godotenv.Read(envFile)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: env file %s: %w", envFile, err)
		}
		fileVals = nil
	}
	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok && v != ""
	}
	if err := applyEnv(&cfg, get); err != nil {
		return cfg, err
	}
	expandPaths(&cfg, lookup)
	return cfg, nil
}

func applyEnv(cfg *Config, get Lookup) error {
	var ec Config
	strs := map[string]*string{
		EnvRoot:            &ec.Root,
		EnvPayloadDir:      &ec.PayloadDir,
		EnvUnitDir:         &ec.UnitDir,
		EnvUser:            &ec.User,
		EnvModel:           &ec.Model,
		EnvDriverVersion:   &ec.DriverVersion,
		EnvPostInstallTest: &ec.PostInstallTest,
		EnvMetricsTextfile: &ec.MetricsTextfile,
		EnvPython:          &ec.Python,
		EnvLogLevel:        &ec.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	ints := map[string]*int{
		EnvSettleSeconds:  &ec.SettleSeconds,
		EnvRestartSeconds: &ec.RestartSeconds,
	}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("config: %s: invalid value %q", key, v)
			}
			*dst = n
		}
	}
	if v, ok := get(EnvDryRun); ok {
		s := strings.ToLower(v)
		ec.DryRun = s == "1" || s == "true" || s == "yes"
	}
	overlay(cfg, ec)
	return nil
}

// invokingUser prefers the sudo caller so services don't default to root.
func invokingUser(lookup Lookup) string {
	for _, k := range []string{"SUDO_USER", "USER", "LOGNAME"} {
		if v, _ := lookup(k); v != "" {
			return v
		}
	}
	return "root"
}
