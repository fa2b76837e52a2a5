package options

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"kickstart/internal/failure"
	"kickstart/pkg/logging"
)

// EnvPrefix prefixes every service-specific environment variable.
const EnvPrefix = "KICKSTART"

// EnvFileVariable overrides the location of the dotenv file.
const EnvFileVariable = "KICKSTART_ENV_FILE"

// Environment is a snapshot of the environment variables kickstart reads.
// Values are kept raw: each one is parsed only if no CLI flag supplied the
// option, so a malformed variable shadowed by a flag is never an error.
type Environment struct {
	// Port reads KICKSTART_PORT and falls back to the generic PORT.
	Port string `envconfig:"PORT"`

	Socket        string
	Address       string
	Prefix        string
	BodyLimit     string `split_words:"true"`
	PluginTimeout string `split_words:"true"`
	PrettyLogs    string `split_words:"true"`
	LogLevel      string `split_words:"true"`
	LoggingModule string `split_words:"true"`
	Options       string
	Watch         string
	IgnoreWatch   string `split_words:"true"`
	WatchDebounce string `split_words:"true"`
	Debug         string
	DebugPort     string `split_words:"true"`
	DebugHost     string `split_words:"true"`

	// DotenvFile is the dotenv file that was loaded, if any.
	DotenvFile string `ignored:"true"`

	// dotenv records the variables that were supplied by DotenvFile.
	dotenv map[string]bool
}

// source reports whether any of the variables came from the dotenv file.
func (e Environment) source(variables ...string) Source {
	for _, v := range variables {
		if e.dotenv[v] {
			return SourceDotenv
		}
	}
	return SourceEnvironment
}

// LoadEnvironment loads the dotenv file found in cwd (or named by
// KICKSTART_ENV_FILE) into the process environment without overriding
// variables that are already set, then captures the snapshot.
func LoadEnvironment(cwd string) (Environment, error) {
	var env Environment

	envFile := os.Getenv(EnvFileVariable)
	if envFile == "" {
		envFile = filepath.Join(cwd, DefaultEnvFile)
	} else if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(cwd, envFile)
	}

	vars, err := godotenv.Read(envFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// optional
	case err != nil:
		return env, failure.Invalid("failed to load env file %s: %v", envFile, err)
	default:
		env.DotenvFile = envFile
		env.dotenv = make(map[string]bool, len(vars))
		for k, v := range vars {
			if _, set := os.LookupEnv(k); set {
				continue
			}
			if err := os.Setenv(k, v); err != nil {
				return env, failure.Invalid("failed to export %s from %s: %v", k, envFile, err)
			}
			env.dotenv[k] = true
		}
		logging.Debug("Options", "Loaded %d variables from %s", len(env.dotenv), envFile)
	}

	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return env, failure.Invalid("failed to read environment: %v", err)
	}
	return env, nil
}
