package options

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickstart/internal/failure"
)

func TestParse_Defaults(t *testing.T) {
	cwd := t.TempDir()

	cfg, err := parse([]string{"app.js"}, Environment{}, cwd)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cwd, "app.js"), cfg.PluginPath)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.False(t, cfg.UsesSocket())
	assert.Equal(t, int64(DefaultBodyLimit), cfg.BodyLimit)
	assert.Equal(t, DefaultPluginTimeout, cfg.PluginTimeout)
	assert.Equal(t, DefaultDebugPort, cfg.DebugPort)
	assert.Equal(t, "", cfg.Address)
	assert.Equal(t, "", cfg.Prefix)
	assert.Equal(t, SourceDefaults, cfg.SourceOf(FlagPort))
	assert.Empty(t, cfg.PluginArgs)
}

func TestParse_PortPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		argv         []string
		env          Environment
		expectedPort int
		expectedSrc  Source
	}{
		{"default", []string{"app.js"}, Environment{}, DefaultPort, SourceDefaults},
		{"environment", []string{"app.js"}, Environment{Port: "4000"}, 4000, SourceEnvironment},
		{"flag beats environment", []string{"-p", "5000", "app.js"}, Environment{Port: "4000"}, 5000, SourceFlags},
		{"long flag", []string{"--port=6000", "app.js"}, Environment{}, 6000, SourceFlags},
		{"zero asks the OS", []string{"--port", "0", "app.js"}, Environment{}, 0, SourceFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parse(tt.argv, tt.env, t.TempDir())
			require.NoError(t, err)
			assert.Equal(t, tt.expectedPort, cfg.Port)
			assert.Equal(t, tt.expectedSrc, cfg.SourceOf(FlagPort))
		})
	}
}

func TestParse_MalformedEnvironmentShadowedByFlag(t *testing.T) {
	cfg, err := parse([]string{"--port", "8080", "app.js"}, Environment{Port: "not-a-port"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)

	_, err = parse([]string{"app.js"}, Environment{Port: "not-a-port"}, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrInvalidArgument))
}

func TestParse_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		env  Environment
	}{
		{"non-numeric port flag", []string{"--port", "abc", "app.js"}, Environment{}},
		{"port out of range", []string{"--port", "70000", "app.js"}, Environment{}},
		{"port and socket", []string{"--port", "3000", "--socket", "/tmp/app.sock", "app.js"}, Environment{}},
		{"negative timeout", []string{"-T", "-5", "app.js"}, Environment{}},
		{"non-numeric timeout env", []string{"app.js"}, Environment{PluginTimeout: "soon"}},
		{"zero body limit", []string{"--body-limit", "0", "app.js"}, Environment{}},
		{"bad log level", []string{"--log-level", "chatty", "app.js"}, Environment{}},
		{"missing plugin", []string{"--port", "3000"}, Environment{}},
		{"extra positional", []string{"app.js", "other.js"}, Environment{}},
		{"bad boolean env", []string{"app.js"}, Environment{Watch: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.argv, tt.env, t.TempDir())
			require.Error(t, err)
			assert.Equal(t, failure.InvalidArgument, failure.KindOf(err), "got %v", err)
		})
	}
}

func TestParse_SocketWinsOverEnvironmentPort(t *testing.T) {
	cfg, err := parse([]string{"--socket", "/tmp/app.sock", "app.js"}, Environment{Port: "4000"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.UsesSocket())
	assert.Equal(t, "/tmp/app.sock", cfg.SocketPath)

	cfg, err = parse([]string{"app.js"}, Environment{Socket: "/tmp/env.sock"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.UsesSocket())
	assert.Equal(t, SourceEnvironment, cfg.SourceOf(FlagSocket))
}

func TestParse_StickyEnvironmentBooleans(t *testing.T) {
	env := Environment{PrettyLogs: "true", Watch: "1", Debug: "true", Options: "true"}

	cfg, err := parse([]string{"app.js"}, env, t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.PrettyLogs)
	assert.True(t, cfg.Watch)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Options)
	assert.Equal(t, cfg.PluginPath, cfg.OptionsModulePath())

	cfg, err = parse([]string{"--pretty-logs=false", "--watch=false", "app.js"}, env, t.TempDir())
	require.NoError(t, err)
	assert.False(t, cfg.PrettyLogs)
	assert.False(t, cfg.Watch)
	assert.True(t, cfg.Debug, "absent flag must not clear an environment boolean")
}

func TestParse_Help(t *testing.T) {
	for _, argv := range [][]string{{"-h"}, {"--help", "app.js"}} {
		_, err := parse(argv, Environment{}, t.TempDir())
		assert.ErrorIs(t, err, errHelp)
	}
}

func TestParse_PluginArgsAfterDash(t *testing.T) {
	cfg, err := parse([]string{"-w", "app.js", "--", "--foo", "bar", "-p", "1"}, Environment{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"--foo", "bar", "-p", "1"}, cfg.PluginArgs)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.Watch)
}

func TestParse_PackageSpecifier(t *testing.T) {
	cfg, err := parse([]string{"my-plugin"}, Environment{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "my-plugin", cfg.PluginPath)

	cfg, err = parse([]string{"@acme/plugin"}, Environment{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "@acme/plugin", cfg.PluginPath)
}

func TestParse_Normalization(t *testing.T) {
	cwd := t.TempDir()
	cfg, err := parse([]string{"-r", "api/v1/", "-L", "./logger.js", "-T", "250", "--ignore-watch", "tmp/**,*.log", "app.js"}, Environment{}, cwd)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1", cfg.Prefix)
	assert.Equal(t, filepath.Join(cwd, "logger.js"), cfg.LoggingModule)
	assert.Equal(t, 250*time.Millisecond, cfg.PluginTimeout)
	assert.Equal(t, []string{"tmp/**", "*.log"}, cfg.IgnoreWatch)
	assert.Equal(t, append(append([]string{}, DefaultIgnoreWatch...), "tmp/**", "*.log"), cfg.IgnorePatterns())
}

func TestConfig_ArgsRoundTrip(t *testing.T) {
	cwd := t.TempDir()
	original, err := parse([]string{
		"-p", "4321", "-a", "0.0.0.0", "-r", "/api", "--body-limit", "2048", "-T", "1500",
		"-P", "-L", "./logger.js", "-o", "-d", "--debug-port", "9999", "--ignore-watch", "tmp/**",
		"app.js", "--", "--flag", "value",
	}, Environment{}, cwd)
	require.NoError(t, err)

	// Conflicting environment values must not leak into the child.
	noisy := Environment{Port: "1", PrettyLogs: "false", Debug: "false", Watch: "true", Prefix: "/other"}
	child := original.WithoutWatch()
	reparsed, err := parse(child.Args(), noisy, cwd)
	require.NoError(t, err)

	child.origin, reparsed.origin = nil, nil
	assert.Equal(t, child, reparsed)
	assert.False(t, reparsed.Watch)
}

func TestLoadEnvironment_Dotenv(t *testing.T) {
	unsetForTest(t, "KICKSTART_PORT", "KICKSTART_PREFIX", "KICKSTART_ENV_FILE", "PORT")

	cwd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".env"), []byte("KICKSTART_PORT=4100\nKICKSTART_PREFIX=/from-file\n"), 0o600))
	t.Setenv("KICKSTART_PREFIX", "/from-env")

	env, err := LoadEnvironment(cwd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, ".env"), env.DotenvFile)
	assert.Equal(t, "4100", env.Port)
	assert.Equal(t, "/from-env", env.Prefix, "dotenv must not override the environment")

	cfg, err := parse([]string{"app.js"}, env, cwd)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, SourceDotenv, cfg.SourceOf(FlagPort))
	assert.Equal(t, SourceEnvironment, cfg.SourceOf(FlagPrefix))
}

func TestLoadEnvironment_ServicePortBeatsGenericPort(t *testing.T) {
	t.Setenv("KICKSTART_PORT", "4200")
	t.Setenv("PORT", "4300")

	env, err := LoadEnvironment(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "4200", env.Port)

	unsetForTest(t, "KICKSTART_PORT")
	env, err = LoadEnvironment(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "4300", env.Port)
}

func TestResolutionOrder(t *testing.T) {
	assert.Equal(t, []Source{SourceDefaults, SourceDotenv, SourceEnvironment, SourceFlags}, ResolutionOrder)
	assert.Equal(t, "flag", SourceFlags.String())
}

func TestIsPathSpecifier(t *testing.T) {
	tests := []struct {
		spec     string
		expected bool
	}{
		{"./app.js", true},
		{"../app", true},
		{"/srv/app.js", true},
		{"app.js", true},
		{"src/app", true},
		{"my-plugin", false},
		{"@acme/plugin", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsPathSpecifier(tt.spec), tt.spec)
	}
}

func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func portArgs(port int) []string {
	return []string{"--port", strconv.Itoa(port), "app.js"}
}
