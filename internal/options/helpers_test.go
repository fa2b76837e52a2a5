package options

import (
	"errors"
	"io"

	"github.com/spf13/pflag"

	"kickstart/internal/failure"
)

var errHelp = errors.New("help requested")

// parse parses argv the way the start command does and resolves it
// against env.
func parse(argv []string, env Environment, cwd string) (Config, error) {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	RegisterFlags(fs)
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Config{}, errHelp
		}
		return Config{}, failure.Invalid("%v", err)
	}
	return Resolve(fs, env, cwd)
}
