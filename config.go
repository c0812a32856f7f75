/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/ouija/board"
	"github.com/Seednode/ouija/session"
)

type Config struct {
	bind           string
	minPlayers     int
	port           int
	prefix         string
	profile        bool
	roundDuration  time.Duration
	sessionTimeout time.Duration
	startFEN       string
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.roundDuration < 100*time.Millisecond {
		return fmt.Errorf("invalid round duration (must be at least 100ms): %s", c.roundDuration)
	}
	if c.minPlayers < 1 {
		return fmt.Errorf("invalid minimum player count (must be at least 1): %d", c.minPlayers)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}
	if c.startFEN != "" {
		p, err := board.ParseFEN(c.startFEN)
		if err != nil {
			return err
		}
		if term, _ := (board.Rules{}).Terminal(p); term != board.Ongoing {
			return fmt.Errorf("invalid start position (game is already over by %s): %s", term, c.startFEN)
		}
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// sessionConfig is the part of the configuration handed to every game.
func (c *Config) sessionConfig() session.Config {
	return session.Config{
		RoundDuration: c.roundDuration,
		MinPlayers:    c.minPlayers,
		StartFEN:      c.startFEN,
		Logf: func(format string, args ...any) {
			logf(c, format, args...)
		},
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("OUIJA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "ouija",
		Short:         "Chess played by a crowd: everyone votes, the most popular move is made.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: OUIJA_BIND)")
	fs.IntVar(&cfg.minPlayers, "min-players", session.DefaultMinPlayers, "connected players needed before a game starts (env: OUIJA_MIN_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: OUIJA_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: OUIJA_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: OUIJA_PROFILE)")
	fs.DurationVar(&cfg.roundDuration, "round-duration", session.DefaultRoundDuration, "time players have to vote on each move (env: OUIJA_ROUND_DURATION)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 0, "time finished games are kept before removal, 0 to keep forever (env: OUIJA_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.startFEN, "start-fen", "", "starting position for new games, in FEN (env: OUIJA_START_FEN)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: OUIJA_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: OUIJA_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: OUIJA_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: OUIJA_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("ouija v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
