package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind    string
	port    int
	prefix  string
	tlsCert string
	tlsKey  string

	logFile string
	verbose bool
	profile bool

	natsURL string

	hintSeconds int
	voteSeconds int
	maxPlayers  int

	ghostGrace       time.Duration
	lobbyIdleTimeout time.Duration
	gameMaxDuration  time.Duration
	janitorInterval  time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.hintSeconds < 5 {
		return fmt.Errorf("invalid --hint-seconds (minimum 5): %d", c.hintSeconds)
	}
	if c.voteSeconds < 10 {
		return fmt.Errorf("invalid --vote-seconds (minimum 10): %d", c.voteSeconds)
	}
	if c.maxPlayers < 3 || c.maxPlayers > 10 {
		return fmt.Errorf("invalid --max-players (must be between 3-10 inclusive): %d", c.maxPlayers)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("IMPOSTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "impostor",
		Short:         "A realtime coordination server for the impostor party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: IMPOSTOR_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: IMPOSTOR_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: IMPOSTOR_PREFIX)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: IMPOSTOR_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: IMPOSTOR_TLS_KEY)")
	fs.StringVar(&cfg.logFile, "log-file", "", "also log to a rotating file at this path (env: IMPOSTOR_LOG_FILE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: IMPOSTOR_VERBOSE)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: IMPOSTOR_PROFILE)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "publish room lifecycle events to this NATS server (env: IMPOSTOR_NATS_URL)")
	fs.IntVar(&cfg.hintSeconds, "hint-seconds", 30, "default seconds per hint turn (env: IMPOSTOR_HINT_SECONDS)")
	fs.IntVar(&cfg.voteSeconds, "vote-seconds", 45, "default seconds per voting window (env: IMPOSTOR_VOTE_SECONDS)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 8, "default room capacity (env: IMPOSTOR_MAX_PLAYERS)")
	fs.DurationVar(&cfg.ghostGrace, "ghost-grace", 2*time.Minute, "rejoin window after a disconnect (env: IMPOSTOR_GHOST_GRACE)")
	fs.DurationVar(&cfg.lobbyIdleTimeout, "lobby-idle-timeout", 30*time.Minute, "time before idle lobbies are closed (env: IMPOSTOR_LOBBY_IDLE_TIMEOUT)")
	fs.DurationVar(&cfg.gameMaxDuration, "game-max-duration", 2*time.Hour, "hard cap on in-progress game age (env: IMPOSTOR_GAME_MAX_DURATION)")
	fs.DurationVar(&cfg.janitorInterval, "janitor-interval", time.Minute, "interval between room sweeps (env: IMPOSTOR_JANITOR_INTERVAL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("impostor v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
