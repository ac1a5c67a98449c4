// presencectl joins a voice channel from the terminal and prints who is in
// it, as seen by the audio engine and by the shared presence record.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	"github.com/dkeye/voicepresence/internal/adapters/auth"
	"github.com/dkeye/voicepresence/internal/adapters/sfuclient"
	"github.com/dkeye/voicepresence/internal/adapters/store"
	"github.com/dkeye/voicepresence/internal/app/presence"
	"github.com/dkeye/voicepresence/internal/config"
	"github.com/dkeye/voicepresence/internal/domain"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
		token      = pflag.StringP("token", "t", os.Getenv("VOICE_TOKEN"), "access token")
		channel    = pflag.String("channel", "", "channel to join; empty lets the server pick")
		dsn        = pflag.String("dsn", "", "presence store DSN, overrides client.store_dsn")
		signalURL  = pflag.String("signal", "", "signalling url, overrides client.signal_url")
	)
	pflag.Parse()

	config.SetupLogger("info")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogger(cfg.LogLevel)
	if *dsn != "" {
		cfg.Client.StoreDSN = *dsn
	}
	if *signalURL != "" {
		cfg.Client.SignalURL = *signalURL
	}
	if *token == "" {
		log.Fatal().Msg("no access token; pass --token or set VOICE_TOKEN")
	}

	user, err := auth.NewSession(*token)
	if err != nil {
		log.Fatal().Err(err).Msg("bad access token")
	}

	st, err := store.Open(cfg.Client.StoreDSN, store.Options{
		WatchInterval: cfg.Client.WatchInterval,
		Logger:        log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open presence store")
	}
	defer st.Close()

	engine := sfuclient.New(sfuclient.Options{
		SignalURL:   cfg.Client.SignalURL,
		ICEServers:  cfg.STUNURLs,
		EventBuffer: cfg.Client.EventBuffer,
		Logger:      log.Logger,
	})
	rec := presence.New(presence.Deps{
		Engine:         engine,
		Presence:       st,
		Identities:     st,
		Profiles:       st,
		Users:          user,
		Logger:         log.Logger,
		BackendTimeout: cfg.Client.BackendTimeout,
	})
	defer rec.Destroy()

	if err := rec.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("initialize")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg conc.WaitGroup
	defer wg.Wait()
	defer cancel()
	wg.Go(func() { watchState(ctx, rec, st) })
	wg.Go(func() { watchParticipants(ctx, rec) })

	rec.JoinChannel(domain.ChannelID(*channel), user.Token())

	lines := make(chan string)
	go readLines(lines)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("interrupted")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(rec, user, line); quit {
				return
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// run executes one stdin command and reports whether to quit.
func run(rec *presence.Reconciler, user *auth.Session, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "mute":
		rec.ToggleLocalAudioMute()
	case "leave":
		rec.LeaveChannel()
	case "join":
		ch := rec.Channel()
		if len(fields) > 1 {
			ch = domain.ChannelID(fields[1])
		}
		rec.JoinChannel(ch, user.Token())
	case "who":
		printTable(rec.Participants())
	case "quit", "exit":
		return true
	default:
		fmt.Println("commands: join [channel] | leave | mute | who | quit")
	}
	return false
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// watchState logs state changes and follows the shared presence record of
// whichever channel is joined.
func watchState(ctx context.Context, rec *presence.Reconciler, st *store.Store) {
	var stopWatch context.CancelFunc
	defer func() {
		if stopWatch != nil {
			stopWatch()
		}
	}()
	for s := range rec.WatchState(ctx) {
		log.Info().Str("module", "presencectl").Stringer("state", s).Str("channel", string(rec.Channel())).Msg("state")
		switch {
		case s == domain.Connected && stopWatch == nil:
			var wctx context.Context
			wctx, stopWatch = context.WithCancel(ctx)
			go watchPresence(wctx, st, rec.Channel())
		case s != domain.Connected && stopWatch != nil:
			stopWatch()
			stopWatch = nil
		}
	}
}

func watchPresence(ctx context.Context, st *store.Store, channel domain.ChannelID) {
	records, err := st.WatchPresence(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("module", "presencectl").Msg("watch presence")
		return
	}
	for rec := range records {
		log.Info().Str("module", "presencectl").Str("channel", string(rec.ChannelID)).
			Interface("participants", rec.Participants).Msg("presence record")
	}
}

func watchParticipants(ctx context.Context, rec *presence.Reconciler) {
	for table := range rec.WatchParticipants(ctx) {
		printTable(table)
	}
}

func printTable(table domain.ParticipantTable) {
	rows := table.Sorted()
	fmt.Printf("%d in channel\n", len(rows))
	for _, p := range rows {
		name := p.DisplayName
		if !p.Resolved() {
			name = "(resolving)"
		}
		mute := ""
		if p.Muted {
			mute = " [muted]"
		}
		fmt.Printf("  %4d  %s%s\n", p.UID, name, mute)
	}
}
