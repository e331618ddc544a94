package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/balatromm/rankbot/app/event"
	"github.com/balatromm/rankbot/app/matchmaker"
	"github.com/balatromm/rankbot/app/rating"
	"github.com/balatromm/rankbot/app/service"
	"github.com/balatromm/rankbot/app/store"
)

// Bot is a command to run discord matchmaking bot.
type Bot struct {
	Token             string        `long:"token"               env:"TOKEN"               description:"Discord bot token"`
	AdminIDs          []string      `long:"admin-id"            env:"ADMIN_IDS"           description:"Admin discord IDs"`
	GuildID           string        `long:"guild-id"            env:"GUILD_ID"            description:"Guild ID for role sync"`
	AnnounceChannelID string        `long:"announce-channel-id" env:"ANNOUNCE_CHANNEL_ID" description:"Channel for match announcements"`
	RankedRoleID      string        `long:"ranked-role-id"      env:"RANKED_ROLE_ID"      description:"Role granted above the rating threshold"`
	StoreLocation     string        `long:"loc"                 env:"LOCATION"            description:"Store location"`
	MatchInterval     time.Duration `long:"match-interval"      env:"MATCH_INTERVAL"      default:"2s" description:"Matchmaker tick interval"`

	CommonOpts
}

// Execute runs the command.
func (b Bot) Execute([]string) error {
	s, err := store.New(b.StoreLocation)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	disc := &event.Discord{
		Token:             b.Token,
		AdminIDs:          b.AdminIDs,
		GuildID:           b.GuildID,
		AnnounceChannelID: b.AnnounceChannelID,
		RankedRoleID:      b.RankedRoleID,
	}

	svc := &service.Service{
		Store:  s,
		Rating: rating.New(rating.DefaultConfig()),
		Notify: disc,
		Roles:  disc,
	}
	disc.Service = svc

	sched := &matchmaker.Scheduler{
		Store:    s,
		Matches:  svc,
		Interval: b.MatchInterval,
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() { // catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		sig := <-stop
		log.Printf("[WARN] caught signal: %s", sig)
		cancel(fmt.Errorf("caught signal: %s", sig))
	}()

	ewg, ctx := errgroup.WithContext(ctx)
	ewg.Go(func() error {
		log.Printf("[INFO] starting bot")
		return disc.Run(ctx)
	})
	ewg.Go(func() error {
		return sched.Run(ctx)
	})
	ewg.Go(func() error {
		<-ctx.Done()
		log.Printf("[INFO] stopping bot")
		return nil
	})

	if err := ewg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
