package event

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/balatromm/rankbot/app/service"
	"github.com/balatromm/rankbot/app/store"
	"github.com/bwmarrin/discordgo"
	"github.com/syohex/go-texttable"
	"golang.org/x/sync/errgroup"
)

// Discord is a handler for Discord commands.
type Discord struct {
	Token             string
	AdminIDs          []string
	GuildID           string
	AnnounceChannelID string
	RankedRoleID      string
	Service           *service.Service
	HandlerTimeout    time.Duration
	se                *discordgo.Session
}

// Run runs the Discord handler.
// Blocking call.
func (d *Discord) Run(ctx context.Context) error {
	if d.HandlerTimeout == 0 {
		d.HandlerTimeout = 5 * time.Second
	}

	se, err := discordgo.New(fmt.Sprintf("Bot %s", d.Token))
	if err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	d.se = se

	log.Printf("[INFO] opening discord session")
	if err := d.se.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	d.se.Identify.Intents = discordgo.IntentsGuildMessages
	d.se.AddHandler(d.onMessage)

	<-ctx.Done()

	log.Printf("[WARN] stopping bot with reason: %v", context.Cause(ctx))
	if err := d.se.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}

	return nil
}

// Announce posts a message to the configured announcement channel.
func (d *Discord) Announce(_ context.Context, text string) error {
	if d.AnnounceChannelID == "" {
		return nil
	}
	if _, err := d.se.ChannelMessageSend(d.AnnounceChannelID, text); err != nil {
		return fmt.Errorf("send announcement: %w", err)
	}
	return nil
}

// SyncRole grants or revokes the ranked role for a player.
func (d *Discord) SyncRole(_ context.Context, userID string, ranked bool) error {
	if d.GuildID == "" || d.RankedRoleID == "" {
		return nil
	}

	if ranked {
		if err := d.se.GuildMemberRoleAdd(d.GuildID, userID, d.RankedRoleID); err != nil {
			return fmt.Errorf("add ranked role: %w", err)
		}
		return nil
	}
	if err := d.se.GuildMemberRoleRemove(d.GuildID, userID, d.RankedRoleID); err != nil {
		return fmt.Errorf("remove ranked role: %w", err)
	}
	return nil
}

func (d *Discord) onMessage(s *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author.ID == s.State.User.ID {
		return // ignore messages from the bot
	}

	log.Printf("[DEBUG] received message from %s: %s", msg.ChannelID, msg.Content)

	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" || !strings.HasPrefix(msg.Content, "!") {
		return // do nothing
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.HandlerTimeout)
	defer cancel()

	ctx = context.WithValue(ctx, senderIDKey{}, msg.Author.ID)

	var command func(ctx context.Context, args []string) (reply string, err error)
	args := strings.Fields(msg.Content)[1:] // first word is the command itself

	switch content := strings.TrimSpace(msg.Content); {
	case strings.HasPrefix(content, "!join"):
		command = d.join
	case strings.HasPrefix(content, "!leave"):
		command = d.leave
	case strings.HasPrefix(content, "!queues"):
		command = d.queues
	case strings.HasPrefix(content, "!stat"):
		command = d.stat
	case strings.HasPrefix(content, "!report"):
		command = d.report
	case strings.HasPrefix(content, "!bans"):
		command = d.bans
	case strings.HasPrefix(content, "!createqueue") && d.isAdmin(msg.Author.ID):
		command = d.createQueue
	case strings.HasPrefix(content, "!lock") && d.isAdmin(msg.Author.ID):
		command = d.lock
	case strings.HasPrefix(content, "!bandeck") && d.isAdmin(msg.Author.ID):
		command = d.banDeck
	case strings.HasPrefix(content, "!multiplier") && d.isAdmin(msg.Author.ID):
		command = d.multiplier
	case strings.HasPrefix(content, "!ping"):
		command = d.ping
	case strings.HasPrefix(content, "!help"):
		command = d.help
	default:
		return // do nothing
	}

	replyTo := &discordgo.MessageReference{MessageID: msg.ID, ChannelID: msg.ChannelID}
	reply, err := command(ctx, args)
	if err != nil {
		log.Printf("[WARN] failed to execute command: %v", err)
		reply = "failed to execute command, check logs"
	}
	if _, err = s.ChannelMessageSendReply(msg.ChannelID, reply, replyTo); err != nil {
		log.Printf("[WARN] failed to send message: %v", err)
	}
}

func (d *Discord) join(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "usage: !join <queue>", nil
	}

	q, err := d.Service.Join(ctx, args[0], senderID(ctx))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("queue %q not found, see !queues", args[0]), nil
		}
		if errors.Is(err, service.ErrQueueLocked) {
			return fmt.Sprintf("queue %q is locked", args[0]), nil
		}
		return "", fmt.Errorf("join queue: %w", err)
	}

	return fmt.Sprintf("joined %s, searching for an opponent", q.Name), nil
}

func (d *Discord) leave(ctx context.Context, _ []string) (string, error) {
	if err := d.Service.Leave(ctx, senderID(ctx)); err != nil {
		return "", fmt.Errorf("leave queues: %w", err)
	}
	return "left all queues", nil
}

func (d *Discord) queues(ctx context.Context, _ []string) (string, error) {
	queues, err := d.Service.Store.Queues(ctx)
	if err != nil {
		return "", fmt.Errorf("list queues: %w", err)
	}

	if len(queues) == 0 {
		return "no queues configured", nil
	}

	tbl := &texttable.TextTable{}
	_ = tbl.SetHeader("Name", "Mode", "DefaultELO", "Locked")
	for _, q := range queues {
		_ = tbl.AddRow(
			q.Name,
			fmt.Sprintf("%dv%d", q.TeamSize, q.TeamSize),
			fmt.Sprintf("%.0f", q.DefaultELO),
			strconv.FormatBool(q.Locked),
		)
	}

	return "```\n" + tbl.Draw() + "\n```", nil
}

func (d *Discord) stat(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "usage: !stat <queue>", nil
	}

	q, err := d.Service.Store.QueueByName(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("queue %q not found, see !queues", args[0]), nil
		}
		return "", fmt.Errorf("get queue: %w", err)
	}

	players, err := d.Service.Store.QueueUsers(ctx, q.ID)
	if err != nil {
		return "", fmt.Errorf("list players: %w", err)
	}

	if len(players) == 0 {
		return "nobody played in this queue yet", nil
	}

	mu := &sync.Mutex{}
	tbl := &texttable.TextTable{}
	_ = tbl.SetHeader("Name", "ELO", "Peak", "Games", "Streak", "PeakStreak", "Volatility")

	ewg, ctx := errgroup.WithContext(ctx)
	for _, pl := range players {
		pl := pl
		ewg.Go(func() error {
			u, err := d.se.User(pl.UserID)
			if err != nil {
				log.Printf("[WARN] failed to get user %s: %v", pl.UserID, err)
				u = &discordgo.User{Username: pl.UserID}
			}

			mu.Lock()
			defer mu.Unlock()

			_ = tbl.AddRow(
				u.Username,
				fmt.Sprintf("%.1f", pl.ELO),
				fmt.Sprintf("%.1f", pl.PeakELO),
				strconv.Itoa(pl.GamesPlayed),
				strconv.Itoa(pl.WinStreak),
				strconv.Itoa(pl.PeakWinStreak),
				strconv.Itoa(pl.Volatility),
			)

			return nil
		})
	}

	if err := ewg.Wait(); err != nil {
		return "", fmt.Errorf("get usernames: %w", err)
	}

	return "```\n" + tbl.Draw() + "\n```", nil
}

func (d *Discord) report(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "usage: !report <matchID> <winning team #>", nil
	}

	matchID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "match ID must be a number", nil
	}
	team, err := strconv.Atoi(args[1])
	if err != nil {
		return "team must be a number", nil
	}

	results, err := d.Service.Report(ctx, matchID, team)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "match not found", nil
		}
		if errors.Is(err, service.ErrMatchResolved) {
			return "match already reported", nil
		}
		return "", fmt.Errorf("report match: %w", err)
	}

	var lines []string
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("<@%s>: %.1f -> %.1f (%+.1f)",
			r.PlayerID, r.OldRating, r.NewRating, r.Delta))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *Discord) bans(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "usage: !bans <queue>", nil
	}

	q, err := d.Service.Store.QueueByName(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("queue %q not found, see !queues", args[0]), nil
		}
		return "", fmt.Errorf("get queue: %w", err)
	}

	res, err := d.Service.GenerateBans(ctx, q.ID, nil)
	if err != nil {
		return "", fmt.Errorf("generate bans: %w", err)
	}

	var lines []string
	for _, tp := range res.Tuples {
		lines = append(lines, fmt.Sprintf("%s %s @ %s", tp.Emote, tp.Deck.Name, tp.Stake.Name))
	}
	reply := strings.Join(lines, "\n")
	if res.Partial {
		reply += "\n(ban list is shorter than usual, see logs)"
	}
	return reply, nil
}

func (d *Discord) createQueue(ctx context.Context, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: !createqueue <name> [defaultELO] [searchStart] [searchIncrement] [searchSpeed]", nil
	}

	q := store.Queue{
		Name:            args[0],
		TeamSize:        1,
		TeamCount:       2,
		SearchStart:     100,
		SearchIncrement: 50,
		SearchSpeed:     2,
		DefaultELO:      1000,
		TupleBanCount:   7,
	}

	numeric := []*float64{&q.DefaultELO, &q.SearchStart, &q.SearchIncrement}
	for i, arg := range args[1:] {
		if i >= len(numeric)+1 {
			break
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Sprintf("argument %q must be a number", arg), nil
		}
		if i < len(numeric) {
			*numeric[i] = v
		} else {
			q.SearchSpeed = int(v)
		}
	}

	if _, err := d.Service.Store.CreateQueue(ctx, q); err != nil {
		return "", fmt.Errorf("create queue: %w", err)
	}
	return fmt.Sprintf("queue %s created", q.Name), nil
}

func (d *Discord) lock(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "usage: !lock <queue>", nil
	}

	q, err := d.Service.Store.QueueByName(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("queue %q not found", args[0]), nil
		}
		return "", fmt.Errorf("get queue: %w", err)
	}

	q.Locked = !q.Locked
	if err := d.Service.Store.UpdateQueue(ctx, q); err != nil {
		return "", fmt.Errorf("update queue: %w", err)
	}
	return fmt.Sprintf("queue %s locked: %t", q.Name, q.Locked), nil
}

func (d *Discord) banDeck(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "usage: !bandeck <queue> <deckID>", nil
	}

	q, err := d.Service.Store.QueueByName(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("queue %q not found", args[0]), nil
		}
		return "", fmt.Errorf("get queue: %w", err)
	}

	deckID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "deck ID must be a number", nil
	}

	if err := d.Service.Store.BanDeck(ctx, q.ID, deckID); err != nil {
		return "", fmt.Errorf("ban deck: %w", err)
	}
	return fmt.Sprintf("deck %d banned in %s", deckID, q.Name), nil
}

func (d *Discord) multiplier(ctx context.Context, args []string) (string, error) {
	if len(args) != 4 {
		return "usage: !multiplier <queue> deck|stake <item> <value>", nil
	}

	q, err := d.Service.Store.QueueByName(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("queue %q not found", args[0]), nil
		}
		return "", fmt.Errorf("get queue: %w", err)
	}

	kind := args[1]
	if kind != "deck" && kind != "stake" {
		return "kind must be deck or stake", nil
	}

	value, err := strconv.ParseFloat(args[3], 64)
	if err != nil || value < 0 {
		return "value must be a non-negative number", nil
	}

	if err := d.Service.Store.SetMultiplier(ctx, q.ID, kind, args[2], value); err != nil {
		return "", fmt.Errorf("set multiplier: %w", err)
	}
	return fmt.Sprintf("%s multiplier for %s set to %g in %s", kind, args[2], value, q.Name), nil
}

func (d *Discord) isAdmin(discordID string) bool {
	for _, id := range d.AdminIDs {
		if discordID == id {
			return true
		}
	}
	return false
}

func (d *Discord) ping(context.Context, []string) (string, error) { return "pong!", nil }

func (d *Discord) help(context.Context, []string) (reply string, err error) {
	return `
!join <queue> - join the matchmaking queue
!leave - leave all queues
!queues - list configured queues
!stat <queue> - queue leaderboard
!report <matchID> <team#> - report a match result
!bans <queue> - roll a preview ban list for a queue
!createqueue <name> [defaultELO] [start] [increment] [speed] - admins only
!lock <queue> - admins only, toggle queue lock
!bandeck <queue> <deckID> - admins only
!multiplier <queue> deck|stake <item> <value> - admins only
!ping - pong!
!help - this message
	`, nil
}

type senderIDKey struct{}

func senderID(ctx context.Context) string {
	if v := ctx.Value(senderIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}
