package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"market-chat/auth"
	"market-chat/domain"
	"market-chat/projection"
	"market-chat/repositories"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
	JwtSecret      string `envconfig:"JWT_SECRET"`
	JwtIssuer      string `envconfig:"JWT_ISSUER" default:"market-chat"`
	// AUTH_TOKEN_DURATION is the lifetime of minted tokens
	AuthTokenDuration time.Duration `envconfig:"AUTH_TOKEN_DURATION" default:"24h"`
	// INSPECT_COLOURS enables colorized section headers
	Colours bool `envconfig:"INSPECT_COLOURS" default:"true"`
}

// Inspects the chat store offline. Examples:
//
//	badger_inspect -seed u1:Ada:Farmer      create or replace a profile
//	badger_inspect -mint u1                 print a token for u1
//	badger_inspect -user u1                 list the conversations of u1
//	badger_inspect -listing L7 -a u1 -b u2  print the conversation history
func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("Error while loading config: ", err)
	}

	dbPath := flag.String("db", cfg.BadgerFilepath, "Path to badger DB")
	seed := flag.String("seed", "", "Profile to create, as id:firstName:lastName")
	mint := flag.String("mint", "", "User id to mint a token for")
	user := flag.String("user", "", "User id whose conversations are listed")
	listing := flag.String("listing", "", "Listing id of the history to print")
	a := flag.String("a", "", "First participant of the history")
	b := flag.String("b", "", "Second participant of the history")
	limit := flag.Int("limit", repositories.DefaultHistoryLimit, "History page size")
	flag.Parse()

	if *mint != "" {
		if err := mintToken(cfg, *mint); err != nil {
			log.Fatal(err)
		}
		return
	}

	db, err := openDB(*dbPath, *seed == "")
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	users := repositories.NewUserRepository(db)
	messages := repositories.NewMessageRepository(db, logger)
	defer messages.Close()
	ctx := context.Background()

	switch {
	case *seed != "":
		err = seedUser(cfg, users, *seed)
	case *user != "":
		err = printConversations(ctx, cfg, projection.NewConversationAggregator(messages, logger), users, *user)
	case *listing != "" && *a != "" && *b != "":
		err = printHistory(ctx, cfg, messages, *listing, *a, *b, *limit)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func mintToken(cfg Config, userID string) error {
	tokens, err := auth.NewTokenIssuer(cfg.JwtSecret, cfg.JwtIssuer, cfg.AuthTokenDuration)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func seedUser(cfg Config, users repositories.IUserRepository, profileArg string) error {
	parts := strings.SplitN(profileArg, ":", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	profile, err := users.SaveUser(domain.UserProfile{ID: parts[0], FirstName: parts[1], LastName: parts[2]})
	if err != nil {
		return err
	}
	header(cfg, "Profile saved")
	table := newTable("ID", "First name", "Last name", "Created at")
	table.Append([]string{profile.ID, profile.FirstName, profile.LastName, profile.CreatedAt.Format(time.RFC3339)})
	table.Render()
	return nil
}

func printConversations(ctx context.Context, cfg Config, aggregator projection.IConversationAggregator, users repositories.IUserRepository, userID string) error {
	conversations, err := aggregator.Conversations(ctx, userID)
	if err != nil {
		return err
	}
	header(cfg, fmt.Sprintf("Conversations of %s (%d)", userID, len(conversations)))
	ids := make([]string, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.Counterpart)
	}
	profiles, err := users.GetUsers(ids...)
	if err != nil {
		return err
	}

	table := newTable("Listing", "Counterpart", "Name", "Unread", "Last at", "Last message")
	for _, c := range conversations {
		profile := profiles[c.Counterpart]
		table.Append([]string{
			c.ListingID,
			c.Counterpart,
			strings.TrimSpace(profile.FirstName + " " + profile.LastName),
			strconv.Itoa(c.UnreadCount),
			c.LastMessage.SentAt.Format("2006-01-02 15:04:05"),
			truncate(c.LastMessage.Body, 60),
		})
	}
	table.Render()
	return nil
}

func printHistory(ctx context.Context, cfg Config, messages repositories.IMessageRepository, listingID, a, b string, limit int) error {
	page, next, err := messages.History(ctx, repositories.HistoryQuery{
		ListingID:   listingID,
		UserID:      a,
		OtherUserID: b,
		Limit:       limit,
	})
	if err != nil {
		return err
	}
	header(cfg, fmt.Sprintf("History %s between %s and %s (%d)", listingID, a, b, len(page)))

	table := newTable("ID", "Sent at", "From", "To", "Read", "Message")
	for _, m := range page {
		table.Append([]string{
			m.ID.String(),
			m.SentAt.Format("2006-01-02 15:04:05.000"),
			m.Sender,
			m.Receiver,
			strconv.FormatBool(m.Read),
			truncate(m.Body, 80),
		})
	}
	table.Render()
	if next != nil {
		fmt.Printf("\nOlder messages: -before %s\n", *next)
	}
	return nil
}

func header(cfg Config, title string) {
	title = fmt.Sprintf("  ====== %s ======", title)
	if cfg.Colours {
		title = color.New(color.BgBlack, color.FgGreen).Render(title)
	}
	fmt.Println(title)
}

func newTable(columns ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(columns)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func openDB(path string, readOnly bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithReadOnly(readOnly)
	return badger.Open(opts)
}
