package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"pairchat/backend/internal/auth"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
	"strconv"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  migrate                            create or update the chat tables
  token <user_id>                    issue a bearer token for a user
  pair <space_id> <user_a> <user_b>  put two users in the same space
  history <user_id> [size]           print the latest messages of a user's conversation
                                     (reads CHAT_STORE; stop the server first for badger)`

var (
	errUsage      = errors.New("usage")
	errDSNMissing = errors.New("DATABASE_DSN is not set")
)

func main() {
	// Each command checks the settings it needs; token must work without a database.
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}

	switch args[0] {
	case "token":
		if len(args) != 2 {
			return errUsage
		}
		userID, err := parseID(args[1])
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		token, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL).Issue(userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, token)
		return nil

	case "migrate":
		if len(args) != 1 {
			return errUsage
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		if err := storage.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintln(out, "Migrations complete.")
		return nil

	case "pair":
		if len(args) != 4 {
			return errUsage
		}
		var ids [3]int64
		for i, raw := range args[1:] {
			id, err := parseID(raw)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		if ids[1] == ids[2] {
			return fmt.Errorf("%w: cannot pair user %d with itself", storage.ErrInvalidPair, ids[1])
		}
		return pair(ctx, cfg, ids[0], ids[1], ids[2], out)

	case "history":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		userID, err := parseID(args[1])
		if err != nil {
			return err
		}
		size := 0
		if len(args) == 3 {
			if size, err = strconv.Atoi(args[2]); err != nil || size <= 0 {
				return fmt.Errorf("invalid size %q: must be a positive integer", args[2])
			}
		}
		return history(ctx, cfg, userID, size, out)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func pair(ctx context.Context, cfg config.Config, spaceID, userA, userB int64, out io.Writer) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	if err := storage.NewSpaceResolver(db).Pair(ctx, spaceID, userA, userB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Users %d and %d now share space %d.\n", userA, userB, spaceID)

	if cfg.RedisAddr == "" {
		return nil
	}
	// Running servers cache partner lookups; drop the stale entries.
	rdb, err := storage.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		fmt.Fprintln(out, "Warning: partner cache not invalidated:", err)
		return nil
	}
	defer rdb.Close()

	cache := storage.NewCachedResolver(nil, rdb, cfg.PartnerCacheTTL, logs.GetLoggerFromString(cfg.LogLevel))
	for _, userID := range []int64{userA, userB} {
		if err := cache.Invalidate(ctx, userID); err != nil {
			fmt.Fprintln(out, "Warning: partner cache not invalidated:", err)
		}
	}
	return nil
}

func history(ctx context.Context, cfg config.Config, userID int64, size int, out io.Writer) error {
	log := logs.GetLoggerFromString(cfg.LogLevel)

	var db *gorm.DB
	if cfg.DatabaseDSN != "" {
		var err error
		if db, err = openDB(cfg); err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	}

	store, release, err := openHistoryStore(cfg, db, log)
	if err != nil {
		return err
	}
	defer release()

	resolver, err := openHistoryResolver(cfg, db)
	if err != nil {
		return err
	}

	service := chathub.NewService(store, resolver, nil, log)
	if cfg.HistoryDefaultSize > 0 {
		service.DefaultHistorySize = cfg.HistoryDefaultSize
	}
	if cfg.HistoryMaxSize > 0 {
		service.MaxHistorySize = cfg.HistoryMaxSize
	}

	msgs, err := service.GetHistory(ctx, userID, 0, size)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No messages for user %d.\n", userID)
		return nil
	}
	printHistory(out, msgs)
	return nil
}

// openHistoryStore opens the message store named by CHAT_STORE. A badger
// directory can only be read while the server holding it is stopped.
func openHistoryStore(cfg config.Config, db *gorm.DB, log *slog.Logger) (storage.MessageStore, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		if db == nil {
			return nil, nil, errDSNMissing
		}
		return storage.NewGormStore(db), func() {}, nil

	case config.StoreBadger:
		if cfg.BadgerPath == "" {
			return nil, nil, errors.New("BADGER_PATH is not set")
		}
		bdb, err := storage.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.NewBadgerStore(bdb, log)
		if err != nil {
			_ = bdb.Close()
			return nil, nil, err
		}
		return store, func() {
			_ = store.Close()
			_ = bdb.Close()
		}, nil

	case config.StoreMemory:
		return nil, nil, errors.New("the memory store keeps history only inside the server process")

	default:
		return nil, nil, fmt.Errorf("%w: %q", storage.ErrUnknownDriver, cfg.Store)
	}
}

// openHistoryResolver picks partners the same way the server does.
func openHistoryResolver(cfg config.Config, db *gorm.DB) (storage.PartnerResolver, error) {
	if db != nil {
		return storage.NewSpaceResolver(db), nil
	}
	pairs, err := storage.ParseStaticPairs(cfg.StaticPairs)
	if err != nil {
		return nil, err
	}
	return storage.NewStaticResolver(pairs...), nil
}

func printHistory(out io.Writer, msgs []models.ChatMessage) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Time", "From", "To", "Type", "Status", "Content"})
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

	for _, m := range msgs {
		table.Append([]string{
			strconv.FormatInt(m.ID, 10),
			m.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(m.FromUserID, 10),
			strconv.FormatInt(m.ToUserID, 10),
			m.Type,
			string(m.Status),
			preview(m),
		})
	}
	table.Render()
}

func preview(m models.ChatMessage) string {
	text := lo.FromPtr(m.Content)
	if text == "" {
		text = lo.FromPtr(m.MediaURL)
	}
	if r := []rune(text); len(r) > 40 {
		text = string(r[:40]) + "..."
	}
	return text
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		return nil, errDSNMissing
	}
	return storage.OpenPostgres(cfg.DatabaseDSN)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", raw)
	}
	return id, nil
}
