package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shravzzv/chatly/internal/config"
	"github.com/shravzzv/chatly/internal/database"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/quota"
	postgresrepo "github.com/shravzzv/chatly/internal/repository/postgres"
	"github.com/shravzzv/chatly/internal/service"
	"github.com/shravzzv/chatly/internal/storage"
	"github.com/shravzzv/chatly/internal/transport/feed"
	"github.com/shravzzv/chatly/pkg/logger"
	"github.com/shravzzv/chatly/pkg/validator"
)

// Minimal terminal client exercising the sync engine end to end:
// "/to <user-id>" opens a conversation, plain lines send, "/edit <id> <text>"
// edits, "/rm <id>" deletes, "/ls" prints previews.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	userID, err := uuid.Parse(cfg.LocalUserID)
	if err != nil {
		log.Fatal().Err(err).Msg("CHATLY_USER_ID must be a valid uuid")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect failed")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer rdb.Close()
	limiter := quota.NewRedisLimiter(rdb, quota.Limits{Media: cfg.DailyMediaLimit, AI: cfg.DailyAILimit})

	blobs, err := storage.NewS3Store(ctx, storage.S3Config{
		AccountID:       cfg.S3AccountID,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Bucket:          cfg.S3Bucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("blob store init failed")
	}

	messageRepo := postgresrepo.NewMessageRepo(pool)
	attachmentRepo := postgresrepo.NewAttachmentRepo(pool)

	attachments := service.NewAttachmentManager(attachmentRepo, blobs, log)
	projector := service.NewPreviewProjector(messageRepo, userID, log)
	store := service.NewMessageStore(messageRepo, attachments, limiter, projector, userID, log)

	var source feed.Source
	switch cfg.FeedDriver {
	case "amqp":
		amqpSource, err := feed.NewAMQPSource(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp feed init failed")
		}
		defer amqpSource.Close()
		source = amqpSource
	default:
		source = feed.NewWebsocketSource(cfg.FeedURL, cfg.FeedJWTSecret, userID, log)
	}

	router := service.NewEventRouter(store, projector, source, userID, log)
	go func() {
		if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()

	projector.LoadAll(ctx)
	printPreviews(projector)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":

		case line == "/ls":
			printPreviews(projector)

		case strings.HasPrefix(line, "/to "):
			partner, err := uuid.Parse(strings.TrimSpace(strings.TrimPrefix(line, "/to ")))
			if err != nil {
				fmt.Println("usage: /to <user-id>")
				break
			}
			if err := store.LoadForPartner(ctx, &partner); err != nil {
				log.Error().Err(err).Msg("load failed")
				break
			}
			for _, msg := range store.Messages() {
				printMessage(userID, msg)
			}

		case strings.HasPrefix(line, "/edit "):
			rest := strings.SplitN(strings.TrimPrefix(line, "/edit "), " ", 2)
			if len(rest) != 2 {
				fmt.Println("usage: /edit <message-id> <text>")
				break
			}
			id, err := uuid.Parse(rest[0])
			if err != nil {
				fmt.Println("usage: /edit <message-id> <text>")
				break
			}
			if errs := validator.ValidateEdit(rest[1]); errs.HasErrors() {
				fmt.Println(errs)
				break
			}
			if _, err := store.Edit(ctx, id, rest[1]); err != nil {
				log.Error().Err(err).Msg("edit failed")
			}

		case strings.HasPrefix(line, "/rm "):
			id, err := uuid.Parse(strings.TrimSpace(strings.TrimPrefix(line, "/rm ")))
			if err != nil {
				fmt.Println("usage: /rm <message-id>")
				break
			}
			if err := store.Delete(ctx, id); err != nil {
				log.Error().Err(err).Msg("delete failed")
			}

		case line == "/quit":
			return

		default:
			if errs := validator.ValidateSend(line, nil); errs.HasErrors() {
				fmt.Println(errs)
				break
			}
			if _, err := store.Send(ctx, service.SendInput{Text: line}); err != nil {
				if errors.Is(err, quota.ErrLimitExceeded) {
					fmt.Println("daily limit reached, upgrade to keep going")
				} else {
					log.Error().Err(err).Msg("send failed")
				}
			}
		}
		fmt.Print("> ")
	}
}

func printPreviews(projector *service.PreviewProjector) {
	previews := projector.Previews()
	partners := make([]uuid.UUID, 0, len(previews))
	for partner := range previews {
		partners = append(partners, partner)
	}
	sort.Slice(partners, func(i, j int) bool {
		return previews[partners[i]].UpdatedAt.After(previews[partners[j]].UpdatedAt)
	})
	for _, partner := range partners {
		p := previews[partner]
		prefix := ""
		if p.IsOwnMessage {
			prefix = "you: "
		}
		fmt.Printf("%s  %s%s  (%s)\n", partner, prefix, p.Text, p.UpdatedAt.Format("Jan 2 15:04"))
	}
}

func printMessage(localUserID uuid.UUID, msg domain.Message) {
	who := "them"
	if msg.SenderID == localUserID {
		who = "you"
	}
	text := ""
	if msg.Text != nil {
		text = *msg.Text
	} else if msg.Attachment != nil {
		text = "[" + msg.Attachment.FileName + "]"
	}
	fmt.Printf("%s  %s: %s\n", msg.ID, who, text)
}
