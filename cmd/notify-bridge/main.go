package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/events"
	"go.uber.org/zap"
)

// The notify bridge subscribes to deal events on Redis and
// forwards them to the external notifier (the messaging front), one HTTP
// call per affected party.

// notifyText renders the party-facing message for an event type.
var notifyText = map[string]string{
	events.EventDealCreated:         "Deal created. Deposit details are in your deal view.",
	events.EventDealLocked:          "Deposit confirmed, the deal is now funded.",
	events.EventDealDeadlineWarning: "The deal deadline has passed. A grace period is running.",
	events.EventPayoutAuthRequested: "A payout is ready. Confirm it with your one-time key.",
	events.EventDealCompleted:       "The deal is complete and funds have been paid out.",
	events.EventDealPayoutFailed:    "A payout step failed. Support has been notified.",
	events.EventDealDisputeOpened:   "A dispute was opened on your deal.",
	events.EventDealExpired:         "The deal expired.",
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notify-bridge started", zap.String("notifier", cfg.NotifierInternalURL))

	_ = subscriber.Subscribe(ctx, events.StreamDeals, func(event events.Event) {
		forward(cfg.NotifierInternalURL, event, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

// forward notifies each party named in the payload. Authorization requests
// go only to the party that holds the key.
func forward(baseURL string, event events.Event, log *zap.Logger) {
	text, ok := notifyText[event.Type]
	if !ok {
		return
	}
	if dealID, _ := event.Payload["deal_id"].(string); dealID != "" {
		text = fmt.Sprintf("[%s] %s", dealID, text)
	}

	recipients := partyKeys(event)
	for _, key := range recipients {
		partyID, _ := event.Payload[key].(string)
		if partyID == "" {
			continue
		}
		notify(baseURL, partyID, text, log)
	}
}

func partyKeys(event events.Event) []string {
	if event.Type == events.EventPayoutAuthRequested {
		return []string{"party_id"}
	}
	return []string{"buyer_id", "seller_id"}
}

func notify(baseURL, partyID, text string, log *zap.Logger) {
	body, _ := json.Marshal(map[string]any{
		"party_id": partyID,
		"text":     text,
	})

	url := fmt.Sprintf("%s/internal/notify", strings.TrimRight(baseURL, "/"))
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Warn("failed to forward notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("notifier returned non-200", zap.Int("status", resp.StatusCode))
	}
}
