package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/client"
	"github.com/robolab/roverhub/pkg/domain"
)

func main() {
	urls := flag.String("urls", "ws://localhost:8765/", "comma-separated candidate websocket URLs, tried in order")
	topics := flag.String("topics", "/stt/transcript,/llm/response", "comma-separated topics to follow")
	serviceID := flag.String("service", "", "optional service id for this connection")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "pretty"})

	options := client.DefaultOptions()
	options.Logger = logger
	options.ServiceID = *serviceID
	options.OnGap = func(topic string, resumedAt uint64) {
		logger.Warn("history gap", "topic", topic, "resumed_at", resumedAt)
	}

	for _, raw := range strings.Split(*urls, ",") {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			logger.Error("invalid url", "url", raw, "error", err)
			os.Exit(1)
		}
		options.CandidateURLs = append(options.CandidateURLs, *u)
	}

	c := client.New(options)
	if err := c.Connect(); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	for _, topic := range strings.Split(*topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if err := c.Subscribe(topic, func(msg domain.Message) {
			fmt.Printf("[%s] #%d %s %s\n", msg.Topic, msg.Sequence, msg.Source, string(msg.Payload))
		}); err != nil {
			logger.Error("subscribe failed", "topic", topic, "error", err)
			os.Exit(1)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
}
