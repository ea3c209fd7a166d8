// Command eventctl publishes a domain event onto the event queue, for local
// runs and for replaying events the platform failed to deliver.
//
//	eventctl enrollment:created '{"enrollment_id":1,"student":{"id":1,"display_name":"Sam"},...}'
//	eventctl tutor:assignment_changed - < payload.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"forumchat/internal/events"
	"forumchat/internal/queue"
)

type settings struct {
	RedisURL string `envconfig:"REDIS_URL" required:"true"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: eventctl <type> <payload-json | ->\n\ntypes:\n")
		for _, t := range events.Types {
			fmt.Fprintf(flag.CommandLine.Output(), "  %s\n", t)
		}
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	taskType, arg := flag.Arg(0), flag.Arg(1)
	if !slices.Contains(events.Types, taskType) {
		log.Fatalf("unknown event type %q", taskType)
	}

	payload := []byte(arg)
	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read payload: %v", err)
		}
		payload = b
	}
	if !json.Valid(payload) {
		log.Fatalf("payload is not valid JSON")
	}

	_ = godotenv.Load()
	var s settings
	if err := envconfig.Process("", &s); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	client, err := queue.NewAsynqClient(s.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect queue: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := events.Publish(ctx, client, taskType, json.RawMessage(payload))
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("published %s as task %s", taskType, id)
}
