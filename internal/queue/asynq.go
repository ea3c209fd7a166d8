package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// AsynqClient implements Client on top of asynq and Redis.
type AsynqClient struct {
	client *asynq.Client
}

var _ Client = (*AsynqClient)(nil)

func NewAsynqClient(redisURL string) (*AsynqClient, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &AsynqClient{client: asynq.NewClient(opt)}, nil
}

func (a *AsynqClient) Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), asynqOptions(opts)...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func asynqOptions(opts []EnqueueOption) []asynq.Option {
	var res []asynq.Option
	for _, op := range opts {
		if op.Queue != "" {
			res = append(res, asynq.Queue(op.Queue))
		}
		if op.MaxRetry > 0 {
			res = append(res, asynq.MaxRetry(op.MaxRetry))
		}
	}
	return res
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

// AsynqServer implements Server on top of asynq.
type AsynqServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

var _ Server = (*AsynqServer)(nil)

// NewAsynqServer builds a server consuming the weighted queues.
func NewAsynqServer(redisURL string, concurrency int, queues map[string]int) (*AsynqServer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	if len(queues) == 0 {
		queues = map[string]int{"default": 1}
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("queue: task %s failed: %v", task.Type(), err)
		}),
	})
	return &AsynqServer{server: srv, mux: asynq.NewServeMux()}, nil
}

func (s *AsynqServer) Register(taskType string, h Handler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, Task{Type: t.Type(), Payload: t.Payload()})
	})
}

func (s *AsynqServer) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// ErrSkipRetry marks a task failure that retrying cannot fix, such as an
// undecodable payload.
var ErrSkipRetry = asynq.SkipRetry
