package http_test

import (
	"context"
	"fmt"
	"time"

	httpserver "github.com/Jarvis2021/gantry-sub000/internal/http"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/Jarvis2021/gantry-sub000/internal/pipeline"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
)

type queueOnly struct{ store mission.Store }

func (q queueOnly) Dispatch(ctx context.Context, prompt string, _ pipeline.Options) (string, error) {
	m, err := q.store.Create(ctx, prompt, nil)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	scrubber, err := secrets.New(nil)
	if err != nil {
		panic(err)
	}

	store := mission.NewMemoryStore()
	server, err := httpserver.NewServer(httpserver.Services{
		Pipeline: queueOnly{store: store},
		Missions: store,
	}, scrubber, logging.NewNop(), &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Println("shutdown error:", err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
