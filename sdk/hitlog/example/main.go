package main

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/coffersTech/hitlog/sdk/hitlog"
)

func main() {
	logs := hitlog.NewClient(hitlog.Options{
		ServerURL: "http://localhost:5000",
		Endpoint:  hitlog.LogEndpoint,
	})
	hits := hitlog.NewClient(hitlog.Options{
		ServerURL:  "http://localhost:5000",
		Endpoint:   hitlog.HitmapEndpoint,
		InstanceID: logs.InstanceID(),
	})
	defer hits.Shutdown(context.Background())
	defer logs.Shutdown(context.Background())

	logger := slog.New(hitlog.NewHandler(logs, "go-example-service", nil))
	logger.Info("Hello from Go SDK", "user_id", 42, "status", "active")
	logger.Warn("This is a warning", "retry_count", 3)

	rec := hitlog.NewHitRecorder(hits, 0)
	for i := 0; i < 50; i++ {
		rec.Record(rand.Float64()*800, rand.Float64()*600)
	}
	logger.Info("hits recorded", "near_center", rec.CountNear(400, 300, 100))
}
