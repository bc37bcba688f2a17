// wrench-goal triggers one detection on a node and prints the region of
// interest once the next frame has been seen.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-wrench/internal/config"
	"github.com/teslashibe/go-wrench/internal/log"
	"github.com/teslashibe/go-wrench/pkg/web"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

func main() {
	_ = godotenv.Load()

	node := flag.String("node", config.String("NODE_HTTP", "http://localhost:8080"), "Node base URL")
	id := flag.String("id", "", "Goal ID (generated by the node when empty)")
	wait := flag.Duration("wait", 10*time.Second, "How long to wait for the result")
	flag.Parse()

	log.Init(config.String("LOG_LEVEL", "info"))
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := web.NewClient(*node, *wait+10*time.Second)

	info, err := client.SendGoal(ctx, *id, *wait)
	if err != nil {
		logger.Error("goal failed", "error", err)
		os.Exit(1)
	}

	switch info.Status {
	case wrench.StatusSucceeded:
		logger.Info("wrench found", "goal_id", info.ID, "frame_seq", info.Result.FrameSeq)
		for i, p := range info.Result.ROI {
			fmt.Printf("%d: (%g, %g, %g)\n", i, p.X, p.Y, p.Z)
		}
	case wrench.StatusAborted:
		logger.Error("goal aborted", "goal_id", info.ID)
		os.Exit(1)
	default:
		logger.Warn("no frame arrived in time; goal is still pending", "goal_id", info.ID, "status", info.Status)
		os.Exit(2)
	}
}
