package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/parley/internal/session"
	"github.com/user/parley/internal/store"
	"github.com/user/parley/internal/tokens"
	"github.com/user/parley/internal/types"
)

func init() {
	chatCmd.Flags().DurationVar(&chatWait, "wait", 5*time.Minute, "how long to wait for each reply")
	rootCmd.AddCommand(chatCmd)
}

var chatWait time.Duration

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent from the console",
	Long: `Opens a console conversation. Each line is stored as a message and
enqueued as an answer task; a running "parley serve" daemon picks it up
and this command prints the reply. Type /quit to end the session.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := st.Seed(ctx); err != nil {
		return fmt.Errorf("seed baseline rows: %w", err)
	}

	est, err := tokens.New(cfg.LLM.Encoding)
	if err != nil {
		return fmt.Errorf("create token estimator: %w", err)
	}
	mgr := session.NewManager(st, st, st, st, est)

	sourceID := "console"
	if u, err := user.Current(); err == nil && u.Username != "" {
		sourceID = u.Username
	}
	actor, err := mgr.EnsureActorLinked(ctx, "console", sourceID)
	if err != nil {
		return err
	}

	sessionID, roomID, err := mgr.StartSession(ctx, actor.ID, cfg.RoomName)
	if err != nil {
		return err
	}
	defer mgr.Close(context.Background(), sessionID)

	fmt.Println("Session started. Type /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		msgID, err := mgr.SaveTurn(ctx, actor, sessionID, roomID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			continue
		}
		input, _ := json.Marshal(map[string]string{"message_id": string(msgID)})
		taskID, err := st.EnqueueTask(ctx, store.TaskClassAnswerGeneration, input, store.DefaultPriority)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue failed: %v\n", err)
			continue
		}

		task, err := waitForTask(ctx, st, taskID, chatWait)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		if task.Status == types.TaskFailed {
			fmt.Fprintf(os.Stderr, "task failed [%s]: %s\n", task.ErrorModule, task.ErrorMessage)
			continue
		}

		var out struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(task.Output, &out); err != nil {
			fmt.Fprintf(os.Stderr, "unreadable task output: %v\n", err)
			continue
		}
		fmt.Println(out.Response)
	}

	fmt.Println("Session closed.")
	return scanner.Err()
}

// waitForTask polls until the task reaches a terminal status or the wait
// expires. The daemon is a separate process, so polling the shared store
// is the only signal available.
func waitForTask(ctx context.Context, st *store.Store, id types.TaskID, wait time.Duration) (*types.Task, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := st.GetTask(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("poll task: %w", err)
		}
		if task.Status.Terminal() {
			return task, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for task %s (is \"parley serve\" running?)", id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
