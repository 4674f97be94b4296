package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentuity/go-recommend/recommend"
	"github.com/agentuity/go-recommend/sys"
	"github.com/agentuity/go-recommend/tui"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Read requests from stdin, one per line",
	Long: `Read requests from stdin, one per line, and answer them concurrently.

Lines starting with ':' are commands:
  :stats   pipeline, cache, limiter and resource statistics
  :quota   the current user's rate limit state
  :user ID switch the user id
  :quit    exit`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup(cmd, true)
		defer sys.RecoverPanic(log)
		user, _ := cmd.Flags().GetString("user")
		workers, _ := cmd.Flags().GetInt("workers")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-sys.CreateShutdownChannel()
			log.Info("shutting down")
			cancel()
		}()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			sys.Exit("%s", err)
		}
		a.start(ctx)
		defer a.close()

		if tui.HasTTY {
			tui.ClearScreen()
			fmt.Println(tui.Banner("recommend", "Describe what you want to hear, one request per line. Type :stats, :quota or :quit."))
		}

		runRepl(ctx, a, os.Stdin, os.Stdout, user, workers, asJSON)
	},
}

func init() {
	replCmd.Flags().String("user", "cli", "user id for rate limiting")
	replCmd.Flags().Int("workers", 4, "requests answered concurrently")
	replCmd.Flags().Bool("json", false, "print results as JSON lines")
}

// answer is either a recommendation or the text output of a ':' command.
type answer struct {
	prompt string
	result *recommend.Result
	text   string
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func runRepl(ctx context.Context, a *app, in io.Reader, out io.Writer, user string, workers int, asJSON bool) {
	if workers < 1 {
		workers = 1
	}
	answers := make(chan sys.Result[answer])
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for r := range answers {
			if r.IsErr(context.Canceled) {
				// shutting down, the caller already went away
				continue
			}
			ans, err := r.Unwrap()
			if ans.text != "" {
				io.WriteString(out, ans.text)
				continue
			}
			render(out, ans.prompt, ans.result, err, asJSON)
		}
	}()

	readCtx, stop := context.WithCancel(ctx)
	defer stop()
	p := pool.New().WithMaxGoroutines(workers)
	lines := readLines(readCtx, in)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, ":") {
				text, quit := a.command(line, &user)
				if quit {
					break loop
				}
				answers <- sys.Ok(answer{text: text})
				continue
			}
			uid := user
			p.Go(func() {
				defer sys.RecoverPanic(a.logger)
				res, err := a.service.Recommend(ctx, uid, line)
				answers <- sys.Result[answer]{Ok: answer{prompt: line, result: res}, Err: err}
			})
		}
	}
	p.Wait()
	close(answers)
	<-printed
}

// command runs a ':' line, returning its output and whether the repl
// should exit.
func (a *app) command(line string, user *string) (string, bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return "", true
	case ":user":
		if len(fields) > 1 {
			*user = fields[1]
		}
		return fmt.Sprintf("user: %s\n", *user), false
	case ":quota":
		s := a.service.UserStats(*user)
		return fmt.Sprintf("user %s: %d of %d left, %d burst tokens, window resets %s\n",
			*user, s.Remaining, a.config.RateLimiter.MaxRequests, s.BurstTokens, s.ResetAt.Format("15:04:05")), false
	case ":stats":
		stats := map[string]any{"service": a.service.Stats()}
		if a.monitor != nil {
			stats["resources"] = a.monitor.Last()
		}
		buf, err := yaml.Marshal(stats)
		if err != nil {
			return fmt.Sprintf("error: %s\n", err), false
		}
		return string(buf), false
	}
	return fmt.Sprintf("unknown command %s\n", fields[0]), false
}
