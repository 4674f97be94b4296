package main

import (
	"context"
	"os"
	"strings"

	"github.com/agentuity/go-recommend/recommend"
	"github.com/agentuity/go-recommend/sys"
	"github.com/agentuity/go-recommend/tui"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [text...]",
	Short: "Ask for recommendations once",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup(cmd, true)
		defer sys.RecoverPanic(log)
		user, _ := cmd.Flags().GetString("user")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-sys.CreateShutdownChannel()
			cancel()
		}()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			sys.Exit("%s", err)
		}
		defer a.close()

		var (
			res  *recommend.Result
			rerr error
		)
		tui.ShowSpinner(ctx, "Finding tracks...", func() {
			res, rerr = a.service.Recommend(ctx, user, strings.Join(args, " "))
		})
		if tui.HasTTY && !asJSON {
			renderPretty(os.Stdout, res, rerr)
			return
		}
		render(os.Stdout, "", res, rerr, asJSON)
	},
}

func init() {
	askCmd.Flags().String("user", "cli", "user id for rate limiting")
	askCmd.Flags().Bool("json", false, "print the result as JSON")
}
