package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dmoroz/marketchat/internal/app"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (TOML)")
	chatFlag := flag.Int64("chat", 0, "chat id to follow on startup")
	flag.Parse()

	if *configFlag == "" {
		fmt.Fprintln(os.Stderr, "error: -config is required")
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{
			ConfigPath:   *configFlag,
			FollowChatID: *chatFlag,
		}),
	).Run()
}
