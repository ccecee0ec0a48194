// Command token exchanges a Kite login request token for an access
// token and writes it to the token file, for operators rotating
// credentials without the running bot's /accesstoken endpoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"options_bot/internal/broker"
)

func run() error {
	v := viper.New()
	v.SetEnvPrefix("kite")
	v.AutomaticEnv()
	v.SetDefault("token_file", "config/access_token.txt")

	apiKey := v.GetString("api_key")
	apiSecret := v.GetString("api_secret")
	if apiKey == "" || apiSecret == "" {
		return errors.New("KITE_API_KEY and KITE_API_SECRET are required")
	}
	if len(os.Args) < 2 {
		return errors.New("usage: token <request_token>")
	}

	client := broker.NewClient(apiKey)
	token, err := client.GenerateSession(context.Background(), os.Args[1], apiSecret)
	if err != nil {
		return errors.Wrap(err, "exchange request token")
	}

	tokenFile := v.GetString("token_file")
	if err := os.WriteFile(tokenFile, []byte(token), 0o600); err != nil {
		return errors.Wrap(err, "write token file")
	}
	fmt.Printf("access token written to %s\n", tokenFile)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
