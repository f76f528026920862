// Command token-check runs a saved token set through the refresh pipeline
// against the configured identity provider and prints the outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/raine/reellytics-gateway/config"
	"github.com/raine/reellytics-gateway/internal/auth"
)

func main() {
	tokenFile := flag.String("file", "tokens.json", "token set JSON file")
	write := flag.Bool("write", false, "write the resolved token set back to the file")
	flag.Parse()

	fmt.Println("=== Checking token set ===")
	fmt.Println()

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ts, err := loadTokens(*tokenFile)
	if err != nil {
		fmt.Printf("Failed to load tokens: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	fmt.Printf("Loaded tokens from %s\n", *tokenFile)
	fmt.Printf("User: %s <%s>\n", ts.User.Name, ts.User.Email)
	fmt.Printf("Access token: %s\n", auth.Redact(ts.AccessToken))
	fmt.Printf("Expires: %s (%s)\n", ts.AccessTokenExpiresAt.Format(time.RFC3339), ts.State(now))
	if ts.IDToken != "" {
		if claims, err := auth.Introspect(ts.IDToken); err == nil {
			pretty, _ := json.MarshalIndent(claims.Payload, "", "  ")
			fmt.Printf("\nID token claims:\n%s\n", pretty)
		}
	}

	provider := cfg.Provider()
	fmt.Printf("\n--- Resolving with %s (%s) ---\n", provider.Name, provider.TokenURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pipeline := auth.NewPipeline(auth.NewRefresher(provider, nil))
	next, err := pipeline.Resolve(ctx, ts, auth.Callback{})
	if err != nil {
		fmt.Printf("Resolve failed: %v\n", err)
		os.Exit(1)
	}

	switch {
	case next.Error != "":
		fmt.Printf("Token set is unusable: %s\n", next.Error)
	case next.AccessToken != ts.AccessToken:
		fmt.Printf("Refreshed: %s, expires %s\n", auth.Redact(next.AccessToken), next.AccessTokenExpiresAt.Format(time.RFC3339))
		if next.RefreshToken != ts.RefreshToken {
			fmt.Println("Refresh token was rotated")
		}
	default:
		fmt.Printf("Still valid for %s\n", next.AccessTokenExpiresAt.Sub(now).Round(time.Second))
	}

	if *write && next != *ts {
		if err := saveTokens(*tokenFile, next); err != nil {
			fmt.Printf("Failed to save tokens: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved resolved tokens to %s\n", *tokenFile)
	}
}

func loadTokens(path string) (*auth.TokenSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ts auth.TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

func saveTokens(path string, ts auth.TokenSet) error {
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
