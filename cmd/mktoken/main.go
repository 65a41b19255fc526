// mktoken mints a signed bearer token for local development and manual
// testing of the websocket handshake.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"chat-gateway/auth"
)

func main() {
	userID := flag.Int64("user-id", 1, "principal identifier")
	username := flag.String("username", "dev", "principal display name")
	secret := flag.String("secret", "", "JWT signing secret (same as the gateway's JWT_SECRET)")
	issuer := flag.String("issuer", "chat-gateway", "token issuer")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" {
		log.Fatal("missing -secret")
	}

	tokens := auth.NewTokenManager(*secret, *issuer, *ttl)
	token, err := tokens.Generate(*userID, *username)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
