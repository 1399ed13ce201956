// Command admin-token mints an access token carrying the admin role, for
// operators calling the mutation, checksum repair and history purge endpoints.
// The token is signed with the configured auth.jwt_secret and printed to stdout.
//
// Usage:
//
//	admin-token [--subject=<uuid>] [--ttl=24h]
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/heartmarshall/dictsync-backend/internal/auth"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/pkg/ctxutil"
)

func main() {
	subjectFlag := flag.String("subject", "", "operator id to embed as the token subject (default: random)")
	ttlFlag := flag.Duration("ttl", 0, "token lifetime (default: auth.access_token_ttl)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	subject := uuid.New()
	if *subjectFlag != "" {
		subject, err = uuid.Parse(*subjectFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --subject %q: %v\n", *subjectFlag, err)
			os.Exit(1)
		}
	}

	ttl := cfg.Auth.AccessTokenTTL
	if *ttlFlag > 0 {
		ttl = *ttlFlag
	}

	token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, ttl).GenerateAccessToken(subject, ctxutil.RoleAdmin)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	fmt.Println(token)
}
