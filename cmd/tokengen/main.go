// Command tokengen mints a workspace bearer token signed with the configured secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/pkg/jwtutil"
)

func main() {
	workspace := flag.String("workspace", "", "workspace id the token is scoped to")
	subject := flag.String("subject", "cli", "caller identity stored in the sub claim")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to auth.jwt_expire_minute")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
	}

	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, *workspace, *subject, lifetime)
	if err != nil {
		log.Fatalf("generate token failed: %v", err)
	}
	fmt.Println(token)
}
