// Command devtoken mints an access token for local testing.  Identity is
// owned by another system; this only signs the claims the engine reads.
//
//	go run ./cmd/devtoken -sub shopper-1 -role CUSTOMER
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/service-booking-engine/internal/config"
	"github.com/iliyamo/service-booking-engine/internal/middleware"
	"github.com/iliyamo/service-booking-engine/internal/utils"
)

func main() {
	_ = godotenv.Load()

	sub := flag.String("sub", "", "token subject (owner id)")
	role := flag.String("role", middleware.RoleCustomer, "CUSTOMER or PROVIDER")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to ACCESS_TOKEN_TTL_MIN")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fail("JWT_SECRET is not set")
	}
	if *sub == "" {
		fail("-sub is required")
	}
	r := strings.ToUpper(*role)
	if r != middleware.RoleCustomer && r != middleware.RoleProvider {
		fail("role must be CUSTOMER or PROVIDER")
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = config.AccessTTL()
	}

	tok, err := utils.NewAccessToken(secret, *sub, r, lifetime)
	if err != nil {
		fail(err.Error())
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "devtoken:", msg)
	os.Exit(2)
}
