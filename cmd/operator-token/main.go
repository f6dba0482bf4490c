// operator-token mints a bearer token for the /internal/correlation routes.
//
// Usage (from backend directory):
//   API_SECRET=... go run ./cmd/operator-token -name ops -ttl 24h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

func main() {
	name := flag.String("name", "operator", "subject recorded in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	settings := config.LoadSettings()
	if settings.APISecret == "" {
		fmt.Fprintln(os.Stderr, "API_SECRET is not set.")
		os.Exit(1)
	}
	if *ttl <= 0 {
		fmt.Fprintln(os.Stderr, "-ttl must be positive.")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate([]byte(settings.APISecret), *name, utils.RoleOperator, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
