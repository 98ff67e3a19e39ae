// Command admintoken issues a signed admin token for the cache
// invalidation endpoints using JWT_ADMIN_SECRET from the environment.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aiox-platform/inferguard/internal/auth"
	"github.com/aiox-platform/inferguard/internal/config"
)

func main() {
	subject := flag.String("subject", "", "operator identity recorded as the token subject")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: admintoken -subject ops@example.com [-ttl 1h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if len(cfg.JWT.AdminSecret) < 32 {
		slog.Error("JWT_ADMIN_SECRET must be at least 32 characters")
		os.Exit(1)
	}

	mgr := auth.NewJWTManager(cfg.JWT.AdminSecret, cfg.JWT.Issuer, clockwork.NewRealClock())
	token, err := mgr.Generate(*subject, []string{auth.RoleAdmin}, *ttl)
	if err != nil {
		slog.Error("signing token", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
