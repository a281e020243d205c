// Command issue-token signs a development JWT for the grader. In production
// tokens come from the platform's identity provider.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/service"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Development Token ===")

	userID := prompt(reader, "Enter User ID: ")
	if userID == "" {
		fmt.Println("Error: User ID is required")
		return
	}

	tokenType := service.TokenType(strings.ToLower(prompt(reader, "Token type (student/admin) [student]: ")))
	if tokenType == "" {
		tokenType = service.TokenTypeStudent
	}
	if tokenType != service.TokenTypeStudent && tokenType != service.TokenTypeAdmin {
		fmt.Println("Error: token type must be student or admin")
		return
	}

	var permissions []string
	if tokenType == service.TokenTypeAdmin {
		raw := prompt(reader, fmt.Sprintf("Permissions, comma separated [%s]: ", service.PermissionGradeExams))
		if raw == "" {
			raw = service.PermissionGradeExams
		}
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				permissions = append(permissions, p)
			}
		}
	}

	ttl := 8 * time.Hour
	if raw := prompt(reader, "Lifetime [8h]: "); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			fmt.Println("Error: invalid lifetime")
			return
		}
		ttl = d
	}

	// The secret comes from JWT_SECRET unless the operator types another one.
	secret := cfg.JWTSecret
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("Signing secret (empty = JWT_SECRET): ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading secret")
			return
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			secret = s
		}
	}

	token, err := service.NewAuthService(secret).GenerateToken(userID, tokenType, permissions, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Info().
		Str("user_id", userID).
		Str("token_type", string(tokenType)).
		Strs("permissions", permissions).
		Dur("ttl", ttl).
		Msg("Token issued")
	fmt.Println(token)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
