package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/edukita/proctor-backend/internal/config"
	"github.com/edukita/proctor-backend/internal/service"
)

// mint-token signs a development JWT with the shared platform secret.
// Production tokens come from the core platform; this exists so local
// and e2e testing does not need the platform running.
func main() {
	var (
		tokenType string
		userID    string
		perms     string
	)
	flag.StringVar(&tokenType, "type", "user", "Token type: user or instructor")
	flag.StringVar(&userID, "user-id", "", "User ID to embed in the token")
	flag.StringVar(&perms, "perms", service.PermissionProctoringReview, "Comma-separated permissions (instructor only)")
	flag.Parse()

	if userID == "" {
		log.Fatal("-user-id is required")
	}

	cfg := config.Load()
	authService := service.NewAuthService(cfg)

	var (
		token string
		err   error
	)
	switch tokenType {
	case "user":
		token, err = authService.GenerateUserToken(userID)
	case "instructor":
		var permissions []string
		for _, p := range strings.Split(perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				permissions = append(permissions, p)
			}
		}
		token, err = authService.GenerateInstructorToken(userID, permissions)
	default:
		log.Fatalf("Unknown token type: %s (want user or instructor)", tokenType)
	}
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(token)
}
