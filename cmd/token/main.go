package main

import (
	"fmt"
	"log"

	"github.com/spf13/pflag"

	"github.com/seanblong/videorag/internal/auth"
	"github.com/seanblong/videorag/internal/config"
)

// Issues a signed student token for the API when auth is enabled.
func main() {
	fs := pflag.NewFlagSet("videorag-token", pflag.ExitOnError)
	id := fs.String("student-id", "", "Student identifier placed in the token subject")
	name := fs.String("student-name", "", "Student display name")
	class := fs.String("student-class", "", "Student class, e.g. 8B")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if cfg.Auth.JwtSecret == "" {
		log.Fatal("auth jwt secret is required (--auth-jwt-secret or VIDEORAG_AUTH_JWT_SECRET)")
	}

	a := auth.New(cfg.Auth.JwtSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, true)
	token, err := a.GenerateJWT(auth.Student{ID: *id, Name: *name, Class: *class})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
