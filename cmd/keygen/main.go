package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/tjfontaine/polyglot-model-governor/internal/auth"
	"github.com/tjfontaine/polyglot-model-governor/internal/vault"
)

func main() {
	admin := flag.String("admin", "", "generate an admin API key for this actor instead of a vault key")
	flag.Parse()

	if *admin != "" {
		adminKey(*admin)
		return
	}

	key, err := vault.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	encoded := vault.EncodeKey(key)

	fmt.Printf("Vault key: %s\n", encoded)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  vault:\n")
	fmt.Printf("    key: \"%s\"\n", encoded)
	fmt.Println("\nor export it:")
	fmt.Printf("  export GOV_VAULT__KEY=%s\n", encoded)
	fmt.Println("\nSecrets sealed under one key cannot be read with another.")
}

func adminKey(actor string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	apiKey := "gov-" + hex.EncodeToString(b)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("Key Hash: %s\n", auth.HashAPIKey(apiKey))
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  server:\n")
	fmt.Printf("    admin_keys:\n")
	fmt.Printf("      - key_hash: \"%s\"\n", auth.HashAPIKey(apiKey))
	fmt.Printf("        actor: \"%s\"\n", actor)
	fmt.Println("\nSend it as: Authorization: Bearer <API Key>")
}
