package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/mjhen/medstock/server/internal/auth"
)

// hashkey prints an argon2id hash for STOK_API_KEY_HASH. Without -key it
// generates a fresh key and prints it first.
func main() {
	key := flag.String("key", "", "api key to hash; generated when empty")
	flag.Parse()

	if *key == "" {
		generated, err := auth.GenerateAPIKey()
		if err != nil {
			log.Fatalf("generate api key: %v", err)
		}
		*key = generated
		fmt.Printf("key:  %s\n", generated)
	}

	hash, err := auth.HashAPIKey(*key)
	if err != nil {
		log.Fatalf("hash api key: %v", err)
	}
	fmt.Printf("hash: %s\n", hash)
}
