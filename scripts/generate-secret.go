// Package main is a development utility for generating a random JWT signing
// secret suitable for GWY_JWT_SECRET. It prints the secret plus a ready-to-use
// export line so developers can quickly configure a local gateway. Production
// deployments should provision the secret through their secret manager, not
// from a developer terminal.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 48)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("Generated JWT signing secret:")
	fmt.Println()
	fmt.Printf("  %s\n", secret)
	fmt.Println()
	fmt.Println("Export it before starting the server:")
	fmt.Println()
	fmt.Printf("  export GWY_JWT_SECRET=%s\n", secret)
}
