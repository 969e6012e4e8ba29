// Package main is a smoke-test utility that verifies the gateway's HTTP
// surface is reachable and returning valid responses. It issues a real HTTP
// request to the health endpoint and prints the status code and response body,
// making it useful for quick post-deployment checks without needing external
// tooling like curl or a full integration test suite.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	base := os.Getenv("GATEWAY_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	resp, err := http.Get(base + "/health")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response:\n%s\n", string(body))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
