// Package main is a diagnostic tool for testing database connectivity and
// inspecting live gateway data. It connects to the database, summarises the
// registered services and their authorization edges, and prints the result to
// stdout. The binary exits with a non-zero code on any failure so it can be
// embedded in health checks or CI/CD pipeline steps to gate deployments on a
// reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "gateway"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=gateway password=%s dbname=apigateway sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("=== SERVICES ===")
	rows, err := db.Query("SELECT id, api_name, version, forward_url, active FROM services ORDER BY api_name, version")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	serviceCount := 0
	for rows.Next() {
		var id, apiName, version, forwardURL string
		var active bool
		if err := rows.Scan(&id, &apiName, &version, &forwardURL, &active); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		fmt.Printf("  %s/%s -> %s (active=%v, id=%s)\n", apiName, version, forwardURL, active, id)
		serviceCount++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Row iteration failed: %v", err)
	}
	fmt.Printf("Total: %d service(s)\n\n", serviceCount)

	fmt.Println("=== ROLES ===")
	var roleCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM roles").Scan(&roleCount); err != nil {
		log.Fatalf("Role count failed: %v", err)
	}
	var serviceEdges, userEdges int
	if err := db.QueryRow("SELECT COUNT(*) FROM service_roles").Scan(&serviceEdges); err != nil {
		log.Fatalf("Service edge count failed: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM user_roles").Scan(&userEdges); err != nil {
		log.Fatalf("User edge count failed: %v", err)
	}
	fmt.Printf("Total: %d role(s), %d service edge(s), %d user edge(s)\n\n", roleCount, serviceEdges, userEdges)

	fmt.Println("=== USERS ===")
	var userCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
		log.Fatalf("User count failed: %v", err)
	}
	fmt.Printf("Total: %d user(s)\n", userCount)

	if serviceCount == 0 {
		fmt.Println("\nWARNING: no services registered; all forwarded requests will 404")
		os.Exit(1)
	}
}
