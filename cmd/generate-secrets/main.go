package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/coachconnect/booking-engine/internal/utils"
)

func main() {
	size := flag.Int("bytes", 32, "random bytes per secret")
	flag.Parse()

	if *size < 32 {
		log.Fatalf("Refusing to generate secrets shorter than 32 bytes")
	}

	jwtSecret, err := utils.GenerateSecret(*size)
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("# Add these to your .env file or deployment secrets")
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Println("# PAYMENT_SECRET_KEY comes from the payment provider dashboard")
}
